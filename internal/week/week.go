// Package week computes the ISO-8601 week used to partition persisted data.
package week

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Window is one ISO week, Monday through Sunday.
type Window struct {
	Year  int
	Week  int
	Start time.Time
	End   time.Time
}

// Current returns the window containing the wall-clock time.
func Current() Window {
	return At(time.Now())
}

// At returns the ISO week containing t, in t's location.
func At(t time.Time) Window {
	year, wk := t.ISOWeek()

	// time.Weekday counts from Sunday; ISO weeks start on Monday.
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	start := day.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7).Add(-time.Nanosecond)

	return Window{Year: year, Week: wk, Start: start, End: end}
}

// ID is the partition directory name, e.g. "2024-46".
func (w Window) ID() string {
	return fmt.Sprintf("%d-%d", w.Year, w.Week)
}

func (w Window) StartDate() string { return w.Start.Format(dateLayout) }

func (w Window) EndDate() string { return w.End.Format(dateLayout) }

func (w Window) String() string {
	return fmt.Sprintf("%s (%s..%s)", w.ID(), w.StartDate(), w.EndDate())
}
