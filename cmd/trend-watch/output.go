package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
	"github.com/kevinmichaelchen/trend-watch/internal/pipeline"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
	"github.com/kevinmichaelchen/trend-watch/internal/surrealdb"
	"github.com/kevinmichaelchen/trend-watch/internal/week"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
)

func writeReport(w io.Writer, rep *pipeline.Report) error {
	status := okColor.Sprint("ingested")
	if rep.Materialized {
		status = dimColor.Sprint("already materialized")
	}
	if _, err := fmt.Fprintf(w, "Week %s (%s): %s\n", rep.Window.ID(), rep.Window, status); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"Stage", "Done", "Skipped", "Failed"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	discovered := rep.Discovered[models.CategoryHot] + rep.Discovered[models.CategoryNew]
	data := [][]string{
		{"discover", strconv.Itoa(discovered), "", ""},
		{"detail", strconv.Itoa(rep.Fetched), strconv.Itoa(rep.Skipped), failed(rep.DetailFailed)},
		{"images", strconv.Itoa(rep.Images), "", failed(rep.ImageFailed)},
		{"summarize", strconv.Itoa(rep.Summarized), "", ""},
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if rep.SummaryErr != nil {
		_, err := fmt.Fprintf(w, "%s %v\n", warnColor.Sprint("Summarization stopped:"), rep.SummaryErr)
		return err
	}
	return nil
}

func failed(n int) string {
	if n == 0 {
		return "0"
	}
	return failColor.Sprint(n)
}

func writeWindow(w io.Writer, win week.Window, st *store.Store) error {
	state := warnColor.Sprint("not materialized")
	if st.Materialized(win) {
		state = okColor.Sprint("materialized")
	}
	_, err := fmt.Fprintf(w, "Week %s\n  %s → %s\n  %s\n  %s\n",
		win.ID(), win.StartDate(), win.EndDate(), st.WindowDir(win), state)
	return err
}

func writeStats(w io.Writer, win week.Window, stats []store.CategoryStats) error {
	if _, err := fmt.Fprintf(w, "Week %s (%s)\n", win.ID(), win); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"Category", "Records", "Summarized", "Images"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, s := range stats {
		summarized := strconv.Itoa(s.Summarized)
		if s.Summarized < s.Records {
			summarized = warnColor.Sprint(summarized)
		}
		data = append(data, []string{
			string(s.Category),
			strconv.Itoa(s.Records),
			summarized,
			strconv.Itoa(s.Images),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func writeIndexStats(w io.Writer, totals *surrealdb.Stats, windows []surrealdb.WindowCount) error {
	if _, err := fmt.Fprintf(w, "\nIndexed:    %d\nSummarized: %d\nEmbedded:   %d\n",
		totals.Total, totals.Summarized, totals.Embedded); err != nil {
		return err
	}
	if len(windows) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"Week", "Records"})

	var data [][]string
	for _, c := range windows {
		data = append(data, []string{c.Window, strconv.Itoa(c.Count)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func writeSearch(w io.Writer, query string, results []models.SearchResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No results found")
		return err
	}

	if _, err := fmt.Fprintf(w, "Top %d results for %q:\n\n", len(results), query); err != nil {
		return err
	}
	for i, r := range results {
		if _, err := fmt.Fprintf(w, "%d. %s  (%.3f)  ★ %d  %s\n   %s\n",
			i+1, okColor.Sprint(r.FullName), r.Score, r.Stars,
			dimColor.Sprintf("%s/%s", r.Window, r.Category), r.URL); err != nil {
			return err
		}
		if r.Summary != nil {
			if _, err := fmt.Fprintf(w, "   %s\n", *r.Summary); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
