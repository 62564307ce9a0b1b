// Package store persists repository records under weekly partitions:
//
//	{root}/{year}-{week}/{category}/{owner}_{name}/information.json
//	{root}/{year}-{week}/{category}/{owner}_{name}/images/image_<n>.<ext>
//	{root}/{year}-{week}/{category}/{owner}_{name}/images/.done
//	{root}/{year}-{week}/manifest.json
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
	"github.com/kevinmichaelchen/trend-watch/internal/week"
)

const (
	InfoFile     = "information.json"
	ManifestFile = "manifest.json"
	imagesDir    = "images"
	// imagesDone is written once a record's images are localized with no
	// failure worth retrying.
	imagesDone = ".done"
)

// Record is one persisted repository.
type Record struct {
	WindowID string
	Category models.Category
	Dir      string
	Path     string
	Detail   *models.RepoDetail
}

// Manifest marks a window whose discovery and detail pass completed.
type Manifest struct {
	Window      string                       `json:"window"`
	Start       string                       `json:"start"`
	End         string                       `json:"end"`
	CompletedAt time.Time                    `json:"completedAt"`
	Repos       map[models.Category][]string `json:"repos"`
}

type Store struct {
	root   string
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(root string, opts ...Option) *Store {
	s := &Store{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

func (s *Store) WindowDir(w week.Window) string {
	return filepath.Join(s.root, w.ID())
}

func (s *Store) CategoryDir(w week.Window, c models.Category) string {
	return filepath.Join(s.WindowDir(w), string(c))
}

func (s *Store) RepoDir(w week.Window, c models.Category, fullName string) string {
	return filepath.Join(s.CategoryDir(w, c), models.SanitizeName(fullName))
}

// EnsurePartitions creates the category directories of a window.
func (s *Store) EnsurePartitions(w week.Window) error {
	for _, c := range models.Categories() {
		if err := os.MkdirAll(s.CategoryDir(w, c), 0o755); err != nil {
			return fmt.Errorf("creating %s partition: %w", c, err)
		}
	}
	return nil
}

// Exists reports whether the category partition of a window exists.
func (s *Store) Exists(w week.Window, c models.Category) bool {
	return isDir(s.CategoryDir(w, c))
}

// Materialized reports whether every partition of the window exists and its
// detail pass finished.
func (s *Store) Materialized(w week.Window) bool {
	for _, c := range models.Categories() {
		if !s.Exists(w, c) {
			return false
		}
	}
	_, err := os.Stat(filepath.Join(s.WindowDir(w), ManifestFile))
	return err == nil
}

// Has reports whether a record is already persisted.
func (s *Store) Has(w week.Window, c models.Category, fullName string) bool {
	_, err := os.Stat(filepath.Join(s.RepoDir(w, c, fullName), InfoFile))
	return err == nil
}

// ImagesDone reports whether images were already localized for a record.
// An images directory without the marker is a partial attempt.
func (s *Store) ImagesDone(rec Record) bool {
	_, err := os.Stat(filepath.Join(rec.Dir, imagesDir, imagesDone))
	return err == nil
}

// MarkImagesDone records that a record's images need no further attempt.
func (s *Store) MarkImagesDone(rec Record) error {
	dir := filepath.Join(rec.Dir, imagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, imagesDone), nil, 0o644); err != nil {
		return fmt.Errorf("marking images of %s: %w", rec.Detail.FullName, err)
	}
	return nil
}

// Save writes the record for (w, c, d.FullName). A summary already stored
// for the record is carried over when d has none.
func (s *Store) Save(w week.Window, c models.Category, d *models.RepoDetail) (Record, error) {
	dir := s.RepoDir(w, c, d.FullName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("creating %s: %w", dir, err)
	}
	rec := Record{
		WindowID: w.ID(),
		Category: c,
		Dir:      dir,
		Path:     filepath.Join(dir, InfoFile),
		Detail:   d,
	}
	if !d.HasSummary() {
		if prev, err := Load(rec.Path); err == nil && prev.HasSummary() {
			d.SetSummary(*prev.Summary)
		}
	}
	if err := writeJSON(rec.Path, d); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns every record of a window, ordered by category then name.
// Records that cannot be read are logged and left out.
func (s *Store) List(w week.Window) ([]Record, error) {
	var records []Record
	for _, c := range models.Categories() {
		matches, err := filepath.Glob(filepath.Join(s.CategoryDir(w, c), "*", InfoFile))
		if err != nil {
			return nil, err
		}
		slices.Sort(matches)
		for _, p := range matches {
			d, err := Load(p)
			if err != nil {
				s.logger.Warn("skipping unreadable record", "window", w.ID(), "category", c, "path", p, "err", err)
				continue
			}
			records = append(records, Record{
				WindowID: w.ID(),
				Category: c,
				Dir:      filepath.Dir(p),
				Path:     p,
				Detail:   d,
			})
		}
	}
	return records, nil
}

// Load reads one information.json.
func Load(path string) (*models.RepoDetail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d models.RepoDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &d, nil
}

// SetSummary re-reads the stored record and writes it back with summary set.
// No other field is touched.
func (s *Store) SetSummary(rec Record, summary string) (*models.RepoDetail, error) {
	d, err := Load(rec.Path)
	if err != nil {
		return nil, err
	}
	d.SetSummary(summary)
	if err := writeJSON(rec.Path, d); err != nil {
		return nil, err
	}
	return d, nil
}

// MarkComplete writes the window manifest.
func (s *Store) MarkComplete(w week.Window, repos map[models.Category][]string) error {
	m := Manifest{
		Window:      w.ID(),
		Start:       w.StartDate(),
		End:         w.EndDate(),
		CompletedAt: time.Now().UTC(),
		Repos:       repos,
	}
	return writeJSON(filepath.Join(s.WindowDir(w), ManifestFile), m)
}

// ReadManifest returns the manifest of a window, or nil if it has none.
func (s *Store) ReadManifest(w week.Window) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.WindowDir(w), ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// CategoryStats summarises one partition on disk.
type CategoryStats struct {
	Category   models.Category
	Records    int
	Summarized int
	Images     int
}

func (s *Store) Stats(w week.Window) ([]CategoryStats, error) {
	records, err := s.List(w)
	if err != nil {
		return nil, err
	}
	byCat := map[models.Category]*CategoryStats{}
	out := make([]CategoryStats, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		byCat[c] = &CategoryStats{Category: c}
	}
	for _, r := range records {
		st := byCat[r.Category]
		st.Records++
		if r.Detail.HasSummary() {
			st.Summarized++
		}
		st.Images += countImages(filepath.Join(r.Dir, imagesDir))
	}
	for _, c := range models.Categories() {
		out = append(out, *byCat[c])
	}
	return out, nil
}

func countImages(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "image_") {
			n++
		}
	}
	return n
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
