package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/images"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
	"github.com/kevinmichaelchen/trend-watch/internal/pace"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
	"github.com/kevinmichaelchen/trend-watch/internal/week"
	"golang.org/x/sync/errgroup"
)

// Source discovers repositories and fetches their details.
type Source interface {
	FetchWeeklyTrending(ctx context.Context, limit int) ([]models.RepoSummary, error)
	FetchRecentPopular(ctx context.Context, limit int) ([]models.RepoSummary, error)
	FetchDetail(ctx context.Context, fullName string) (*models.RepoDetail, error)
}

type ImageLocalizer interface {
	Localize(ctx context.Context, fullName, readme, baseDir, branch string) (images.Result, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, fullName, description, readme string) (string, error)
}

// Indexer mirrors the records of a window somewhere searchable.
type Indexer interface {
	Index(ctx context.Context, windowID string, records []store.Record) error
}

type Options struct {
	SkipImages  bool
	SkipSummary bool
	SkipIndex   bool
	// Force re-runs discovery and re-fetches every detail even when the
	// window is already materialized.
	Force bool
}

// Report describes what one run did.
type Report struct {
	Window       week.Window
	Materialized bool
	Discovered   map[models.Category]int
	Fetched      int
	Skipped      int
	DetailFailed int
	Localized    int
	Images       int
	ImageFailed  int
	Summarized   int
	SummaryErr   error
}

func (r *Report) changed() bool {
	return r.Fetched > 0 || r.Summarized > 0
}

type Pipeline struct {
	source     Source
	localizer  ImageLocalizer
	summarizer Summarizer
	indexer    Indexer
	store      *store.Store

	trendingLimit int
	newLimit      int
	detailDelay   time.Duration
	summaryDelay  time.Duration

	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Pipeline)

func WithLimits(trending, recent int) Option {
	return func(p *Pipeline) {
		p.trendingLimit = trending
		p.newLimit = recent
	}
}

func WithDelays(detail, summary time.Duration) Option {
	return func(p *Pipeline) {
		p.detailDelay = detail
		p.summaryDelay = summary
	}
}

func WithIndexer(ix Indexer) Option { return func(p *Pipeline) { p.indexer = ix } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(src Source, loc ImageLocalizer, sum Summarizer, st *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:        src,
		localizer:     loc,
		summarizer:    sum,
		store:         st,
		trendingLimit: 5,
		newLimit:      5,
		detailDelay:   time.Second,
		summaryDelay:  3 * time.Second,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests the week containing the pipeline clock's current time.
// Per-item failures are logged and skipped; the returned error is set only
// for storage failures or cancellation.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	w := week.At(p.now())
	rep := &Report{Window: w, Discovered: map[models.Category]int{}}
	log := p.logger.With("window", w.ID())

	removed, err := images.CleanupVectorImages(p.store.Root())
	if err != nil {
		log.Warn("svg cleanup failed", "err", err)
	} else if removed > 0 {
		log.Info("removed svg images", "count", removed)
	}

	if !opts.Force && p.store.Materialized(w) {
		rep.Materialized = true
		log.Info("window already materialized, skipping discovery")
	} else {
		if err := p.ingest(ctx, w, opts, rep); err != nil {
			return rep, err
		}
	}

	if !opts.SkipImages {
		if err := p.localize(ctx, w, rep); err != nil {
			return rep, err
		}
	}

	if !opts.SkipSummary {
		if err := p.summarize(ctx, w, rep); err != nil {
			return rep, err
		}
	}

	if p.indexer != nil && !opts.SkipIndex && (rep.changed() || opts.Force) {
		p.index(ctx, w)
	}

	log.Info("run complete",
		"fetched", rep.Fetched,
		"images", rep.Images,
		"summarized", rep.Summarized)
	return rep, nil
}

// ingest runs DISCOVER and DETAIL. The manifest is written only when both
// discovery sources answered and every detail was persisted, so a partial
// pass is retried on the next run.
func (p *Pipeline) ingest(ctx context.Context, w week.Window, opts Options, rep *Report) error {
	seeds, complete := p.discover(ctx)
	for c, list := range seeds {
		rep.Discovered[c] = len(list)
	}

	if err := p.store.EnsurePartitions(w); err != nil {
		return err
	}

	names := map[models.Category][]string{}
	fetched := 0
	for _, c := range models.Categories() {
		names[c] = []string{}
		for _, seed := range seeds[c] {
			log := p.logger.With("stage", "detail", "category", c, "repo", seed.FullName)
			if !opts.Force && p.store.Has(w, c, seed.FullName) {
				rep.Skipped++
				names[c] = append(names[c], seed.FullName)
				log.Debug("already persisted")
				continue
			}

			if fetched > 0 {
				if err := pace.Sleep(ctx, p.detailDelay); err != nil {
					return err
				}
			}
			fetched++

			detail, err := p.source.FetchDetail(ctx, seed.FullName)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rep.DetailFailed++
				complete = false
				log.Warn("skipping repository", "err", err)
				continue
			}

			if _, err := p.store.Save(w, c, detail); err != nil {
				return err
			}
			rep.Fetched++
			names[c] = append(names[c], seed.FullName)
			log.Info("persisted", "stars", detail.Stars)
		}
	}

	if !complete {
		p.logger.Warn("detail pass incomplete, window stays open", "window", w.ID())
		return nil
	}
	return p.store.MarkComplete(w, names)
}

// discover fetches both sources concurrently. A failing source yields an
// empty list.
func (p *Pipeline) discover(ctx context.Context) (map[models.Category][]models.RepoSummary, bool) {
	var hot, recent []models.RepoSummary
	var hotErr, recentErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hot, hotErr = p.source.FetchWeeklyTrending(gCtx, p.trendingLimit)
		return nil
	})
	g.Go(func() error {
		recent, recentErr = p.source.FetchRecentPopular(gCtx, p.newLimit)
		return nil
	})
	_ = g.Wait()

	if hotErr != nil {
		p.logger.Warn("trending discovery failed", "stage", "discover", "category", models.CategoryHot, "err", hotErr)
		hot = nil
	}
	if recentErr != nil {
		p.logger.Warn("search discovery failed", "stage", "discover", "category", models.CategoryNew, "err", recentErr)
		recent = nil
	}
	p.logger.Info("discovered", "hot", len(hot), "new", len(recent))

	return map[models.Category][]models.RepoSummary{
		models.CategoryHot: hot,
		models.CategoryNew: recent,
	}, hotErr == nil && recentErr == nil
}

// localize downloads README images for every record not yet marked done.
// A record is marked only when its attempt left no failure worth retrying,
// so partial or interrupted attempts run again on the next invocation.
func (p *Pipeline) localize(ctx context.Context, w week.Window, rep *Report) error {
	records, err := p.store.List(w)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if p.store.ImagesDone(rec) {
			continue
		}
		d := rec.Detail
		log := p.logger.With("stage", "localize", "repo", d.FullName)

		res, err := p.localizer.Localize(ctx, d.FullName, d.Readme, rec.Dir, d.DefaultBranch)
		rep.Images += len(res.Images)
		rep.ImageFailed += len(res.Failed)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("image localization failed", "err", err)
			continue
		}
		rep.Localized++
		log.Info("images localized", "downloaded", len(res.Images), "failed", len(res.Failed))

		if res.Retryable() {
			log.Warn("images will be retried next run")
			continue
		}
		if err := p.store.MarkImagesDone(rec); err != nil {
			return err
		}
	}
	return nil
}

// summarize stops at the first summarizer failure; records already
// summarized keep their summary.
func (p *Pipeline) summarize(ctx context.Context, w week.Window, rep *Report) error {
	records, err := p.store.List(w)
	if err != nil {
		return err
	}

	calls := 0
	for _, rec := range records {
		d := rec.Detail
		if d.HasSummary() {
			continue
		}
		if calls > 0 {
			if err := pace.Sleep(ctx, p.summaryDelay); err != nil {
				return err
			}
		}
		calls++

		summary, err := p.summarizer.Summarize(ctx, d.FullName, d.DescriptionText(), d.Readme)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.SummaryErr = err
			p.logger.Error("summarization stopped", "stage", "summarize", "repo", d.FullName, "err", err)
			return nil
		}
		if _, err := p.store.SetSummary(rec, summary); err != nil {
			return err
		}
		rep.Summarized++
		p.logger.Info("summarized", "stage", "summarize", "repo", d.FullName)
	}
	return nil
}

func (p *Pipeline) index(ctx context.Context, w week.Window) {
	records, err := p.store.List(w)
	if err == nil {
		err = p.indexer.Index(ctx, w.ID(), records)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("index failed", "stage", "index", "window", w.ID(), "records", len(records), "err", err)
	}
}
