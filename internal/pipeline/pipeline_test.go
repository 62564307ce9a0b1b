package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/config"
	"github.com/kevinmichaelchen/trend-watch/internal/images"
	"github.com/kevinmichaelchen/trend-watch/internal/llm"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
	"github.com/kevinmichaelchen/trend-watch/internal/week"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct{ mock.Mock }

func (m *mockSource) FetchWeeklyTrending(ctx context.Context, limit int) ([]models.RepoSummary, error) {
	args := m.Called(ctx, limit)
	list, _ := args.Get(0).([]models.RepoSummary)
	return list, args.Error(1)
}

func (m *mockSource) FetchRecentPopular(ctx context.Context, limit int) ([]models.RepoSummary, error) {
	args := m.Called(ctx, limit)
	list, _ := args.Get(0).([]models.RepoSummary)
	return list, args.Error(1)
}

func (m *mockSource) FetchDetail(ctx context.Context, fullName string) (*models.RepoDetail, error) {
	args := m.Called(ctx, fullName)
	d, _ := args.Get(0).(*models.RepoDetail)
	return d, args.Error(1)
}

type mockLocalizer struct{ mock.Mock }

func (m *mockLocalizer) Localize(ctx context.Context, fullName, readme, baseDir, branch string) (images.Result, error) {
	args := m.Called(ctx, fullName, readme, baseDir, branch)
	return args.Get(0).(images.Result), args.Error(1)
}

type mockSummarizer struct{ mock.Mock }

func (m *mockSummarizer) Summarize(ctx context.Context, fullName, description, readme string) (string, error) {
	args := m.Called(ctx, fullName, description, readme)
	return args.String(0), args.Error(1)
}

type recordingIndexer struct {
	calls   int
	records []store.Record
}

func (r *recordingIndexer) Index(_ context.Context, _ string, records []store.Record) error {
	r.calls++
	r.records = records
	return nil
}

var wednesday = time.Date(2024, 11, 13, 9, 0, 0, 0, time.UTC)

func seed(name string) models.RepoSummary {
	return models.RepoSummary{FullName: name, URL: "https://github.com/" + name}
}

func detail(name string, stars int) *models.RepoDetail {
	lang := "TypeScript"
	return &models.RepoDetail{
		FullName:      name,
		Stars:         stars,
		MainLanguage:  &lang,
		Readme:        "# " + name + "\n![logo](./logo.png)",
		DefaultBranch: "main",
	}
}

// createsImagesDir mimics the localizer creating images/ before it
// downloads anything.
func createsImagesDir(args mock.Arguments) {
	_ = os.MkdirAll(filepath.Join(args.String(3), images.DirName), 0o755)
}

func newPipeline(t *testing.T, root string, src Source, loc ImageLocalizer, sum Summarizer, opts ...Option) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithClock(func() time.Time { return wednesday }),
		WithDelays(0, 0),
		WithLogger(logger),
	}
	return New(src, loc, sum, store.New(root, store.WithLogger(logger)), append(base, opts...)...)
}

func TestRunMaterializesWindow(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, 5).Return([]models.RepoSummary{seed("vercel/ai-chatbot")}, nil)
	src.On("FetchRecentPopular", mock.Anything, 5).Return([]models.RepoSummary{seed("acme/fresh")}, nil)
	src.On("FetchDetail", mock.Anything, "vercel/ai-chatbot").Return(detail("vercel/ai-chatbot", 9390), nil)
	src.On("FetchDetail", mock.Anything, "acme/fresh").Return(detail("acme/fresh", 120), nil)

	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "main").
		Return(images.Result{}, nil)

	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, mock.Anything, "", mock.Anything).Return("Short summary.", nil)

	ix := &recordingIndexer{}
	rep, err := newPipeline(t, root, src, loc, sum, WithIndexer(ix)).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "2024-46", rep.Window.ID())
	assert.False(t, rep.Materialized)
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, 2, rep.Localized)
	assert.Equal(t, 2, rep.Summarized)
	assert.NoError(t, rep.SummaryErr)

	d, err := store.Load(filepath.Join(root, "2024-46", "hot", "vercel_ai-chatbot", "information.json"))
	require.NoError(t, err)
	assert.Equal(t, 9390, d.Stars)
	require.NotNil(t, d.MainLanguage)
	assert.Equal(t, "TypeScript", *d.MainLanguage)
	require.NotNil(t, d.Summary)
	assert.Equal(t, "Short summary.", *d.Summary)

	assert.FileExists(t, filepath.Join(root, "2024-46", "new", "acme_fresh", "information.json"))
	assert.FileExists(t, filepath.Join(root, "2024-46", store.ManifestFile))
	assert.True(t, store.New(root).Materialized(week.At(wednesday)))

	assert.Equal(t, 1, ix.calls)
	assert.Len(t, ix.records, 2)

	src.AssertExpectations(t)
	loc.AssertNumberOfCalls(t, "Localize", 2)
	sum.AssertNumberOfCalls(t, "Summarize", 2)
}

func TestRunSecondInvocationMakesNoCalls(t *testing.T) {
	root := t.TempDir()

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, mock.Anything).Return([]models.RepoSummary{seed("a/one")}, nil)
	src.On("FetchRecentPopular", mock.Anything, mock.Anything).Return([]models.RepoSummary{}, nil)
	src.On("FetchDetail", mock.Anything, "a/one").Return(detail("a/one", 10), nil)
	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(images.Result{}, nil)
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s", nil)

	_, err := newPipeline(t, root, src, loc, sum).Run(context.Background(), Options{})
	require.NoError(t, err)

	// Fresh mocks with no expectations fail the test on any call.
	src2, loc2, sum2 := &mockSource{}, &mockLocalizer{}, &mockSummarizer{}
	src2.Test(t)
	loc2.Test(t)
	sum2.Test(t)
	ix := &recordingIndexer{}

	rep, err := newPipeline(t, root, src2, loc2, sum2, WithIndexer(ix)).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, rep.Materialized)
	assert.Zero(t, rep.Fetched)
	assert.Zero(t, rep.Summarized)
	assert.Zero(t, ix.calls, "nothing changed, nothing to mirror")
}

func TestRunDiscoveryFailureDegrades(t *testing.T) {
	root := t.TempDir()

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, mock.Anything).Return(nil, models.ErrDiscoveryFailed)
	src.On("FetchRecentPopular", mock.Anything, mock.Anything).Return([]models.RepoSummary{seed("acme/fresh")}, nil)
	src.On("FetchDetail", mock.Anything, "acme/fresh").Return(detail("acme/fresh", 1), nil)

	rep, err := newPipeline(t, root, src, nil, nil).Run(context.Background(), Options{SkipImages: true, SkipSummary: true})
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Discovered[models.CategoryHot])
	assert.Equal(t, 1, rep.Discovered[models.CategoryNew])
	assert.Equal(t, 1, rep.Fetched)
	assert.DirExists(t, filepath.Join(root, "2024-46", "hot"))
	assert.FileExists(t, filepath.Join(root, "2024-46", "new", "acme_fresh", "information.json"))
	assert.NoFileExists(t, filepath.Join(root, "2024-46", store.ManifestFile), "a failed source keeps the window open")
}

func TestRunSkipsFailedDetailAndResumes(t *testing.T) {
	root := t.TempDir()
	seeds := []models.RepoSummary{seed("a/ok"), seed("b/broken")}

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, mock.Anything).Return(seeds, nil)
	src.On("FetchRecentPopular", mock.Anything, mock.Anything).Return([]models.RepoSummary{}, nil)
	src.On("FetchDetail", mock.Anything, "a/ok").Return(detail("a/ok", 5), nil).Once()
	src.On("FetchDetail", mock.Anything, "b/broken").Return(nil, models.ErrDetailFetchFailed).Once()

	opts := Options{SkipImages: true, SkipSummary: true}
	rep, err := newPipeline(t, root, src, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Fetched)
	assert.Equal(t, 1, rep.DetailFailed)
	assert.NoFileExists(t, filepath.Join(root, "2024-46", store.ManifestFile))

	// The next run retries only the missing repository.
	src.On("FetchDetail", mock.Anything, "b/broken").Return(detail("b/broken", 7), nil).Once()
	rep, err = newPipeline(t, root, src, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Fetched)
	assert.FileExists(t, filepath.Join(root, "2024-46", store.ManifestFile))
	src.AssertNumberOfCalls(t, "FetchDetail", 3)
}

func TestRunSummarizeStopsOnFirstError(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)
	w := week.At(wednesday)
	require.NoError(t, st.EnsurePartitions(w))
	for _, name := range []string{"a/first", "b/second", "c/third"} {
		_, err := st.Save(w, models.CategoryHot, detail(name, 1))
		require.NoError(t, err)
	}
	require.NoError(t, st.MarkComplete(w, nil))

	boom := errors.Join(models.ErrSummaryFailed, models.ErrRateLimited)
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, "a/first", mock.Anything, mock.Anything).Return("First.", nil)
	sum.On("Summarize", mock.Anything, "b/second", mock.Anything, mock.Anything).Return("", boom)

	rep, err := newPipeline(t, root, nil, nil, sum).Run(context.Background(), Options{SkipImages: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summarized)
	assert.ErrorIs(t, rep.SummaryErr, models.ErrSummaryFailed)
	sum.AssertNumberOfCalls(t, "Summarize", 2)

	records, err := st.List(w)
	require.NoError(t, err)
	summarized := 0
	for _, r := range records {
		if r.Detail.HasSummary() {
			summarized++
		}
	}
	assert.Equal(t, 1, summarized)
}

func TestRunForceRediscovers(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)
	w := week.At(wednesday)
	require.NoError(t, st.EnsurePartitions(w))
	rec, err := st.Save(w, models.CategoryHot, detail("a/one", 1))
	require.NoError(t, err)
	_, err = st.SetSummary(rec, "Kept across refreshes.")
	require.NoError(t, err)
	require.NoError(t, st.MarkComplete(w, nil))

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, mock.Anything).Return([]models.RepoSummary{seed("a/one")}, nil)
	src.On("FetchRecentPopular", mock.Anything, mock.Anything).Return([]models.RepoSummary{}, nil)
	src.On("FetchDetail", mock.Anything, "a/one").Return(detail("a/one", 42), nil)

	// No summarizer expectations: the stored summary survives the re-fetch.
	sum := &mockSummarizer{}
	sum.Test(t)

	rep, err := newPipeline(t, root, src, nil, sum).Run(context.Background(), Options{Force: true, SkipImages: true})
	require.NoError(t, err)
	assert.False(t, rep.Materialized)
	assert.Equal(t, 1, rep.Fetched)
	assert.Zero(t, rep.Summarized)

	d, err := store.Load(filepath.Join(root, "2024-46", "hot", "a_one", "information.json"))
	require.NoError(t, err)
	assert.Equal(t, 42, d.Stars)
	require.NotNil(t, d.Summary)
	assert.Equal(t, "Kept across refreshes.", *d.Summary)
}

func TestRunRemovesSVGImages(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)
	w := week.At(wednesday)
	require.NoError(t, st.EnsurePartitions(w))
	rec, err := st.Save(w, models.CategoryHot, detail("a/one", 1))
	require.NoError(t, err)
	require.NoError(t, st.MarkComplete(w, nil))

	require.NoError(t, st.MarkImagesDone(rec))
	svg := filepath.Join(rec.Dir, images.DirName, "image_0.svg")
	require.NoError(t, os.WriteFile(svg, []byte("<svg/>"), 0o644))

	_, err = newPipeline(t, root, nil, nil, nil).Run(context.Background(), Options{SkipSummary: true})
	require.NoError(t, err)
	assert.NoFileExists(t, svg)
}

func TestRunCancelledDuringDetail(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &mockSource{}
	src.On("FetchWeeklyTrending", mock.Anything, mock.Anything).Return([]models.RepoSummary{seed("a/one"), seed("b/two")}, nil)
	src.On("FetchRecentPopular", mock.Anything, mock.Anything).Return([]models.RepoSummary{}, nil)
	src.On("FetchDetail", mock.Anything, "a/one").Run(func(mock.Arguments) { cancel() }).Return(detail("a/one", 1), nil)

	p := newPipeline(t, root, src, nil, nil, WithDelays(time.Hour, 0))
	_, err := p.Run(ctx, Options{SkipImages: true, SkipSummary: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, filepath.Join(root, "2024-46", "hot", "a_one", "information.json"))
	src.AssertNotCalled(t, "FetchDetail", mock.Anything, "b/two")
}

func TestNewCompleter(t *testing.T) {
	for provider, want := range map[string]any{
		config.ProviderProxy:  &llm.ProxyCompleter{},
		config.ProviderOpenAI: &llm.OpenAICompleter{},
		config.ProviderErnie:  &llm.ErnieCompleter{},
	} {
		c, err := NewCompleter(&config.Config{LLMProvider: provider}, nil)
		require.NoError(t, err, provider)
		assert.IsType(t, want, c, provider)
	}

	_, err := NewCompleter(&config.Config{LLMProvider: "bard"}, nil)
	assert.Error(t, err)
}

// seedWindow persists the named records under hot and marks the window
// complete, so runs go straight to LOCALIZE and SUMMARIZE.
func seedWindow(t *testing.T, root string, names ...string) []store.Record {
	t.Helper()
	st := store.New(root)
	w := week.At(wednesday)
	require.NoError(t, st.EnsurePartitions(w))
	var recs []store.Record
	for _, name := range names {
		rec, err := st.Save(w, models.CategoryHot, detail(name, 1))
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.NoError(t, st.MarkComplete(w, nil))
	return recs
}

func TestRunRetriesIncompleteImages(t *testing.T) {
	root := t.TempDir()
	recs := seedWindow(t, root, "a/one")
	opts := Options{SkipSummary: true}

	timeout := images.Result{
		Images: map[string]models.ImageReference{},
		Failed: map[string]error{"./logo.png": errors.Join(models.ErrImageDownloadFailed, errors.New("dial tcp: i/o timeout"))},
	}
	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, "a/one", mock.Anything, recs[0].Dir, "main").
		Run(createsImagesDir).Return(timeout, nil).Once()

	rep, err := newPipeline(t, root, nil, loc, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ImageFailed)
	assert.DirExists(t, filepath.Join(recs[0].Dir, images.DirName))

	// A timed-out download is attempted again; a permanent failure is not.
	gone := images.Result{
		Images: map[string]models.ImageReference{},
		Failed: map[string]error{"./logo.png": errors.Join(models.ErrImageDownloadFailed, images.ErrPermanent)},
	}
	loc.On("Localize", mock.Anything, "a/one", mock.Anything, recs[0].Dir, "main").Return(gone, nil).Once()
	_, err = newPipeline(t, root, nil, loc, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	loc.AssertNumberOfCalls(t, "Localize", 2)

	idle := &mockLocalizer{}
	idle.Test(t)
	_, err = newPipeline(t, root, nil, idle, nil).Run(context.Background(), opts)
	require.NoError(t, err)
}

func TestRunRetriesImagesAfterCancel(t *testing.T) {
	root := t.TempDir()
	seedWindow(t, root, "a/one")
	opts := Options{SkipSummary: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, "a/one", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			createsImagesDir(args)
			cancel()
		}).Return(images.Result{}, context.Canceled).Once()

	_, err := newPipeline(t, root, nil, loc, nil).Run(ctx, opts)
	assert.ErrorIs(t, err, context.Canceled)

	loc.On("Localize", mock.Anything, "a/one", mock.Anything, mock.Anything, mock.Anything).
		Return(images.Result{}, nil).Once()
	rep, err := newPipeline(t, root, nil, loc, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Localized)
	loc.AssertNumberOfCalls(t, "Localize", 2)
}

func TestRunLocalizeContinuesAfterError(t *testing.T) {
	root := t.TempDir()
	recs := seedWindow(t, root, "a/broken", "b/fine")

	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, "a/broken", mock.Anything, mock.Anything, mock.Anything).
		Return(images.Result{}, errors.New("creating images: permission denied"))
	loc.On("Localize", mock.Anything, "b/fine", mock.Anything, mock.Anything, mock.Anything).
		Return(images.Result{Images: map[string]models.ImageReference{
			"./logo.png": {OriginalRef: "./logo.png", LocalPath: "images/image_0.png"},
		}}, nil)

	rep, err := newPipeline(t, root, nil, loc, nil).Run(context.Background(), Options{SkipSummary: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Localized)
	assert.Equal(t, 1, rep.Images)
	loc.AssertNumberOfCalls(t, "Localize", 2)

	st := store.New(root)
	assert.False(t, st.ImagesDone(recs[0]))
	assert.True(t, st.ImagesDone(recs[1]))
}

func TestRunSkipsUnreadableRecord(t *testing.T) {
	root := t.TempDir()
	seedWindow(t, root, "a/good")

	bad := filepath.Join(root, "2024-46", "new", "b_bad", store.InfoFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0o755))
	require.NoError(t, os.WriteFile(bad, []byte("{trunc"), 0o644))

	loc := &mockLocalizer{}
	loc.On("Localize", mock.Anything, "a/good", mock.Anything, mock.Anything, mock.Anything).Return(images.Result{}, nil)
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, "a/good", mock.Anything, mock.Anything).Return("Good.", nil)

	rep, err := newPipeline(t, root, nil, loc, sum).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Localized)
	assert.Equal(t, 1, rep.Summarized)
	sum.AssertNumberOfCalls(t, "Summarize", 1)
}
