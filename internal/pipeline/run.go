package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kevinmichaelchen/trend-watch/internal/config"
	"github.com/kevinmichaelchen/trend-watch/internal/embedding"
	"github.com/kevinmichaelchen/trend-watch/internal/github"
	"github.com/kevinmichaelchen/trend-watch/internal/images"
	"github.com/kevinmichaelchen/trend-watch/internal/llm"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
)

// Run wires the production clients from cfg and runs the pipeline once.
func Run(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hc := &http.Client{Timeout: cfg.HTTPTimeout}

	gh := github.NewClient(cfg.GitHubToken,
		github.WithAPIURL(cfg.GitHubAPIURL),
		github.WithWebURL(cfg.GitHubURL),
		github.WithUserAgent(cfg.UserAgent),
		github.WithHTTPClient(hc),
	)
	loc := images.NewLocalizer(
		images.WithHTTPClient(hc),
		images.WithRawURL(cfg.RawContentURL),
		images.WithDelay(cfg.ImageDelay),
		images.WithLogger(logger),
	)
	completer, err := NewCompleter(cfg, hc)
	if err != nil {
		return nil, err
	}
	sum := llm.NewSummarizer(completer, cfg.SummaryMaxReadme)

	popts := []Option{
		WithLimits(cfg.TrendingLimit, cfg.NewReposLimit),
		WithDelays(cfg.DetailDelay, cfg.SummaryDelay),
		WithLogger(logger),
	}
	if cfg.MirrorEnabled() {
		var emb *embedding.Client
		if cfg.EmbeddingEnabled() {
			emb = embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		}
		popts = append(popts, WithIndexer(NewSurrealIndexer(cfg, emb, logger)))
	}

	return New(gh, loc, sum, store.New(cfg.DataDir, store.WithLogger(logger)), popts...).Run(ctx, opts)
}

// NewCompleter picks the completion backend named by cfg.LLMProvider.
func NewCompleter(cfg *config.Config, hc *http.Client) (llm.Completer, error) {
	switch cfg.LLMProvider {
	case config.ProviderProxy:
		return llm.NewProxyCompleter(cfg.LLMProxyURL, hc), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAICompleter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), nil
	case config.ProviderErnie:
		return llm.NewErnieCompleter(llm.ErnieConfig{
			AccessKey: cfg.ErnieAccessKey,
			SecretKey: cfg.ErnieSecretKey,
			Model:     cfg.ErnieModel,
			TokenURL:  cfg.ErnieTokenURL,
			ChatURL:   cfg.ErnieChatURL,
		}, hc), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
