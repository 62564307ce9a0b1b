package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kevinmichaelchen/trend-watch/internal/config"
	"github.com/kevinmichaelchen/trend-watch/internal/embedding"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
	"github.com/kevinmichaelchen/trend-watch/internal/surrealdb"
)

// SurrealIndexer mirrors window records into SurrealDB and, when an
// embedding client is set, embeds their summaries for search. It connects
// on each Index call so runs that change nothing never dial the database.
type SurrealIndexer struct {
	cfg      *config.Config
	embedder *embedding.Client
	logger   *slog.Logger
}

func NewSurrealIndexer(cfg *config.Config, embedder *embedding.Client, logger *slog.Logger) *SurrealIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurrealIndexer{cfg: cfg, embedder: embedder, logger: logger}
}

func (s *SurrealIndexer) Index(ctx context.Context, windowID string, records []store.Record) error {
	db, err := surrealdb.NewClient(ctx, s.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(ctx) }()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	for _, rec := range records {
		if err := db.UpsertRepo(ctx, windowID, rec.Category, rec.Detail); err != nil {
			return err
		}
	}
	s.logger.Info("mirrored records", "stage", "index", "window", windowID, "count", len(records))

	if s.embedder == nil {
		return nil
	}

	pending, err := db.GetReposNeedingEmbedding(ctx, windowID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = embedding.Text(p.FullName, p.Summary)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("generating embeddings: %w", err)
	}

	stored := 0
	for i, p := range pending {
		if err := db.UpdateEmbedding(ctx, p.RecordKey, vectors[i]); err != nil {
			s.logger.Warn("storing embedding failed", "stage", "index", "repo", p.FullName, "err", err)
			continue
		}
		stored++
	}
	s.logger.Info("stored embeddings", "stage", "index", "window", windowID, "count", stored)
	return nil
}
