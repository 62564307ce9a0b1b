package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/config"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
	sdk "github.com/surrealdb/surrealdb.go"
)

type Client struct {
	db         *sdk.DB
	dimensions int
}

func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	db, err := sdk.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, sdk.Auth{
		Namespace: cfg.SurrealNS,
		Database:  cfg.SurrealDB,
		Username:  cfg.SurrealUser,
		Password:  cfg.SurrealPass,
	}); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("signing in: %w", err)
	}

	if err := db.Use(ctx, cfg.SurrealNS, cfg.SurrealDB); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("selecting ns/db: %w", err)
	}

	return &Client{db: db, dimensions: cfg.EmbeddingDimensions}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close(ctx)
}

func schema(dimensions int) string {
	return fmt.Sprintf(`
DEFINE TABLE IF NOT EXISTS repo SCHEMAFULL;

DEFINE FIELD IF NOT EXISTS record_key     ON TABLE repo TYPE string;
DEFINE FIELD IF NOT EXISTS window_id      ON TABLE repo TYPE string;
DEFINE FIELD IF NOT EXISTS category       ON TABLE repo TYPE string;
DEFINE FIELD IF NOT EXISTS full_name      ON TABLE repo TYPE string;
DEFINE FIELD IF NOT EXISTS description    ON TABLE repo TYPE option<string>;
DEFINE FIELD IF NOT EXISTS url            ON TABLE repo TYPE string;
DEFINE FIELD IF NOT EXISTS homepage_url   ON TABLE repo TYPE option<string>;
DEFINE FIELD IF NOT EXISTS stars          ON TABLE repo TYPE int;
DEFINE FIELD IF NOT EXISTS forks          ON TABLE repo TYPE int;
DEFINE FIELD IF NOT EXISTS language       ON TABLE repo TYPE option<string>;
DEFINE FIELD IF NOT EXISTS topics         ON TABLE repo TYPE array<string>;
DEFINE FIELD IF NOT EXISTS summary        ON TABLE repo TYPE option<string>;
DEFINE FIELD IF NOT EXISTS embedding      ON TABLE repo TYPE option<array<float>>;
DEFINE FIELD IF NOT EXISTS indexed_at     ON TABLE repo TYPE datetime;

DEFINE INDEX IF NOT EXISTS idx_record_key ON TABLE repo FIELDS record_key UNIQUE;
DEFINE INDEX IF NOT EXISTS idx_window     ON TABLE repo FIELDS window_id;
REMOVE INDEX IF EXISTS idx_hnsw_embedding ON TABLE repo;
DEFINE INDEX idx_hnsw_embedding ON TABLE repo FIELDS embedding HNSW DIMENSION %d DIST COSINE;
`, dimensions)
}

func (c *Client) InitSchema(ctx context.Context) error {
	_, err := sdk.Query[any](ctx, c.db, schema(c.dimensions), nil)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// RecordKey identifies one repository within one window and category.
func RecordKey(windowID string, category models.Category, fullName string) string {
	return strings.Join([]string{windowID, string(category), strings.ReplaceAll(fullName, "/", "__")}, "__")
}

func (c *Client) UpsertRepo(ctx context.Context, windowID string, category models.Category, d *models.RepoDetail) error {
	// Build data map with only non-nil optional fields to avoid
	// CBOR NULL vs SurrealDB NONE mismatch.
	key := RecordKey(windowID, category, d.FullName)
	data := map[string]any{
		"record_key": key,
		"window_id":  windowID,
		"category":   string(category),
		"full_name":  d.FullName,
		"url":        d.URL,
		"stars":      d.Stars,
		"forks":      d.Forks,
		"indexed_at": time.Now().UTC(),
	}
	if d.Description != nil {
		data["description"] = *d.Description
	}
	if d.Homepage != nil {
		data["homepage_url"] = *d.Homepage
	}
	if d.MainLanguage != nil {
		data["language"] = *d.MainLanguage
	}
	topics := d.Topics
	if topics == nil {
		topics = []string{}
	}
	data["topics"] = topics
	if d.Summary != nil {
		data["summary"] = *d.Summary
	}

	_, err := sdk.Query[any](ctx, c.db,
		`UPSERT type::thing("repo", $id) MERGE $data`,
		map[string]any{
			"id":   key,
			"data": data,
		})
	if err != nil {
		return fmt.Errorf("upserting %s: %w", d.FullName, err)
	}
	return nil
}

// PendingEmbedding is a summarized record that has no embedding yet.
type PendingEmbedding struct {
	RecordKey string `json:"record_key"`
	FullName  string `json:"full_name"`
	Summary   string `json:"summary"`
}

func (c *Client) GetReposNeedingEmbedding(ctx context.Context, windowID string) ([]PendingEmbedding, error) {
	results, err := sdk.Query[[]PendingEmbedding](ctx, c.db,
		`SELECT record_key, full_name, summary FROM repo
		WHERE window_id = $window_id AND summary IS NOT NONE AND embedding IS NONE`,
		map[string]any{"window_id": windowID})
	if err != nil {
		return nil, fmt.Errorf("querying repos needing embedding: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (c *Client) UpdateEmbedding(ctx context.Context, recordKey string, embedding []float32) error {
	_, err := sdk.Query[any](ctx, c.db,
		`UPDATE repo SET embedding = $embedding WHERE record_key = $record_key`,
		map[string]any{
			"record_key": recordKey,
			"embedding":  embedding,
		})
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", recordKey, err)
	}
	return nil
}

func (c *Client) VectorSearch(ctx context.Context, queryVec []float32, k int) ([]models.SearchResult, error) {
	// The HNSW KNN operator (<|K|>) comes back empty after the index is
	// redefined, so rank by brute-force cosine similarity instead.
	query := fmt.Sprintf(`
		SELECT full_name, window_id, category, description, summary, stars, url,
			vector::similarity::cosine(embedding, $query_vec) AS score
		FROM repo
		WHERE embedding IS NOT NONE
		ORDER BY score DESC
		LIMIT %d
	`, k)

	results, err := sdk.Query[[]models.SearchResult](ctx, c.db, query,
		map[string]any{"query_vec": queryVec})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

type Stats struct {
	Total      int
	Summarized int
	Embedded   int
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	results, err := sdk.Query[[]map[string]any](ctx, c.db,
		`SELECT
			count() AS total,
			math::sum(IF summary IS NOT NONE THEN 1 ELSE 0 END) AS summarized,
			math::sum(IF embedding IS NOT NONE THEN 1 ELSE 0 END) AS embedded
		FROM repo GROUP ALL`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	if len(*results) == 0 || len((*results)[0].Result) == 0 {
		return &Stats{}, nil
	}
	row := (*results)[0].Result[0]
	return &Stats{
		Total:      toInt(row["total"]),
		Summarized: toInt(row["summarized"]),
		Embedded:   toInt(row["embedded"]),
	}, nil
}

type WindowCount struct {
	Window string
	Count  int
}

type windowRow struct {
	WindowID string `json:"window_id"`
}

func (c *Client) GetWindowBreakdown(ctx context.Context) ([]WindowCount, error) {
	results, err := sdk.Query[[]windowRow](ctx, c.db,
		`SELECT window_id FROM repo`, nil)
	if err != nil {
		return nil, fmt.Errorf("getting windows: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}
	return countWindows((*results)[0].Result), nil
}

func countWindows(rows []windowRow) []WindowCount {
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.WindowID]++
	}
	out := make([]WindowCount, 0, len(counts))
	for w, n := range counts {
		out = append(out, WindowCount{Window: w, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window > out[j].Window })
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 0
	}
}
