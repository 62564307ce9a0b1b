package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

const (
	newRepoWindowDays = 7
	maxPerPage        = 100
)

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []searchItem `json:"items"`
}

type searchItem struct {
	FullName        string  `json:"full_name"`
	Description     *string `json:"description"`
	StargazersCount int     `json:"stargazers_count"`
	Language        *string `json:"language"`
	HTMLURL         string  `json:"html_url"`
}

// FetchRecentPopular returns the most-starred repositories created within
// the trailing week, highest first.
func (c *Client) FetchRecentPopular(ctx context.Context, limit int) ([]models.RepoSummary, error) {
	if limit <= 0 {
		return []models.RepoSummary{}, nil
	}

	since := c.now().UTC().AddDate(0, 0, -newRepoWindowDays).Format("2006-01-02")
	query := url.Values{
		"q":        {"created:>" + since},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {strconv.Itoa(min(limit, maxPerPage))},
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/search/repositories", query, &resp); err != nil {
		return nil, fmt.Errorf("%w: searching new repositories: %w", models.ErrDiscoveryFailed, err)
	}

	items := resp.Items
	if len(items) > limit {
		items = items[:limit]
	}

	repos := make([]models.RepoSummary, 0, len(items))
	for _, it := range items {
		repos = append(repos, models.RepoSummary{
			FullName:    it.FullName,
			Description: it.Description,
			Stars:       it.StargazersCount,
			Language:    it.Language,
			URL:         it.HTMLURL,
		})
	}
	return repos, nil
}
