package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

// Selectors for the rendered trending page.
const (
	selEntry       = "article.Box-row"
	selTitle       = "h2"
	selDescription = "p"
	selStars       = `a[href$="/stargazers"]`
	selWeeklyStars = "span.d-inline-block.float-sm-right"
	selLanguage    = `[itemprop="programmingLanguage"]`
)

// FetchWeeklyTrending scrapes the weekly trending page and returns the first
// limit entries in page order, which is the ranking.
func (c *Client) FetchWeeklyTrending(ctx context.Context, limit int) ([]models.RepoSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.webURL+"/trending?since=weekly", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating trending request: %w", models.ErrDiscoveryFailed, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching trending page: %w", models.ErrDiscoveryFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: trending page returned %d", models.ErrDiscoveryFailed, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing trending page: %w", models.ErrDiscoveryFailed, err)
	}
	return c.parseTrending(doc, limit), nil
}

func (c *Client) parseTrending(doc *goquery.Document, limit int) []models.RepoSummary {
	repos := make([]models.RepoSummary, 0, max(limit, 0))
	if limit <= 0 {
		return repos
	}

	doc.Find(selEntry).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		owner, name, ok := splitTitle(s.Find(selTitle).First().Text())
		if !ok {
			return true
		}

		repo := models.RepoSummary{
			FullName:    owner + "/" + name,
			Description: optionalText(s.Find(selDescription).First().Text()),
			Stars:       parseCount(s.Find(selStars).First().Text()),
			WeeklyStars: parseCount(s.Find(selWeeklyStars).First().Text()),
			Language:    optionalText(s.Find(selLanguage).First().Text()),
			URL:         c.webURL + "/" + owner + "/" + name,
		}
		repos = append(repos, repo)
		return len(repos) < limit
	})
	return repos
}

// splitTitle parses "owner / name" with arbitrary inner whitespace.
func splitTitle(title string) (owner, name string, ok bool) {
	title = strings.Join(strings.Fields(title), "")
	owner, name, ok = strings.Cut(title, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

// parseCount reads the leading integer of s, ignoring thousands separators.
// "1,234 stars this week" yields 1234; anything unparsable yields 0.
func parseCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func optionalText(s string) *string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil
	}
	return &s
}
