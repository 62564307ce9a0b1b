package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

type repoResponse struct {
	FullName        string   `json:"full_name"`
	Description     *string  `json:"description"`
	StargazersCount int      `json:"stargazers_count"`
	ForksCount      int      `json:"forks_count"`
	WatchersCount   int      `json:"watchers_count"`
	Language        *string  `json:"language"`
	Topics          []string `json:"topics"`
	Homepage        *string  `json:"homepage"`
	DefaultBranch   string   `json:"default_branch"`
	HasIssues       bool     `json:"has_issues"`
	HasWiki         bool     `json:"has_wiki"`
	License         *struct {
		Name string `json:"name"`
	} `json:"license"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	PushedAt  string `json:"pushed_at"`
	HTMLURL   string `json:"html_url"`
	GitURL    string `json:"git_url"`
	SSHURL    string `json:"ssh_url"`
	Owner     struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		HTMLURL   string `json:"html_url"`
	} `json:"owner"`
}

type readmeResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FetchDetail reads the repository metadata, its README and its language
// breakdown. If any read fails the result is nil; partial records are never
// returned.
func (c *Client) FetchDetail(ctx context.Context, fullName string) (*models.RepoDetail, error) {
	base := "/repos/" + fullName

	var repo repoResponse
	if err := c.getJSON(ctx, base, nil, &repo); err != nil {
		return nil, detailErr(fullName, "metadata", err)
	}

	var readme readmeResponse
	if err := c.getJSON(ctx, base+"/readme", nil, &readme); err != nil {
		return nil, detailErr(fullName, "readme", err)
	}
	text, err := decodeReadme(readme)
	if err != nil {
		return nil, detailErr(fullName, "readme", err)
	}

	languages := map[string]int64{}
	if err := c.getJSON(ctx, base+"/languages", nil, &languages); err != nil {
		return nil, detailErr(fullName, "languages", err)
	}

	return toDetail(repo, text, languages), nil
}

func detailErr(fullName, read string, err error) error {
	return fmt.Errorf("%w: %s: reading %s: %w", models.ErrDetailFetchFailed, fullName, read, err)
}

// decodeReadme decodes the contents API payload. GitHub wraps the Base64
// body at 60 columns.
func decodeReadme(r readmeResponse) (string, error) {
	switch r.Encoding {
	case "base64", "":
		clean := strings.NewReplacer("\n", "", "\r", "").Replace(r.Content)
		b, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return "", fmt.Errorf("decoding readme: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported readme encoding %q", r.Encoding)
	}
}

func toDetail(r repoResponse, readme string, languages map[string]int64) *models.RepoDetail {
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}

	d := &models.RepoDetail{
		FullName:      r.FullName,
		Description:   r.Description,
		Stars:         r.StargazersCount,
		Forks:         r.ForksCount,
		Watchers:      r.WatchersCount,
		MainLanguage:  r.Language,
		Languages:     languages,
		Topics:        topics,
		Readme:        readme,
		Homepage:      r.Homepage,
		DefaultBranch: r.DefaultBranch,
		HasIssues:     r.HasIssues,
		HasWiki:       r.HasWiki,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		PushedAt:      r.PushedAt,
		URL:           r.HTMLURL,
		GitURL:        r.GitURL,
		SSHURL:        r.SSHURL,
		Owner: models.Owner{
			Name:      r.Owner.Login,
			AvatarURL: r.Owner.AvatarURL,
			URL:       r.Owner.HTMLURL,
		},
	}
	if r.License != nil {
		d.License = &r.License.Name
	}
	return d
}
