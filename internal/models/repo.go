package models

import "strings"

// Category tags which discovery method produced a repository.
type Category string

const (
	CategoryHot Category = "hot"
	CategoryNew Category = "new"
)

// Categories returns every category in partition order.
func Categories() []Category {
	return []Category{CategoryHot, CategoryNew}
}

// RepoSummary is the minimal seed produced by discovery.
type RepoSummary struct {
	FullName    string  `json:"name"`
	Description *string `json:"description"`
	Stars       int     `json:"stars"`
	WeeklyStars int     `json:"weeklyStars"`
	Language    *string `json:"language"`
	URL         string  `json:"url"`
}

type Owner struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	URL       string `json:"url"`
}

// RepoDetail is the record persisted as information.json.
type RepoDetail struct {
	FullName    string  `json:"name"`
	Description *string `json:"description"`
	Stars       int     `json:"stars"`
	Forks       int     `json:"forks"`
	Watchers    int     `json:"watchers"`

	MainLanguage *string          `json:"mainLanguage"`
	Languages    map[string]int64 `json:"languages"`
	Topics       []string         `json:"topics"`

	Readme        string  `json:"readme"`
	Homepage      *string `json:"homepage"`
	DefaultBranch string  `json:"defaultBranch"`
	HasIssues     bool    `json:"hasIssues"`
	HasWiki       bool    `json:"hasWiki"`
	License       *string `json:"license"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	PushedAt  string `json:"pushedAt"`

	URL    string `json:"url"`
	GitURL string `json:"gitUrl"`
	SSHURL string `json:"sshUrl"`

	Owner Owner `json:"owner"`

	Summary *string `json:"summary,omitempty"`
}

// HasSummary reports whether the summarizer already ran for this record.
func (d *RepoDetail) HasSummary() bool {
	return d.Summary != nil
}

// SetSummary is the only mutation applied to a persisted record.
func (d *RepoDetail) SetSummary(s string) {
	d.Summary = &s
}

// DescriptionText returns the description or "" when absent.
func (d *RepoDetail) DescriptionText() string {
	if d.Description == nil {
		return ""
	}
	return *d.Description
}

// ImageReference maps one README image reference to its downloaded copy.
type ImageReference struct {
	OriginalRef string `json:"originalRef"`
	ResolvedURL string `json:"resolvedUrl"`
	LocalPath   string `json:"localPath"`
}

// SanitizeName turns "owner/name" into a single path segment.
func SanitizeName(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "_")
}

// SearchResult is one row of a semantic search over indexed records.
type SearchResult struct {
	FullName    string  `json:"full_name"`
	Window      string  `json:"window_id"`
	Category    string  `json:"category"`
	Description *string `json:"description"`
	Summary     *string `json:"summary"`
	Stars       int     `json:"stars"`
	URL         string  `json:"url"`
	Score       float64 `json:"score"`
}
