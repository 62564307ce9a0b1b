package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

const (
	summaryInstruction = "You are an experienced software engineer. Summarize what this code repository does in at most 100 characters. Reply with the summary only."

	DefaultMaxReadme = 6000
)

// Summarizer turns a repository's description and README into a one-line summary.
type Summarizer struct {
	completer Completer
	maxReadme int
}

// NewSummarizer wraps a completer. maxReadme caps the README runes sent in
// the prompt; zero or less sends the whole document.
func NewSummarizer(c Completer, maxReadme int) *Summarizer {
	return &Summarizer{completer: c, maxReadme: maxReadme}
}

// Summarize returns the raw completion text. Every failure wraps
// models.ErrSummaryFailed.
func (s *Summarizer) Summarize(ctx context.Context, fullName, description, readme string) (string, error) {
	prompt := BuildPrompt(fullName, description, truncateRunes(readme, s.maxReadme))

	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrSummaryFailed, fullName, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s: %w: empty summary", models.ErrSummaryFailed, fullName, models.ErrInvalidResponse)
	}
	return text, nil
}

// BuildPrompt concatenates the fixed instruction with the repository text.
func BuildPrompt(fullName, description, readme string) string {
	parts := []string{summaryInstruction, "Repository: " + fullName}
	if description != "" {
		parts = append(parts, description)
	}
	if readme != "" {
		parts = append(parts, readme)
	}
	return strings.Join(parts, "\n\n")
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
