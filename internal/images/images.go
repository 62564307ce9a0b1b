// Package images downloads the images a README references so the record can
// be rendered without hot-linking.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
	"github.com/kevinmichaelchen/trend-watch/internal/pace"
)

const (
	DirName          = "images"
	DefaultRawURL    = "https://raw.githubusercontent.com"
	DefaultDelay     = 500 * time.Millisecond
	defaultExtension = ".png"
)

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+["'][^"']*["'])?\s*\)`)
	htmlImage     = regexp.MustCompile(`(?is)<img\b[^>]*?\bsrc\s*=\s*["']([^"']+)["'][^>]*>`)
	safeExt       = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// ErrPermanent marks image failures that a later attempt cannot fix.
var ErrPermanent = errors.New("permanent image failure")

// Result holds what one Localize call produced. Images is keyed by the
// reference exactly as written in the README.
type Result struct {
	Images map[string]models.ImageReference
	Failed map[string]error
}

// Retryable reports whether any failed reference might succeed on a later
// attempt.
func (r Result) Retryable() bool {
	for _, err := range r.Failed {
		if !errors.Is(err, ErrPermanent) {
			return true
		}
	}
	return false
}

type Localizer struct {
	httpClient *http.Client
	rawURL     string
	delay      time.Duration
	logger     *slog.Logger
}

type Option func(*Localizer)

func WithHTTPClient(hc *http.Client) Option { return func(l *Localizer) { l.httpClient = hc } }

// WithRawURL sets the host relative references are resolved against.
func WithRawURL(u string) Option { return func(l *Localizer) { l.rawURL = strings.TrimSuffix(u, "/") } }

// WithDelay sets the pause between two downloads.
func WithDelay(d time.Duration) Option { return func(l *Localizer) { l.delay = d } }

func WithLogger(logger *slog.Logger) Option { return func(l *Localizer) { l.logger = logger } }

func NewLocalizer(opts ...Option) *Localizer {
	l := &Localizer{
		httpClient: http.DefaultClient,
		rawURL:     DefaultRawURL,
		delay:      DefaultDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Localize downloads every image referenced by readme into baseDir/images.
// A failing image never stops the others; the returned error is only set
// when the images directory cannot be created or ctx is cancelled, and the
// result then still holds everything downloaded so far.
func (l *Localizer) Localize(ctx context.Context, fullName, readme, baseDir, branch string) (Result, error) {
	res := Result{
		Images: map[string]models.ImageReference{},
		Failed: map[string]error{},
	}

	dir := filepath.Join(baseDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("creating %s: %w", dir, err)
	}

	index := 0
	attempted := false
	for _, ref := range ExtractRefs(readme) {
		resolved, err := l.Resolve(ref, fullName, branch)
		if err != nil {
			res.Failed[ref] = fmt.Errorf("%w: %s: %w: %w", models.ErrImageDownloadFailed, ref, ErrPermanent, err)
			continue
		}

		if attempted {
			if err := pace.Sleep(ctx, l.delay); err != nil {
				return res, err
			}
		}
		attempted = true

		filename := fmt.Sprintf("image_%d%s", index, extension(resolved))
		if err := l.download(ctx, resolved, filepath.Join(dir, filename)); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed[ref] = fmt.Errorf("%w: %s: %w", models.ErrImageDownloadFailed, resolved, err)
			l.logger.Warn("image download failed", "repo", fullName, "ref", ref, "err", err)
			continue
		}

		res.Images[ref] = models.ImageReference{
			OriginalRef: ref,
			ResolvedURL: resolved,
			LocalPath:   path.Join(DirName, filename),
		}
		l.logger.Debug("image downloaded", "repo", fullName, "ref", ref, "file", filename)
		index++
	}

	return res, nil
}

// ExtractRefs returns the distinct image references of a README: Markdown
// images first, then <img> tags, each in document order.
func ExtractRefs(readme string) []string {
	var refs []string
	seen := map[string]bool{}
	add := func(matches [][]string) {
		for _, m := range matches {
			ref := strings.TrimSpace(m[1])
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	add(markdownImage.FindAllStringSubmatch(readme, -1))
	add(htmlImage.FindAllStringSubmatch(readme, -1))
	return refs
}

// Resolve turns a README reference into an absolute URL. Relative paths
// point into the repository's raw content at the given branch.
func (l *Localizer) Resolve(ref, fullName, branch string) (string, error) {
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference: %w", err)
	}
	if u.Scheme != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return ref, nil
		default:
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
	}

	if branch == "" {
		branch = "HEAD"
	}
	rel := ref
	if strings.HasPrefix(rel, "./") {
		rel = rel[2:]
	} else if strings.HasPrefix(rel, "/") {
		rel = rel[1:]
	}
	return fmt.Sprintf("%s/%s/%s/%s", l.rawURL, fullName, branch, rel), nil
}

// extension picks the file extension from the URL path, ignoring any query
// string or fragment.
func extension(resolved string) string {
	clean, _, _ := strings.Cut(resolved, "?")
	clean, _, _ = strings.Cut(clean, "#")
	if u, err := url.Parse(clean); err == nil {
		clean = u.Path
	}
	ext := path.Ext(clean)
	if !safeExt.MatchString(ext) {
		return defaultExtension
	}
	return strings.ToLower(ext)
}

func (l *Localizer) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: unexpected status %d", ErrPermanent, resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return fmt.Errorf("%w: invalid content type %q", ErrPermanent, ct)
	}

	// Stage into a temp file so a broken transfer never leaves image_<n> behind.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing image: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}
