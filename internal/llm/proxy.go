package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

// ProxyCompleter posts {"prompt": ...} to a summary endpoint that answers
// {"result": ...} on success and {"error": ...} on failure.
type ProxyCompleter struct {
	url    string
	client *http.Client
}

func NewProxyCompleter(url string, client *http.Client) *ProxyCompleter {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProxyCompleter{url: url, client: client}
}

type proxyRequest struct {
	Prompt string `json:"prompt"`
}

type proxyResponse struct {
	Result *string         `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (p *ProxyCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var out proxyResponse
	if err := postJSON(ctx, p.client, p.url, proxyRequest{Prompt: prompt}, &out); err != nil {
		return "", err
	}
	if msg := errorText(out.Error); msg != "" {
		return "", fmt.Errorf("summary endpoint error: %s", msg)
	}
	if out.Result == nil {
		return "", fmt.Errorf("%w: response has neither result nor error", models.ErrInvalidResponse)
	}
	return stripCodeFences(*out.Result), nil
}

// errorText renders the error field, which may be a string or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// postJSON sends body as JSON and decodes a 200 response into out. Error
// statuses are classified; an error body that still decodes into out is
// left for the caller to inspect.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if class := classifyStatus(resp.StatusCode); class != nil {
			return fmt.Errorf("%w: status %d: %s", class, resp.StatusCode, string(b))
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", models.ErrInvalidResponse, err)
	}
	return nil
}
