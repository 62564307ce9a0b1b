package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/auth"
	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

// Ernie error codes that mean the access token is no longer accepted.
const (
	ernieTokenInvalid = 110
	ernieTokenExpired = 111
)

// ErnieCompleter calls the Ernie chat API. Its access token comes from a
// client-credentials exchange and is cached by an auth.TokenProvider.
type ErnieCompleter struct {
	chatURL string
	model   string
	client  *http.Client
	tokens  *auth.TokenProvider
}

type ErnieConfig struct {
	AccessKey string
	SecretKey string
	Model     string
	TokenURL  string
	ChatURL   string
}

func NewErnieCompleter(cfg ErnieConfig, client *http.Client) *ErnieCompleter {
	if client == nil {
		client = http.DefaultClient
	}
	c := &ErnieCompleter{
		chatURL: cfg.ChatURL,
		model:   cfg.Model,
		client:  client,
	}
	c.tokens = auth.NewTokenProvider(func(ctx context.Context) (auth.Token, error) {
		return fetchErnieToken(ctx, client, cfg)
	})
	return c
}

type ernieTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func fetchErnieToken(ctx context.Context, client *http.Client, cfg ErnieConfig) (auth.Token, error) {
	q := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {cfg.AccessKey},
		"client_secret": {cfg.SecretKey},
	}
	var out ernieTokenResponse
	if err := postJSON(ctx, client, cfg.TokenURL+"?"+q.Encode(), struct{}{}, &out); err != nil {
		return auth.Token{}, err
	}
	if out.Error != "" {
		return auth.Token{}, fmt.Errorf("token endpoint: %s: %s", out.Error, out.ErrorDescription)
	}
	return auth.Token{Value: out.AccessToken, ExpiresIn: time.Duration(out.ExpiresIn) * time.Second}, nil
}

type ernieMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ernieChatRequest struct {
	Messages    []ernieMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
}

type ernieChatResponse struct {
	Result    string `json:"result"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

func (c *ErnieCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/%s?access_token=%s", c.chatURL, c.model, url.QueryEscape(token))
	var out ernieChatResponse
	req := ernieChatRequest{
		Messages:    []ernieMessage{{Role: "user", Content: prompt}},
		Temperature: 0.95,
	}
	if err := postJSON(ctx, c.client, u, req, &out); err != nil {
		return "", err
	}

	if out.ErrorCode != 0 {
		if out.ErrorCode == ernieTokenInvalid || out.ErrorCode == ernieTokenExpired {
			c.tokens.Invalidate()
		}
		return "", fmt.Errorf("ernie error %d: %s", out.ErrorCode, out.ErrorMsg)
	}
	if out.Result == "" {
		return "", fmt.Errorf("%w: empty ernie result", models.ErrInvalidResponse)
	}
	return stripCodeFences(out.Result), nil
}
