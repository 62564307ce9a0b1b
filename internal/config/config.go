package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderProxy  = "proxy"
	ProviderOpenAI = "openai"
	ProviderErnie  = "ernie"
)

type Config struct {
	DataDir string

	GitHubToken   string
	GitHubAPIURL  string
	GitHubURL     string
	RawContentURL string
	UserAgent     string
	HTTPTimeout   time.Duration

	TrendingLimit int
	NewReposLimit int

	DetailDelay      time.Duration
	ImageDelay       time.Duration
	SummaryDelay     time.Duration
	SummaryMaxReadme int

	LLMProvider string
	LLMProxyURL string
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string

	ErnieAccessKey string
	ErnieSecretKey string
	ErnieModel     string
	ErnieTokenURL  string
	ErnieChatURL   string

	SurrealURL  string
	SurrealNS   string
	SurrealDB   string
	SurrealUser string
	SurrealPass string

	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("github_api_url", "https://api.github.com")
	v.SetDefault("github_url", "https://github.com")
	v.SetDefault("raw_content_url", "https://raw.githubusercontent.com")
	v.SetDefault("user_agent", "trend-watch (+https://github.com/kevinmichaelchen/trend-watch)")
	v.SetDefault("http_timeout", 30*time.Second)

	v.SetDefault("trending_limit", 5)
	v.SetDefault("new_repos_limit", 5)

	v.SetDefault("detail_delay", time.Second)
	v.SetDefault("image_delay", 500*time.Millisecond)
	v.SetDefault("summary_delay", 3*time.Second)
	v.SetDefault("summary_max_readme", 6000)

	v.SetDefault("llm_provider", ProviderProxy)
	v.SetDefault("llm_proxy_url", "https://api-amonduul.vercel.app/api/chat")
	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm_model", "gpt-4o-mini")

	v.SetDefault("ernie_model", "ernie-speed-128k")
	v.SetDefault("ernie_token_url", "https://aip.baidubce.com/oauth/2.0/token")
	v.SetDefault("ernie_chat_url", "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat")

	v.SetDefault("embedding_base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dimensions", 1536)
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir: v.GetString("data_dir"),

		GitHubToken:   v.GetString("github_token"),
		GitHubAPIURL:  trimURL(v.GetString("github_api_url")),
		GitHubURL:     trimURL(v.GetString("github_url")),
		RawContentURL: trimURL(v.GetString("raw_content_url")),
		UserAgent:     v.GetString("user_agent"),
		HTTPTimeout:   v.GetDuration("http_timeout"),

		TrendingLimit: v.GetInt("trending_limit"),
		NewReposLimit: v.GetInt("new_repos_limit"),

		DetailDelay:      v.GetDuration("detail_delay"),
		ImageDelay:       v.GetDuration("image_delay"),
		SummaryDelay:     v.GetDuration("summary_delay"),
		SummaryMaxReadme: v.GetInt("summary_max_readme"),

		LLMProvider: strings.ToLower(v.GetString("llm_provider")),
		LLMProxyURL: v.GetString("llm_proxy_url"),
		LLMBaseURL:  trimURL(v.GetString("llm_base_url")),
		LLMAPIKey:   v.GetString("llm_api_key"),
		LLMModel:    v.GetString("llm_model"),

		ErnieAccessKey: v.GetString("ernie_access_key"),
		ErnieSecretKey: v.GetString("ernie_secret_key"),
		ErnieModel:     v.GetString("ernie_model"),
		ErnieTokenURL:  v.GetString("ernie_token_url"),
		ErnieChatURL:   trimURL(v.GetString("ernie_chat_url")),

		SurrealURL:  v.GetString("surreal_url"),
		SurrealNS:   v.GetString("surreal_ns"),
		SurrealDB:   v.GetString("surreal_db"),
		SurrealUser: v.GetString("surreal_user"),
		SurrealPass: v.GetString("surreal_pass"),

		EmbeddingBaseURL:    trimURL(v.GetString("embedding_base_url")),
		EmbeddingAPIKey:     v.GetString("embedding_api_key"),
		EmbeddingModel:      v.GetString("embedding_model"),
		EmbeddingDimensions: v.GetInt("embedding_dimensions"),
	}

	// The SDK appends /rpc automatically
	cfg.SurrealURL = strings.TrimSuffix(cfg.SurrealURL, "/rpc")
	cfg.SurrealURL = strings.TrimSuffix(cfg.SurrealURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderProxy, ProviderOpenAI, ProviderErnie:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (valid: proxy, openai, ernie)", c.LLMProvider)
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.TrendingLimit < 0 || c.NewReposLimit < 0 {
		return fmt.Errorf("discovery limits must not be negative (trending=%d, new=%d)", c.TrendingLimit, c.NewReposLimit)
	}
	if c.LLMProvider == ProviderErnie && (c.ErnieAccessKey == "" || c.ErnieSecretKey == "") {
		return fmt.Errorf("LLM_PROVIDER=ernie requires ERNIE_ACCESS_KEY and ERNIE_SECRET_KEY")
	}
	return nil
}

// MirrorEnabled reports whether records should be mirrored into SurrealDB.
func (c *Config) MirrorEnabled() bool {
	return c.SurrealURL != ""
}

// EmbeddingEnabled reports whether summaries should be embedded for search.
func (c *Config) EmbeddingEnabled() bool {
	return c.EmbeddingAPIKey != ""
}

func trimURL(s string) string {
	return strings.TrimSuffix(s, "/")
}
