package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the paper pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Literature LiteratureConfig `mapstructure:"literature"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// AllowedOrigins lists browser origins allowed to send credentials.
	// Empty means any origin, without credentials.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RunStreamEnabled exposes the SSE event stream for runs.
	RunStreamEnabled bool `mapstructure:"run_stream_enabled"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single OpenAI-compatible endpoint
type LLMProvider struct {
	Type       string              `mapstructure:"type"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model serves which agent role
type LLMRoutingConfig struct {
	Orchestration string `mapstructure:"orchestration"`
	Planning      string `mapstructure:"planning"`
	Research      string `mapstructure:"research"`
	Writing       string `mapstructure:"writing"`
	Critique      string `mapstructure:"critique"`
	Fallback      string `mapstructure:"fallback"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// AgentsConfig contains agent-specific settings
type AgentsConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations"`
	SubAgentMaxIterations int           `mapstructure:"subagent_max_iterations"`
	AgentTimeout          time.Duration `mapstructure:"agent_timeout"`
	MaxConcurrentRuns     int           `mapstructure:"max_concurrent_runs"`
	EnableStreaming       bool          `mapstructure:"enable_streaming"`

	// MaxRunTokens stops an orchestrated run once it has used this many
	// tokens across all agents. 0 is unlimited.
	MaxRunTokens int64 `mapstructure:"max_run_tokens"`
}

func (a AgentsConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("agents.max_iterations must be > 0")
	}
	if a.SubAgentMaxIterations <= 0 {
		return fmt.Errorf("agents.subagent_max_iterations must be > 0")
	}
	if a.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("agents.max_concurrent_runs must be > 0")
	}
	if a.MaxRunTokens < 0 {
		return fmt.Errorf("agents.max_run_tokens cannot be negative")
	}
	return nil
}

// WorkspaceConfig locates the directory tree the filesystem tools may touch.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// LiteratureConfig contains academic search settings
type LiteratureConfig struct {
	SemanticScholar SemanticScholarConfig `mapstructure:"semantic_scholar"`
	Arxiv           ArxivConfig           `mapstructure:"arxiv"`
	MaxResults      int                   `mapstructure:"max_results"`
	Timeout         time.Duration         `mapstructure:"timeout"`
	MaxRetries      int                   `mapstructure:"max_retries"`
	CacheTTL        time.Duration         `mapstructure:"cache_ttl"`
}

type SemanticScholarConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type ArxivConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// FetchConfig controls the paper fetch tool.
type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UseBrowser bool          `mapstructure:"use_browser"`
	MaxChars   int           `mapstructure:"max_chars"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis host was configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether enough Postgres settings exist to build a DSN.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || (strings.TrimSpace(p.Host) != "" && strings.TrimSpace(p.DBName) != "")
}

// DSN returns the configured URL or assembles one from the individual fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers must declare at least one provider")
	}
	routes := map[string]string{
		"orchestration": c.LLM.Routing.Orchestration,
		"planning":      c.LLM.Routing.Planning,
		"research":      c.LLM.Routing.Research,
		"writing":       c.LLM.Routing.Writing,
		"critique":      c.LLM.Routing.Critique,
		"fallback":      c.LLM.Routing.Fallback,
	}
	for role, model := range routes {
		if model == "" {
			continue
		}
		if _, _, ok := c.LLM.FindModel(model); !ok {
			return fmt.Errorf("llm.routing.%s references unknown model %q", role, model)
		}
	}
	if c.LLM.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	if err := c.Agents.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return fmt.Errorf("workspace.root is required")
	}
	return nil
}

// FindModel looks a model up by its configured key across all providers.
func (l LLMConfig) FindModel(name string) (LLMProvider, LLMModel, bool) {
	for _, p := range l.Providers {
		if m, ok := p.Models[name]; ok {
			return p, m, true
		}
	}
	return LLMProvider{}, LLMModel{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 30*time.Minute)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.run_stream_enabled", true)
	v.SetDefault("llm.providers", map[string]any{
		"openai": map[string]any{
			"type":        "openai",
			"base_url":    "https://api.openai.com/v1",
			"max_retries": 3,
			"timeout":     "120s",
			"models": map[string]any{
				"gpt-4o": map[string]any{
					"name": "gpt-4o", "api_name": "gpt-4o", "max_tokens": 8192, "temperature": 0.3,
					"cost_per_1k_input": 0.0025, "cost_per_1k_output": 0.01,
				},
				"gpt-4o-mini": map[string]any{
					"name": "gpt-4o-mini", "api_name": "gpt-4o-mini", "max_tokens": 8192, "temperature": 0.3,
					"cost_per_1k_input": 0.00015, "cost_per_1k_output": 0.0006,
				},
			},
		},
	})
	v.SetDefault("llm.routing.orchestration", "gpt-4o")
	v.SetDefault("llm.routing.planning", "gpt-4o")
	v.SetDefault("llm.routing.research", "gpt-4o-mini")
	v.SetDefault("llm.routing.writing", "gpt-4o")
	v.SetDefault("llm.routing.critique", "gpt-4o-mini")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "paperflow")
	v.SetDefault("telemetry.cost_tracking", true)
	v.SetDefault("agents.max_iterations", 60)
	v.SetDefault("agents.subagent_max_iterations", 25)
	v.SetDefault("agents.agent_timeout", 20*time.Minute)
	v.SetDefault("agents.max_concurrent_runs", 2)
	v.SetDefault("workspace.root", "./workspace")
	v.SetDefault("literature.semantic_scholar.enabled", true)
	v.SetDefault("literature.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("literature.arxiv.enabled", true)
	v.SetDefault("literature.arxiv.base_url", "http://export.arxiv.org/api/query")
	v.SetDefault("literature.max_results", 10)
	v.SetDefault("literature.timeout", 20*time.Second)
	v.SetDefault("literature.max_retries", 2)
	v.SetDefault("literature.cache_ttl", 24*time.Hour)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_chars", 20000)
	v.SetDefault("fetch.user_agent", "paperflow/1.0 (+research assistant)")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.timeout", 10*time.Second)
}

// Load reads config.json from path (or the usual search locations), applies
// PAPERFLOW_* environment overrides and validates the result. A missing config
// file is only an error when path is explicit.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PAPERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyWellKnownEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entrypoints; it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// applyWellKnownEnv honours the conventional variable names used by the
// upstream services when the config itself leaves them empty.
func applyWellKnownEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for name, p := range cfg.LLM.Providers {
			if p.Type == "openai" && p.APIKey == "" {
				p.APIKey = key
				cfg.LLM.Providers[name] = p
			}
		}
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		for name, p := range cfg.LLM.Providers {
			if p.Type == "openai" {
				p.BaseURL = base
				cfg.LLM.Providers[name] = p
			}
		}
	}
	if key := os.Getenv("SEMANTIC_SCHOLAR_API_KEY"); key != "" && cfg.Literature.SemanticScholar.APIKey == "" {
		cfg.Literature.SemanticScholar.APIKey = key
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.Storage.Postgres.URL == "" {
		cfg.Storage.Postgres.URL = dsn
	}
	if host := os.Getenv("REDIS_HOST"); host != "" && cfg.Storage.Redis.Host == "" {
		cfg.Storage.Redis.Host = host
		if port := os.Getenv("REDIS_PORT"); port != "" {
			cfg.Storage.Redis.Port = port
		}
	}
	if secret := os.Getenv("PAPERFLOW_JWT_SECRET"); secret != "" && cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = secret
	}
}
