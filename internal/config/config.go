package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "config/config.toml"

// Duration decodes TOML strings such as "1500ms" or "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Addr           string `toml:"addr"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// AnalysisConfig selects between a managed SDK call and a user-supplied endpoint.
type AnalysisConfig struct {
	Mode           string   `toml:"mode"` // sdk | custom
	CustomEndpoint string   `toml:"custom_endpoint"`
	ResponsePath   string   `toml:"response_path"`
	Timeout        Duration `toml:"timeout"`
}

type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens"`
}

type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay"`
}

type BatchConfig struct {
	Delay       Duration `toml:"delay"`
	StopOnQuota bool     `toml:"stop_on_quota"`
}

type StorageConfig struct {
	Driver string `toml:"driver"` // memory | sqlite
	Path   string `toml:"path"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type WatchConfig struct {
	Dir         string   `toml:"dir"`
	AutoAnalyze bool     `toml:"auto_analyze"`
	Settle      Duration `toml:"settle"`
}

type ReportConfig struct {
	Title string `toml:"title"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Analysis AnalysisConfig `toml:"analysis"`
	LLM      LLMConfig      `toml:"llm"`
	Retry    RetryConfig    `toml:"retry"`
	Batch    BatchConfig    `toml:"batch"`
	Storage  StorageConfig  `toml:"storage"`
	Memgraph MemgraphConfig `toml:"memgraph"`
	Watch    WatchConfig    `toml:"watch"`
	Report   ReportConfig   `toml:"report"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 25 << 20,
		},
		Analysis: AnalysisConfig{
			Mode:    "sdk",
			Timeout: Duration{60 * time.Second},
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-1.5-flash",
			MaxTokens: 2048,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration{2 * time.Second},
		},
		Batch: BatchConfig{
			Delay:       Duration{1500 * time.Millisecond},
			StopOnQuota: true,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "droneguard.db",
		},
		Watch: WatchConfig{
			AutoAnalyze: true,
			Settle:      Duration{500 * time.Millisecond},
		},
		Report: ReportConfig{
			Title: "Technical Inspection Report",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads .env, then the TOML file (missing file means defaults),
// then applies environment overrides and validates the result.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values with environment variables when set.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")

	// API_KEY and GEMINI_API_KEY are accepted for compatibility with the
	// hosted dashboard deployment; LLM_API_KEY wins.
	setString(&c.LLM.APIKey, "API_KEY")
	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.LLM.APIKey, "LLM_API_KEY")

	setString(&c.Analysis.Mode, "ANALYSIS_MODE")
	setString(&c.Analysis.CustomEndpoint, "CUSTOM_ENDPOINT")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Memgraph.URI, "MEMGRAPH_URI")
	setString(&c.Memgraph.User, "MEMGRAPH_USER")
	setString(&c.Memgraph.Password, "MEMGRAPH_PASSWORD")
	setString(&c.Watch.Dir, "WATCH_DIR")

	if v := os.Getenv("BATCH_STOP_ON_QUOTA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Batch.StopOnQuota = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	c.Analysis.Mode = strings.ToLower(c.Analysis.Mode)
	switch c.Analysis.Mode {
	case "sdk":
		switch strings.ToLower(c.LLM.Provider) {
		case "gemini", "openai", "claude", "ollama":
		default:
			errs = append(errs, fmt.Errorf("unsupported llm provider: %q", c.LLM.Provider))
		}
	case "custom":
		if c.Analysis.CustomEndpoint == "" {
			errs = append(errs, errors.New("analysis.custom_endpoint is required in custom mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported analysis mode: %q", c.Analysis.Mode))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Batch.Delay.Duration < 0 {
		errs = append(errs, errors.New("batch.delay must not be negative"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}

	return errors.Join(errs...)
}
