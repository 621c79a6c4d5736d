// Package config builds the immutable runtime configuration once at startup.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file,
// a .env file in the working directory, process environment variables, and
// explicit command-line overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/haricheung/sconny/internal/extract"
	"github.com/haricheung/sconny/internal/llm"
	"github.com/haricheung/sconny/internal/policy"
)

const (
	DefaultOpenAIBaseURL  = "https://api.openai.com"
	DefaultOllamaBaseURL  = "http://127.0.0.1:11434"
	DefaultOpenAIModel    = "gpt-4.1"
	DefaultOllamaModel    = "llama3.1"
	DefaultHTTPTimeoutSec = 60
)

// Config is the whole runtime configuration. Treat it as read-only after Load.
type Config struct {
	Service        string        `yaml:"service"`
	Model          string        `yaml:"model"`
	OpenAI         OpenAIConfig  `yaml:"openai"`
	Ollama         OllamaConfig  `yaml:"ollama"`
	HTTPTimeoutSec uint          `yaml:"http_timeout_sec"`
	Policy         policy.Policy `yaml:"policy"`
	Guard          bool          `yaml:"guard"`
	Denylist       string        `yaml:"denylist"`  // guard YAML file; "" means the default location
	CacheDir       string        `yaml:"cache_dir"` // debug log, request logs and history
}

// OpenAIConfig holds OpenAI Responses API settings.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Store   bool   `yaml:"store"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Overrides are command-line values. Nil fields were not given.
type Overrides struct {
	Service     *string
	Model       *string
	DryRun      *bool
	Confirm     *bool
	TimeoutSec  *uint
	Guard       *bool
	CacheDir    *string
	DenylistYML *string
}

// Options controls where Load reads from.
type Options struct {
	// Path is the YAML config file. Empty means DefaultPath(); a missing
	// default file is ignored, a missing explicit file is an error.
	Path string
	// DotEnv is the .env file; empty means ".env". A missing file is ignored.
	DotEnv    string
	Overrides Overrides
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Service:        "openai",
		HTTPTimeoutSec: DefaultHTTPTimeoutSec,
		Policy:         policy.Default(),
		Guard:          true,
		OpenAI:         OpenAIConfig{BaseURL: DefaultOpenAIBaseURL},
		Ollama:         OllamaConfig{BaseURL: DefaultOllamaBaseURL},
	}
}

// DefaultPath returns ~/.config/sconny/config.yaml (platform config dir).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sconny", "config.yaml")
}

// Load builds the configuration.
//
// Expectations:
//   - Defaults: openai, gpt-4.1, require_confirmation=true, timeout_sec=15, guard on
//   - YAML values override defaults; unset YAML keys keep defaults
//   - .env values never override variables already in the environment
//   - SCONNY_OPENAI_API_KEY wins over OPENAI_API_KEY
//   - SCONNY_OPENAI_TIMEOUT_SECS is accepted when SCONNY_HTTP_TIMEOUT_SECS is unset
//   - Overrides win over everything
//   - The model defaults per service when nothing sets it
//   - Invalid numbers, booleans or service names fail with the variable name
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(opts.Path); err != nil {
		return nil, err
	}

	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err == nil {
		log.Printf("[CONFIG] loaded %s", dotenv)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyOverrides(opts.Overrides)

	cfg.Service = strings.ToLower(strings.TrimSpace(cfg.Service))
	if _, err := extract.ParseProviderKind(cfg.Service); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
		if cfg.Service == "ollama" {
			cfg.Model = DefaultOllamaModel
		}
	}
	if cfg.Policy.TimeoutSec == 0 {
		cfg.Policy.TimeoutSec = policy.DefaultTimeoutSec
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	log.Printf("[CONFIG] loaded %s", path)
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Service, "SCONNY_SERVICE")
	setString(&c.Model, "SCONNY_MODEL")
	setString(&c.OpenAI.BaseURL, "SCONNY_OPENAI_BASE_URL")
	setString(&c.Ollama.BaseURL, "SCONNY_OLLAMA_BASE_URL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.APIKey, "SCONNY_OPENAI_API_KEY")
	setString(&c.Denylist, "SCONNY_DENYLIST")
	setString(&c.CacheDir, "SCONNY_CACHE_DIR")

	timeoutVar := "SCONNY_HTTP_TIMEOUT_SECS"
	if os.Getenv(timeoutVar) == "" {
		timeoutVar = "SCONNY_OPENAI_TIMEOUT_SECS"
	}
	for _, f := range []func() error{
		func() error { return setUint(&c.HTTPTimeoutSec, timeoutVar) },
		func() error { return setUint(&c.Policy.TimeoutSec, "SCONNY_TIMEOUT_SEC") },
		func() error { return setBool(&c.Policy.DryRun, "SCONNY_DRY_RUN") },
		func() error { return setBool(&c.Policy.RequireConfirmation, "SCONNY_REQUIRE_CONFIRMATION") },
		func() error { return setBool(&c.Guard, "SCONNY_GUARD") },
		func() error { return setBool(&c.OpenAI.Store, "SCONNY_STORE") },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Service != nil {
		c.Service = *o.Service
	}
	if o.Model != nil {
		c.Model = *o.Model
	}
	if o.DryRun != nil {
		c.Policy.DryRun = *o.DryRun
	}
	if o.Confirm != nil {
		c.Policy.RequireConfirmation = *o.Confirm
	}
	if o.TimeoutSec != nil {
		c.Policy.TimeoutSec = *o.TimeoutSec
	}
	if o.Guard != nil {
		c.Guard = *o.Guard
	}
	if o.CacheDir != nil {
		c.CacheDir = *o.CacheDir
	}
	if o.DenylistYML != nil {
		c.Denylist = *o.DenylistYML
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setUint(dst *uint, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not a non-negative integer", key, v)
	}
	*dst = uint(n)
	return nil
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	*dst = b
	return nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "sconny")
	}
	return filepath.Join(os.TempDir(), "sconny")
}

// Kind returns the provider kind for the configured service.
func (c *Config) Kind() extract.ProviderKind {
	k, _ := extract.ParseProviderKind(c.Service)
	return k
}

// BaseURL returns the base URL of the configured service.
func (c *Config) BaseURL() string {
	if c.Kind() == extract.OllamaChat {
		return c.Ollama.BaseURL
	}
	return c.OpenAI.BaseURL
}

// LLM returns the transport settings for the configured service.
func (c *Config) LLM() llm.Settings {
	s := llm.Settings{
		Kind:    c.Kind(),
		BaseURL: c.BaseURL(),
		Model:   c.Model,
		Timeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
	}
	if s.Kind == extract.OpenAIResponses {
		s.APIKey = c.OpenAI.APIKey
		s.Store = c.OpenAI.Store
	}
	return s
}

// RequestLogDir is where per-request JSONL logs are written.
func (c *Config) RequestLogDir() string { return filepath.Join(c.CacheDir, "requests") }

// HistoryPath is the LevelDB directory for request history.
func (c *Config) HistoryPath() string { return filepath.Join(c.CacheDir, "history") }

// DebugLogPath is the file the standard logger writes to unless verbose.
func (c *Config) DebugLogPath() string { return filepath.Join(c.CacheDir, "debug.log") }

// Validate reports every missing provider setting in one error.
func (c *Config) Validate() error {
	return llm.New(c.LLM()).Validate()
}
