package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haricheung/sconny/internal/extract"
)

var envKeys = []string{
	"SCONNY_SERVICE", "SCONNY_MODEL", "SCONNY_OPENAI_BASE_URL", "SCONNY_OLLAMA_BASE_URL",
	"SCONNY_OPENAI_API_KEY", "OPENAI_API_KEY", "SCONNY_HTTP_TIMEOUT_SECS", "SCONNY_OPENAI_TIMEOUT_SECS",
	"SCONNY_DRY_RUN", "SCONNY_REQUIRE_CONFIRMATION", "SCONNY_TIMEOUT_SEC", "SCONNY_GUARD",
	"SCONNY_DENYLIST", "SCONNY_STORE", "SCONNY_CACHE_DIR",
}

// isolate unsets every variable Load reads and points the default config
// path at an empty directory. Original values are restored after the test.
func isolate(t *testing.T) Options {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	return Options{DotEnv: filepath.Join(home, "absent.env")}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- defaults ---

func TestLoad_Defaults(t *testing.T) {
	// Nothing configured: openai, gpt-4.1, confirmation on, 15s timeout, guard on
	cfg, err := Load(isolate(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service != "openai" || cfg.Model != DefaultOpenAIModel {
		t.Errorf("service/model = %q/%q", cfg.Service, cfg.Model)
	}
	if cfg.Policy.DryRun || !cfg.Policy.RequireConfirmation || cfg.Policy.TimeoutSec != 15 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if !cfg.Guard {
		t.Error("guard should default on")
	}
	if cfg.HTTPTimeoutSec != DefaultHTTPTimeoutSec {
		t.Errorf("http timeout = %d", cfg.HTTPTimeoutSec)
	}
	if cfg.CacheDir == "" {
		t.Error("cache dir should default")
	}
}

func TestLoad_OllamaModelDefault(t *testing.T) {
	// service=ollama without a model picks the Ollama default and base URL
	opts := isolate(t)
	t.Setenv("SCONNY_SERVICE", "Ollama")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kind() != extract.OllamaChat || cfg.Model != DefaultOllamaModel {
		t.Errorf("kind=%v model=%q", cfg.Kind(), cfg.Model)
	}
	if cfg.BaseURL() != DefaultOllamaBaseURL {
		t.Errorf("base URL = %q", cfg.BaseURL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama config should validate without a key: %v", err)
	}
}

// --- file ---

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	// YAML values replace defaults; keys it omits keep their defaults
	opts := isolate(t)
	opts.Path = writeFile(t, "config.yaml", `
service: ollama
model: qwen2.5-coder
ollama:
  base_url: http://gpu-box:11434
policy:
  dry_run: true
  timeout_sec: 40
`)
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service != "ollama" || cfg.Model != "qwen2.5-coder" || cfg.BaseURL() != "http://gpu-box:11434" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Policy.DryRun || cfg.Policy.TimeoutSec != 40 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if !cfg.Policy.RequireConfirmation {
		t.Error("require_confirmation should keep its default")
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	// An explicit --config path that does not exist is an error
	opts := isolate(t)
	opts.Path = filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(opts); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	// Malformed YAML names the file
	opts := isolate(t)
	opts.Path = writeFile(t, "config.yaml", "policy: [\n")
	_, err := Load(opts)
	if err == nil || !strings.Contains(err.Error(), "config.yaml") {
		t.Errorf("err = %v, want parse error naming the file", err)
	}
}

// --- environment ---

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Environment variables win over YAML
	opts := isolate(t)
	opts.Path = writeFile(t, "config.yaml", "model: from-file\npolicy:\n  timeout_sec: 40\n")
	t.Setenv("SCONNY_MODEL", "from-env")
	t.Setenv("SCONNY_TIMEOUT_SEC", "5")
	t.Setenv("SCONNY_DRY_RUN", "true")
	t.Setenv("SCONNY_REQUIRE_CONFIRMATION", "false")
	t.Setenv("SCONNY_GUARD", "0")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "from-env" || cfg.Policy.TimeoutSec != 5 {
		t.Errorf("model=%q timeout=%d", cfg.Model, cfg.Policy.TimeoutSec)
	}
	if !cfg.Policy.DryRun || cfg.Policy.RequireConfirmation || cfg.Guard {
		t.Errorf("policy=%+v guard=%v", cfg.Policy, cfg.Guard)
	}
}

func TestLoad_SconnyKeyWinsOverOpenAIKey(t *testing.T) {
	// SCONNY_OPENAI_API_KEY takes precedence over OPENAI_API_KEY
	opts := isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-shared")
	t.Setenv("SCONNY_OPENAI_API_KEY", "sk-sconny")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM().APIKey; got != "sk-sconny" {
		t.Errorf("APIKey = %q, want sk-sconny", got)
	}
}

func TestLoad_FallsBackToOpenAIKey(t *testing.T) {
	// OPENAI_API_KEY is used when SCONNY_OPENAI_API_KEY is unset
	opts := isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-shared")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM().APIKey; got != "sk-shared" {
		t.Errorf("APIKey = %q, want sk-shared", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_LegacyTimeoutAlias(t *testing.T) {
	// SCONNY_OPENAI_TIMEOUT_SECS is honoured when SCONNY_HTTP_TIMEOUT_SECS is unset
	opts := isolate(t)
	t.Setenv("SCONNY_OPENAI_TIMEOUT_SECS", "90")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPTimeoutSec != 90 {
		t.Errorf("http timeout = %d, want 90", cfg.HTTPTimeoutSec)
	}
}

func TestLoad_InvalidEnvValues(t *testing.T) {
	// Non-numeric timeouts, non-boolean toggles and unknown services fail with the variable name
	cases := map[string]string{
		"SCONNY_TIMEOUT_SEC":       "fifteen",
		"SCONNY_HTTP_TIMEOUT_SECS": "-1",
		"SCONNY_DRY_RUN":           "maybe",
		"SCONNY_SERVICE":           "gemini",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			opts := isolate(t)
			t.Setenv(key, val)
			_, err := Load(opts)
			if err == nil {
				t.Fatalf("%s=%s: expected error", key, val)
			}
			if key != "SCONNY_SERVICE" && !strings.Contains(err.Error(), key) {
				t.Errorf("error %q should name %s", err, key)
			}
		})
	}
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	// .env fills unset variables but never replaces ones already set
	opts := isolate(t)
	opts.DotEnv = writeFile(t, ".env", "SCONNY_MODEL=from-dotenv\nSCONNY_TIMEOUT_SEC=7\n")
	t.Setenv("SCONNY_TIMEOUT_SEC", "9")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "from-dotenv" {
		t.Errorf("model = %q, want from-dotenv", cfg.Model)
	}
	if cfg.Policy.TimeoutSec != 9 {
		t.Errorf("timeout = %d, want 9 (env wins over .env)", cfg.Policy.TimeoutSec)
	}
}

// --- overrides ---

func TestLoad_OverridesWin(t *testing.T) {
	// Command-line overrides beat environment variables
	opts := isolate(t)
	t.Setenv("SCONNY_DRY_RUN", "false")
	t.Setenv("SCONNY_MODEL", "env-model")
	dry, model, timeout := true, "flag-model", uint(3)
	opts.Overrides = Overrides{DryRun: &dry, Model: &model, TimeoutSec: &timeout}
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Policy.DryRun || cfg.Model != "flag-model" || cfg.Policy.TimeoutSec != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
}

// --- Validate ---

func TestValidate_OpenAIWithoutKey(t *testing.T) {
	// OpenAI without a key fails validation naming the API key
	cfg, err := Load(isolate(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("Validate = %v, want missing API key", err)
	}
}

func TestPaths_UnderCacheDir(t *testing.T) {
	// Request logs, history and debug log live under CacheDir
	c := &Config{CacheDir: "/var/cache/sconny"}
	if c.RequestLogDir() != filepath.Join("/var/cache/sconny", "requests") ||
		c.HistoryPath() != filepath.Join("/var/cache/sconny", "history") ||
		c.DebugLogPath() != filepath.Join("/var/cache/sconny", "debug.log") {
		t.Errorf("paths = %s %s %s", c.RequestLogDir(), c.HistoryPath(), c.DebugLogPath())
	}
}
