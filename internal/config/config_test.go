package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolvePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ARGENT_HOME", home)
	t.Setenv("ARGENT_DB_PATH", "")
	t.Setenv("ARGENT_CATALOG", "/etc/argent/story.yaml")
	t.Setenv("ARGENT_CONFIG", "")

	p, err := ResolvePaths()
	if err != nil {
		t.Fatal(err)
	}
	if p.Home != home {
		t.Errorf("Home = %s", p.Home)
	}
	if p.DBPath != filepath.Join(home, "argent.db") {
		t.Errorf("DBPath = %s", p.DBPath)
	}
	if p.CatalogPath != "/etc/argent/story.yaml" {
		t.Errorf("CatalogPath = %s", p.CatalogPath)
	}
	if p.ConfigPath != filepath.Join(home, "argent.toml") {
		t.Errorf("ConfigPath = %s", p.ConfigPath)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ARGENT_DB_PATH", "ARGENT_CATALOG", "ARGENT_CONFIG", "GEMINI_API_KEY", "ARGENT_GEMINI_MODEL",
		"ARGENT_AGENT_RESPONSES", "ARGENT_FORCE_IMMEDIATE", "ARGENT_PIPELINE_WORKERS", "ARGENT_PIPELINE_QUEUE",
		"ARGENT_HISTORY_WINDOW", "ARGENT_JOB_POLL_INTERVAL", "ARGENT_EMAIL_ENABLED", "ARGENT_SMS_ENABLED",
		"MONGODB_URI", "ARGENT_MONGO_DATABASE", "ARGENT_OTEL_ENDPOINT", "ARGENT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARGENT_HOME", t.TempDir())

	cfg, paths, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != paths.DBPath || cfg.PipelineWorkers != 4 || cfg.JobPoll.Duration != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RepliesEnabled() {
		t.Error("replies enabled without an API key")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("ARGENT_HOME", home)

	toml := `
gemini_model = "gemini-file"
pipeline_workers = 2
history_window = 6
job_poll_interval = "30s"
force_immediate = true
log_level = "debug"
`
	if err := os.WriteFile(filepath.Join(home, "argent.toml"), []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARGENT_PIPELINE_WORKERS", "8")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("ARGENT_JOB_POLL_INTERVAL", "1m")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GeminiModel != "gemini-file" || cfg.HistoryWindow != 6 || !cfg.ForceImmediate || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.PipelineWorkers != 8 {
		t.Errorf("PipelineWorkers = %d, want env override 8", cfg.PipelineWorkers)
	}
	if cfg.JobPoll.Duration != time.Minute {
		t.Errorf("JobPoll = %s, want 1m", cfg.JobPoll)
	}
	if !cfg.RepliesEnabled() {
		t.Error("replies should be enabled with an API key")
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("ARGENT_HOME", home)
	path := filepath.Join(home, "bad.toml")
	if err := os.WriteFile(path, []byte("pipeline_workers = 0\nlog_level = \"loud\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "pipeline_workers") || !strings.Contains(err.Error(), "loud") {
		t.Errorf("err = %v", err)
	}

	if err := os.WriteFile(path, []byte("not = [valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseLevel(t *testing.T) {
	for in, ok := range map[string]bool{"debug": true, "INFO": true, "": true, "warning": true, "error": true, "trace": false} {
		if _, err := ParseLevel(in); (err == nil) != ok {
			t.Errorf("ParseLevel(%q) err = %v", in, err)
		}
	}
}
