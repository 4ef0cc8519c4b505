package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPipelineNormalizeDefaults(t *testing.T) {
	cfg := PipelineConfig{}.Normalize()
	if cfg.InsightBatchSize != 5 {
		t.Fatalf("expected batch size 5, got %d", cfg.InsightBatchSize)
	}
	if cfg.SummaryCharBudget != 15000 {
		t.Fatalf("expected char budget 15000, got %d", cfg.SummaryCharBudget)
	}
	if cfg.FinalizeGrace != 10*time.Second || cfg.DisconnectGrace != 30*time.Second {
		t.Fatalf("unexpected grace defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("normalized config should validate: %v", err)
	}
}

func TestPipelineValidate(t *testing.T) {
	bad := PipelineConfig{InsightBatchSize: 5, SummaryCharBudget: 10}.Normalize()
	bad.SummaryCharBudget = 10
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected char budget validation error")
	}
}

func TestSTTNormalizeAndValidate(t *testing.T) {
	cfg := STTConfig{}.Normalize()
	if cfg.Provider != "deepgram" || cfg.Model != "nova-2" || cfg.Language != "en-US" {
		t.Fatalf("unexpected stt defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing api key error")
	}
	cfg.APIKey = "dg-key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	cfg.Provider = "whisper"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "meetings"}
	if got, want := p.DSN(), "postgres://u:p@db:5432/meetings?sslmode=disable"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	p.URL = "postgres://override"
	if p.DSN() != "postgres://override" {
		t.Fatalf("explicit url must win")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "general": {"listen": ":9000"},
  "pipeline": {"insight_batch_size": 7, "finalize_grace": "2s"},
  "llm": {"model": "gpt-4o-mini"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETINGMIND_LLM_API_KEY", "sk-test")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.General.Listen != ":9000" {
		t.Fatalf("expected listen :9000, got %q", cfg.General.Listen)
	}
	if cfg.Pipeline.InsightBatchSize != 7 || cfg.Pipeline.FinalizeGrace != 2*time.Second {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Queue.Stream != "post-processing" {
		t.Fatalf("expected default queue stream, got %q", cfg.Queue.Stream)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
