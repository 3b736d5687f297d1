package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  anthropic:
    api_key: sk-test
extra_top_level: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "openai.api_key") {
		t.Fatalf("expected openai.api_key error, got %v", err)
	}
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: cohere
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "unknown llm.default_provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestLoadValidatesChannelTokens(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  anthropic:
    api_key: sk-test
channels:
  discord:
    enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "channels.discord.token") {
		t.Fatalf("expected discord token error, got %v", err)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("NEXUS_TEST_API_KEY", "sk-from-env")
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  anthropic:
    api_key: ${NEXUS_TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-from-env" {
		t.Fatalf("expected expanded api key, got %q", cfg.LLM.Anthropic.APIKey)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  anthropic:
    api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Session.MemoryWindow != 50 {
		t.Fatalf("expected default memory window 50, got %d", cfg.Session.MemoryWindow)
	}
	if cfg.Scheduler.MaxTasksPerSession != 10 {
		t.Fatalf("expected default task quota 10, got %d", cfg.Scheduler.MaxTasksPerSession)
	}
	if cfg.Subagent.MaxConcurrent != 5 {
		t.Fatalf("expected default subagent concurrency 5, got %d", cfg.Subagent.MaxConcurrent)
	}
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  anthropic:
    api_key: sk-test
---
llm:
  default_provider: openai
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error for multi-document file")
	}
	if !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("expected single document error, got %v", err)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
