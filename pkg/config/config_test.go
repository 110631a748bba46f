package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Engine.ClusterSim != 0.7 {
		t.Errorf("expected default cluster_sim 0.7, got %f", cfg.Engine.ClusterSim)
	}
	if cfg.Engine.SubclusterSim != 0.75 {
		t.Errorf("expected default subcluster_sim 0.75, got %f", cfg.Engine.SubclusterSim)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model text-embedding-3-small, got %s", cfg.Embedding.Model)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestValidate_InvalidClusterSim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.ClusterSim = 1.5
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for cluster_sim > 1")
	}

	cfg.Engine.ClusterSim = 0
	err = Validate(cfg)
	if err == nil {
		t.Error("expected error for cluster_sim == 0")
	}
}

func TestValidate_SubclusterSimBelowClusterSim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.SubclusterSim = cfg.Engine.ClusterSim - 0.1
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for subcluster_sim below cluster_sim")
	}
}

func TestValidate_PairSimMaxOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.PairSimMax = 1.5
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for pair_sim_max > 1")
	}

	cfg.Engine.PairSimMax = cfg.Engine.SubclusterSim - 0.1
	err = Validate(cfg)
	if err == nil {
		t.Error("expected error for pair_sim_max below subcluster_sim")
	}
}

func TestValidate_InvalidRetrieverBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retriever.Backend = "elasticsearch"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported retriever backend")
	}
}

func TestValidate_InvalidMirrorBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mirror.Backend = "elasticsearch"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported mirror backend")
	}
}

func TestValidate_InvalidStoreBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "mongodb"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported store backend")
	}
}

func TestValidate_InvalidCacheBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = "memcached"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported cache backend")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Engine.ClusterSim = 5.0
	cfg.Retriever.Backend = "bogus"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected multiple validation errors")
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 9090
  host: 127.0.0.1

engine:
  cluster_sim: 0.6
  subcluster_sim: 0.65
  pair_sim_max: 0.95

retriever:
  backend: qdrant
  index: test-collection
  host: localhost:6334
  page_size: 50
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "linkscluster.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Engine.ClusterSim != 0.6 {
		t.Errorf("expected cluster_sim 0.6, got %f", cfg.Engine.ClusterSim)
	}
	if cfg.Engine.SubclusterSim != 0.65 {
		t.Errorf("expected subcluster_sim 0.65, got %f", cfg.Engine.SubclusterSim)
	}
	if cfg.Retriever.Backend != "qdrant" {
		t.Errorf("expected backend qdrant, got %s", cfg.Retriever.Backend)
	}
	if cfg.Retriever.Index != "test-collection" {
		t.Errorf("expected index test-collection, got %s", cfg.Retriever.Index)
	}
	if cfg.Retriever.PageSize != 50 {
		t.Errorf("expected page_size 50, got %d", cfg.Retriever.PageSize)
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
auth:
  api_keys:
    - ${TEST_API_KEY}
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "linkscluster.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if len(cfg.Auth.APIKeys) != 1 {
		t.Fatalf("expected 1 API key, got %d", len(cfg.Auth.APIKeys))
	}
	if cfg.Auth.APIKeys[0] != "sk-test-123" {
		t.Errorf("expected interpolated API key, got %s", cfg.Auth.APIKeys[0])
	}
}

func TestLoadFromFile_InvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/linkscluster.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "linkscluster.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile_InvalidValues(t *testing.T) {
	content := `
server:
  port: 99999
engine:
  cluster_sim: 5.0
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "linkscluster.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadFromFile_DefaultsPreserved(t *testing.T) {
	// Partial config should preserve defaults for unset fields
	content := `
server:
  port: 3000
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "linkscluster.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	// Defaults should be preserved for unset fields
	if cfg.Engine.ClusterSim != 0.7 {
		t.Errorf("expected default cluster_sim 0.7, got %f", cfg.Engine.ClusterSim)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %s", cfg.Embedding.Model)
	}
}

func TestGenerateTemplate(t *testing.T) {
	tmpl := GenerateTemplate()

	required := []string{
		"server:", "port:", "host:",
		"engine:", "cluster_sim:", "subcluster_sim:", "pair_sim_max:",
		"embedding:", "provider:", "model:",
		"store:", "backend:",
		"retriever:", "index:",
		"mirror:", "collection:",
		"cache:",
		"auth:", "api_keys:",
	}

	for _, s := range required {
		if !strings.Contains(tmpl, s) {
			t.Errorf("template missing %q", s)
		}
	}
}
