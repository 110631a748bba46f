package pinecone

import (
	"errors"
	"testing"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("429 too many requests"), true},
		{"service unavailable", errors.New("503 service unavailable"), true},
		{"explicit rate limit phrase", errors.New("rate limit exceeded"), true},
		{"temporarily unavailable", errors.New("temporarily unavailable, try later"), true},
		{"not found", errors.New("404 not found"), false},
		{"bad request", errors.New("400 bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConvertMetadataEmpty(t *testing.T) {
	if convertMetadata(nil) != nil {
		t.Error("expected nil for nil metadata")
	}
	if convertMetadata(map[string]any{}) != nil {
		t.Error("expected nil for empty metadata")
	}
}

func TestConvertMetadataPopulated(t *testing.T) {
	s := convertMetadata(map[string]any{"cluster_id": "abc", "vector_count": float64(3)})
	if s == nil {
		t.Fatal("expected non-nil struct for populated metadata")
	}
	if s.Fields["cluster_id"].GetStringValue() != "abc" {
		t.Errorf("expected cluster_id 'abc', got %v", s.Fields["cluster_id"])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		t.Error("expected positive default MaxRetries")
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff <= cfg.InitialBackoff {
		t.Error("expected InitialBackoff < MaxBackoff")
	}
}
