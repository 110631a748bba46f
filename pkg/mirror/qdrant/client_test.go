package qdrant

import "testing"

func TestConvertValue(t *testing.T) {
	if got := convertValue("hello"); got.GetStringValue() != "hello" {
		t.Errorf("expected string value 'hello', got %v", got)
	}
	if got := convertValue(true); !got.GetBoolValue() {
		t.Errorf("expected bool value true, got %v", got)
	}
	if got := convertValue(int64(42)); got.GetIntegerValue() != 42 {
		t.Errorf("expected integer value 42, got %v", got)
	}
	if got := convertValue(3.5); got.GetDoubleValue() != 3.5 {
		t.Errorf("expected double value 3.5, got %v", got)
	}
	if got := convertValue(nil); got.GetNullValue().String() == "" && got.Kind == nil {
		t.Errorf("expected null value for nil input")
	}
}

func TestConvertMetadataToPayloadEmpty(t *testing.T) {
	if convertMetadataToPayload(nil) != nil {
		t.Error("expected nil payload for nil metadata")
	}
	if convertMetadataToPayload(map[string]any{}) != nil {
		t.Error("expected nil payload for empty metadata")
	}
}

func TestConvertMetadataToPayloadPopulated(t *testing.T) {
	payload := convertMetadataToPayload(map[string]any{"cluster_id": "abc"})
	if len(payload) != 1 {
		t.Fatalf("expected 1 field, got %d", len(payload))
	}
	if payload["cluster_id"].GetStringValue() != "abc" {
		t.Errorf("expected cluster_id 'abc', got %v", payload["cluster_id"])
	}
}
