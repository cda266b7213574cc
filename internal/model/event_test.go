package model

import (
	"encoding/json"
	"testing"
)

func TestLevel_Valid(t *testing.T) {
	for _, level := range Levels() {
		if !level.Valid() {
			t.Errorf("%q reported invalid", level)
		}
	}
	for _, level := range []Level{"", "TRACE", "info", "Warning"} {
		if level.Valid() {
			t.Errorf("%q reported valid", level)
		}
	}
}

func TestLogEvent_UnknownKeysRoundTrip(t *testing.T) {
	raw := `{"service_name":"svc","level":"INFO","message":"m","thread_name":"main","trace_id":"abc"}`
	var event LogEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Attrs["thread_name"] != "main" || event.Attrs["trace_id"] != "abc" {
		t.Fatalf("attrs = %v", event.Attrs)
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["thread_name"] != "main" || out["service_name"] != "svc" {
		t.Errorf("encoded = %s", encoded)
	}
}

func TestLogEvent_AttrsCannotShadowCoreFields(t *testing.T) {
	event := LogEvent{
		ServiceName: "svc",
		Level:       LevelInfo,
		Message:     "real message",
		Attrs:       map[string]any{"message": "shadow"},
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["message"] != "real message" {
		t.Errorf("message = %v", out["message"])
	}
}

func TestLogEvent_EncodedSize(t *testing.T) {
	event := LogEvent{ServiceName: "svc", Level: LevelInfo, Message: "m", SizeBytes: 77}
	if event.EncodedSize() != 77 {
		t.Errorf("size = %d, want recorded 77", event.EncodedSize())
	}
	event.SizeBytes = 0
	if event.EncodedSize() <= 0 {
		t.Error("fallback size not computed")
	}
}

func TestLogBatch_LevelDistribution(t *testing.T) {
	batch := LogBatch{
		BatchID:     "b",
		ServiceName: "svc",
		Events: []LogEvent{
			{Level: LevelInfo},
			{Level: LevelInfo},
			{Level: LevelError},
		},
	}
	if batch.Size() != 3 {
		t.Errorf("size = %d", batch.Size())
	}
	dist := batch.LevelDistribution()
	if dist[LevelInfo] != 2 || dist[LevelError] != 1 {
		t.Errorf("distribution = %v", dist)
	}
}
