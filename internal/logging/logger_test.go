package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "warn", "json")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}

	logger.Warn("kept", "payment_id", "p-1")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["payment_id"] != "p-1" {
		t.Fatalf("expected payment_id attr, got %v", entry)
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "loud", "text")
	logger.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("expected info output, got %q", buf.String())
	}
}
