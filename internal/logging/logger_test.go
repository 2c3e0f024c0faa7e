package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")
	logger.Debug("lease signed", "lease_id", "L1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if entry["lease_id"] != "L1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewWithWriterInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "verbose", "text")
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}
