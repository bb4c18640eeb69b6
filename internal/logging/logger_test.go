package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "users", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above warn, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("invalid json record: %v", err)
	}
	if record["msg"] != "shown" || record["users"] != float64(3) {
		t.Errorf("unexpected record %v", record)
	}
}

func TestSetupRejectsBadInput(t *testing.T) {
	if _, err := Setup(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := Setup(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
