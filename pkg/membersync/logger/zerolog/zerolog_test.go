package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/viralboard/membersync/pkg/membersync"
)

func TestZerologLogger_WritesFields(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output)
	logger := NewLogger(&zlog)

	logger.Info("membership synced",
		membersync.Field{Key: "uid", Value: "u1"},
		membersync.Field{Key: "records", Value: 3},
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if entry["message"] != "membership synced" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["uid"] != "u1" {
		t.Errorf("uid = %v", entry["uid"])
	}
	if entry["records"] != float64(3) {
		t.Errorf("records = %v", entry["records"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestZerologLogger_ErrorValue(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output)
	logger := NewLogger(&zlog)

	logger.Warn("failed", membersync.Field{Key: "error", Value: errors.New("boom")})

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v", entry["error"])
	}
}

func TestZerologLogger_RespectsLevel(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output).Level(zerolog.WarnLevel)
	logger := NewLogger(&zlog)

	logger.Debug("hidden")
	logger.Info("hidden")
	if output.Len() != 0 {
		t.Errorf("expected no output below warn level, got %q", output.String())
	}

	logger.Error("shown")
	if output.Len() == 0 {
		t.Error("expected error log to be written")
	}
}
