package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"batch", Batch("batch-1"), KeyBatch, "batch-1"},
		{"rule", Rule("rule-7"), KeyRule, "rule-7"},
		{"action type", ActionType("create_task"), KeyActionType, "create_task"},
		{"action id", ActionID("a-2"), KeyActionID, "a-2"},
		{"status", Status("rolled_back"), KeyStatus, "rolled_back"},
		{"account", Account("work"), KeyAccount, "work"},
		{"error", Err(errors.New("boom")), KeyError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr_NilIsOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("done", Err(nil))

	if strings.Contains(buf.String(), KeyError) {
		t.Errorf("expected no error key, got %s", buf.String())
	}
}

func TestWithBatch(t *testing.T) {
	var buf bytes.Buffer
	logger := WithBatch(slog.New(slog.NewJSONHandler(&buf, nil)), "batch-1", "rule-1")
	logger.Info("Batch finished")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if entry[KeyBatch] != "batch-1" || entry[KeyRule] != "rule-1" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	a := AnonymizeEmail("partner@firm.example")
	b := AnonymizeEmail("partner@firm.example")
	c := AnonymizeEmail("associate@firm.example")

	if a != b {
		t.Error("hash must be stable")
	}
	if a == c {
		t.Error("different emails must hash differently")
	}
	if !strings.HasPrefix(a, "user:") || len(a) != len("user:")+16 {
		t.Errorf("unexpected format %q", a)
	}
	if strings.Contains(a, "firm.example") {
		t.Error("hash must not contain the address")
	}
	if AnonymizeEmail("") != "" {
		t.Error("empty email must stay empty")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("partner@firm.example")
	if attr.Key != KeyUserHash {
		t.Errorf("key = %q, want %q", attr.Key, KeyUserHash)
	}
	if attr.Value.String() != AnonymizeEmail("partner@firm.example") {
		t.Errorf("value = %q", attr.Value.String())
	}
}
