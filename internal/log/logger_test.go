package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = sync.Once{}

	Setup("debug", "json")
	if logger == nil {
		t.Fatal("logger should not be nil")
	}
}

func TestWithRule(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithRule("//pkg:build").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if out["rule"] != "//pkg:build" {
		t.Errorf("expected rule %q, got %v", "//pkg:build", out["rule"])
	}
	if out["msg"] != "hello" {
		t.Errorf("expected msg hello, got %v", out["msg"])
	}
}

func TestWithPhase(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithPhase("checkout").Info("phase msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if out["phase"] != "checkout" {
		t.Errorf("expected phase checkout, got %v", out["phase"])
	}
}

func TestTextFormat(t *testing.T) {
	l := newLogger("warn", "text")
	if l.Handler() == nil {
		t.Fatal("expected a handler")
	}
}
