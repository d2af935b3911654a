package zaplog

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core))

	logger.Debug("batch forwarded", "count", 3, "first_id", int64(10))
	logger.Error("relay failed", "err", errors.New("boom"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.DebugLevel || fields["count"] != int64(3) || fields["first_id"] != int64(10) {
		t.Fatalf("unexpected first entry %+v %v", entries[0].Entry, fields)
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].ContextMap()["err"] != "boom" {
		t.Fatalf("unexpected second entry %+v %v", entries[1].Entry, entries[1].ContextMap())
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := Wrap(zap.New(core))

	logger.Info("ignored")
	logger.Warn("kept", "slot", "staged_push:enqueuer:slot:0")

	if logs.Len() != 1 || logs.All()[0].Message != "kept" {
		t.Fatalf("expected only the warning, got %v", logs.All())
	}
}

func TestWrapNil(t *testing.T) {
	Wrap(nil).Info("no panic")
}

func TestNew(t *testing.T) {
	if _, err := New("verbose", "json"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	logger, err := New("debug", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be enabled")
	}
}
