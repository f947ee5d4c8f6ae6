package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"microratchet/internal/util/logger"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := logger.New(logger.Config{Environment: "development", Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Named("session").Debug("ratchet advanced", "steps", 3)
	_ = l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "ratchet advanced") || !strings.Contains(string(b), "steps") {
		t.Fatalf("log file = %q", b)
	}
}

func TestNew_RejectsUnknownEnvironment(t *testing.T) {
	if _, err := logger.New(logger.Config{Environment: "staging"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *logger.Logger
	l.Debug("x")
	l.Named("y").Warn("z", "k", 1)
	if err := l.Sync(); err != nil {
		t.Fatal(err)
	}
	logger.Wrap(zap.NewNop()).Info("ok")
}
