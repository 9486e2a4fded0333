package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lingest/internal/config"
	"lingest/internal/logging"
	"lingest/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon booted", logging.String("bind", "127.0.0.1:0"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "lingest.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon booted") {
		t.Fatalf("expected message in log file, got %q", content)
	}
	if !strings.Contains(string(content), `"bind"`) {
		t.Fatalf("expected structured attribute in log file, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestComponentLoggerAddsComponentField(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "component.log")

	base, err := logging.New(logging.Options{
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(base, "workflow").Info("claimed item")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"component":"workflow"`) {
		t.Fatalf("expected component attribute, got %q", content)
	}
}

func TestWithContextCarriesItemAndStage(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "context.log")

	base, err := logging.New(logging.Options{
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithItemID(context.Background(), 42)
	ctx = services.WithStage(ctx, "transcribe")
	ctx = services.WithWindow(ctx, 3)
	logging.WithContext(ctx, base).Info("window folded")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"item_id":42`, `"stage":"transcribe"`, `"window_index":3`} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("expected %s in log output, got %q", want, content)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("this must not panic", logging.Error(nil))
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("noop logger should never be enabled")
	}
}
