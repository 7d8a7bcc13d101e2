package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"perp-edge/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"bogus": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perp-edge.log")
	log := New(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1})
	log.Info("feed connected")
	_ = log.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "feed connected") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}
