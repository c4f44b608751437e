package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Error("expected error for invalid level")
		}
	})

	t.Run("writes json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "sentinel.log")
		log, err := New(Config{
			Level:  "debug",
			Format: "console",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		log.WithComponent("model").WithReport("r-1").LogRun(2, 40, 3, 1, time.Second)
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		for _, want := range []string{`"component":"model"`, `"report_id":"r-1"`, `"anomalies":3`} {
			if !strings.Contains(string(data), want) {
				t.Errorf("log file missing %s: %s", want, data)
			}
		}
	})
}
