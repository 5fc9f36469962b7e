package infra

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"production default", "production", "", false, true},
		{"override to warn", "production", "WARN", false, false},
		{"override to debug", "production", "debug", true, true},
		{"unknown level keeps default", "production", "chatty", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tc.env, tc.level)

			logger.Debug().Msg("d")
			if got := buf.Len() > 0; got != tc.wantDebug {
				t.Fatalf("debug written = %v, want %v", got, tc.wantDebug)
			}
			buf.Reset()
			logger.Info().Msg("i")
			if got := buf.Len() > 0; got != tc.wantInfo {
				t.Fatalf("info written = %v, want %v", got, tc.wantInfo)
			}
		})
	}
}

func TestNewLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "")
	logger.Info().Str("job_id", "j1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["service"] != serviceName || line["job_id"] != "j1" || line["message"] != "hello" {
		t.Fatalf("line = %v", line)
	}
}
