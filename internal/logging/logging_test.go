package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			appName: "bvhcompare",
			want:    filepath.Join("logs", "bvhcompare.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			appName: "bvhcompare",
			want:    filepath.Join(".", "logs", "bvhcompare.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "bvhcompare"),
			appName: "bvhcompare",
			want:    filepath.Join("/var", "log", "bvhcompare", "bvhcompare.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewZerolog_Level(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
	}{
		{"debug", true},
		{"INFO", false},
		{"", false},
		{"bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewZerolog(&buf, tt.level)
			log.Debug().Msg("debug line")
			log.Info().Str("db", "sqlite").Msg("info line")

			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("debug line")))

			lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
			var entry map[string]any
			require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
			assert.Equal(t, "info", entry["level"])
			assert.Equal(t, "info line", entry["message"])
			assert.Equal(t, "sqlite", entry["db"])
			assert.Contains(t, entry, "time")
		})
	}
}
