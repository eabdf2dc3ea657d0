package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadJSON writes content as the config file in a temp dir and loads it.
func loadJSON(t *testing.T, content string) {
	t.Helper()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	require.NoError(t, Load(dir))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	loadJSON(t, `{
		"logLevel": "debug",
		"motionDir": "/data/bvh",
		"workers": 12,
		"db": { "host": "db.internal" }
	}`)

	assert.Equal(t, "debug", GetString("logLevel"))
	assert.Equal(t, "/data/bvh", GetString("motionDir"))
	assert.Equal(t, 12, GetInt("workers"))
	assert.Equal(t, "db.internal", GetString("db.host"))
	// untouched keys keep their defaults
	assert.Equal(t, "5432", GetString("db.port"))
	assert.Equal(t, "./logs", GetString("logsDir"))
}

func TestLoad_Defaults(t *testing.T) {
	loadJSON(t, `{}`)

	tests := []struct {
		key  string
		want any
	}{
		{"logLevel", "info"},
		{"logsDir", "./logs"},
		{"motionDir", "./static/bvh"},
		{"workers", 4},
		{"storage.type", "memory"},
		{"db.database", "bvhcompare"},
		{"influx.enabled", false},
		{"graylog.enabled", false},
		{"graylog.address", "localhost:12201"},
		{"monitor.statusFile", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.EqualValues(t, tt.want, viper.Get(tt.key))
		})
	}
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "error reading config file")
	assert.Equal(t, "memory", GetString("storage.type"))
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"logLevel":`), 0644))

	assert.Error(t, Load(dir))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("storage.memory.compressOutput", false)
	assert.False(t, GetBool("storage.memory.compressOutput"))
}

func TestGetStorageConfig(t *testing.T) {
	tests := []struct {
		name string
		json string
		want StorageConfig
	}{
		{
			name: "defaults",
			json: `{}`,
			want: StorageConfig{
				Type:   "memory",
				Memory: MemoryConfig{OutputDir: "./results", CompressOutput: true},
				SQLite: SQLiteConfig{DumpPath: "./results/bvhcompare.db", DumpInterval: time.Minute},
			},
		},
		{
			name: "sqlite with overrides",
			json: `{"storage": {
				"type": "sqlite",
				"memory": { "outputDir": "/srv/out", "compressOutput": false },
				"sqlite": { "dumpPath": "/srv/out/study.db", "dumpInterval": "10m" }
			}}`,
			want: StorageConfig{
				Type:   "sqlite",
				Memory: MemoryConfig{OutputDir: "/srv/out", CompressOutput: false},
				SQLite: SQLiteConfig{DumpPath: "/srv/out/study.db", DumpInterval: 10 * time.Minute},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loadJSON(t, tt.json)
			assert.Equal(t, tt.want, GetStorageConfig())
		})
	}
}

func TestGetPostgresConfig_DSN(t *testing.T) {
	loadJSON(t, `{"db": {"host": "db", "password": "pw"}}`)

	assert.Equal(t,
		"host=db port=5432 user=postgres password=pw dbname=bvhcompare sslmode=disable",
		GetPostgresConfig().DSN())
}

func TestGetInfluxConfig(t *testing.T) {
	loadJSON(t, `{"influx": {"enabled": true, "protocol": "https", "host": "influx", "port": "9999"}}`)

	assert.Equal(t, InfluxConfig{
		Enabled:    true,
		URL:        "https://influx:9999",
		Token:      "supersecrettoken",
		Org:        "mocap-study",
		Bucket:     "motion_error",
		BackupPath: "./results/influx_backup.lp.gz",
	}, GetInfluxConfig())
}

func TestGetGraylogConfig(t *testing.T) {
	loadJSON(t, `{"graylog": {"enabled": true, "address": "gl:12201"}}`)

	assert.Equal(t, GraylogConfig{Enabled: true, Address: "gl:12201"}, GetGraylogConfig())
}

func TestGetMonitorConfig(t *testing.T) {
	loadJSON(t, `{}`)
	assert.Equal(t, MonitorConfig{Interval: time.Second}, GetMonitorConfig())

	viper.Set("monitor.statusFile", "./results/status.json")
	viper.Set("monitor.interval", "250ms")
	assert.Equal(t, MonitorConfig{StatusFile: "./results/status.json", Interval: 250 * time.Millisecond}, GetMonitorConfig())
}

func TestGetOTelConfig(t *testing.T) {
	tests := []struct {
		name string
		json string
		want OTelConfig
	}{
		{
			name: "defaults",
			json: `{}`,
			want: OTelConfig{ServiceName: "bvhcompare", BatchTimeout: 5 * time.Second, Insecure: true},
		},
		{
			name: "collector",
			json: `{"otel": {"enabled": true, "serviceName": "study-runner", "batchTimeout": "30s",
				"endpoint": "collector:4318", "insecure": false}}`,
			want: OTelConfig{Enabled: true, ServiceName: "study-runner", BatchTimeout: 30 * time.Second, Endpoint: "collector:4318"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loadJSON(t, tt.json)
			assert.Equal(t, tt.want, GetOTelConfig())
		})
	}
}
