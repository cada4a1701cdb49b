package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("./data/manager", "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join("./data/manager", "monitor.db"), cfg.DatabasePath())
	assert.Equal(t, int64(512)<<20, cfg.MaxUploadBytes())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/manager
http:
  addr: ":9000"
  read_timeout: 5s
storage:
  type: s3
  s3:
    endpoint: http://minio:9000
    access_key: minio
    secret_key: minio123
report:
  weekday: monday
  excluded:
    respat: [hilab]
collector:
  labs:
    sabin: arbo
    fleury: respat
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/manager", cfg.DataDir)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "http://minio:9000", cfg.Storage.S3.Endpoint)
	assert.True(t, cfg.Storage.S3.PathStyle, "defaults survive partial files")
	assert.Equal(t, []string{"hilab"}, cfg.Report.Excluded["respat"])
	assert.Equal(t, "respat", cfg.Collector.Labs["fleury"])

	day, err := ParseWeekday(cfg.Report.Weekday)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, day)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manager.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "/tmp/m", "auth": {"api_key": "k"}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m", cfg.DataDir)
	assert.Equal(t, "k", cfg.Auth.APIKey)
}

func TestLoadFromFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manager.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MANAGER_DATA_DIR", "/srv/manager")
	t.Setenv("MANAGER_API_KEY", "secret")
	t.Setenv("MANAGER_HTTP_READ_TIMEOUT", "7s")
	t.Setenv("MANAGER_MAX_UPLOAD_MB", "64")
	t.Setenv("MANAGER_FORBIDDEN_EXTENSIONS", ".exe, .bat")
	t.Setenv("MANAGER_REPORT_ORGANIZATIONS", "fleury,sabin")
	t.Setenv("MANAGER_ENDPOINT", "http://manager:8000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/manager", cfg.DataDir)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, 7*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 64, cfg.HTTP.MaxUploadMB)
	assert.Equal(t, []string{".exe", ".bat"}, cfg.Uploads.ForbiddenExtensions)
	assert.Equal(t, []string{"fleury", "sabin"}, cfg.Report.Organizations)
	assert.Equal(t, "http://manager:8000", cfg.Collector.ManagerURL)
	assert.Equal(t, filepath.Join("/srv/manager", "spool"), cfg.Collector.SpoolDir)
}

func TestLoadFromEnvInvalidDuration(t *testing.T) {
	t.Setenv("MANAGER_HTTP_IDLE_TIMEOUT", "forever")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"no data bucket", func(c *Config) { c.Storage.Buckets.Data = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad weekday", func(c *Config) { c.Report.Weekday = "funday" }},
		{"bad timezone", func(c *Config) { c.Report.Timezone = "Mars/Olympus" }},
		{"no projects", func(c *Config) { c.Report.Projects = nil }},
		{"negative upload cap", func(c *Config) { c.HTTP.MaxUploadMB = -1 }},
		{"empty lab project", func(c *Config) { c.Collector.Labs = map[string]string{"sabin": ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"friday": time.Friday,
		"Fri":    time.Friday,
		"SUNDAY": time.Sunday,
		" sat ":  time.Saturday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "manager")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path, cfg.Collector.SpoolDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
