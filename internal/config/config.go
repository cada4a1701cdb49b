// Package config provides configuration for the manager and collector services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MANAGER_"

// Config holds the configuration for the manager and collector services.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Uploads   UploadsConfig   `json:"uploads" yaml:"uploads"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the manager listen address
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxUploadMB caps the size of a single upload request
	MaxUploadMB int `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// LogConfig holds structured logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// AuthConfig holds the shared API key. Empty disables authentication.
type AuthConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type). Each bucket is a
	// subdirectory.
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	Buckets BucketsConfig `json:"buckets" yaml:"buckets"`

	// PublicBaseURL prefixes public object URLs: {base}/{bucket}/{key}
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
}

// S3Config holds S3 (or MinIO) connection settings.
type S3Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// BucketsConfig names the buckets the manager uses.
type BucketsConfig struct {
	// Data receives uploaded artifacts
	Data string `json:"data" yaml:"data"`

	// Public holds published matrices
	Public string `json:"public" yaml:"public"`
}

// UploadsConfig holds upload policy.
type UploadsConfig struct {
	ForbiddenExtensions []string `json:"forbidden_extensions" yaml:"forbidden_extensions"`
}

// ReportConfig describes the weekly upload roster.
type ReportConfig struct {
	Projects      []string            `json:"projects" yaml:"projects"`
	Organizations []string            `json:"organizations" yaml:"organizations"`
	Excluded      map[string][]string `json:"excluded" yaml:"excluded"`

	// Weekday anchors the window, e.g. "friday"
	Weekday  string `json:"weekday" yaml:"weekday"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// CollectorConfig holds collector service configuration.
type CollectorConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	SpoolDir string `json:"spool_dir" yaml:"spool_dir"`

	// ManagerURL is where spooled files are relayed
	ManagerURL string `json:"manager_url" yaml:"manager_url"`

	// DateField is the record field files are grouped by
	DateField string `json:"date_field" yaml:"date_field"`

	// Labs maps each accepted lab to the project its data belongs to
	Labs map[string]string `json:"labs" yaml:"labs"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/manager",
		HTTP: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadMB:     512,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region:    "us-east-1",
				PathStyle: true,
			},
			Buckets: BucketsConfig{
				Data:   "data",
				Public: "public",
			},
		},
		Uploads: UploadsConfig{
			ForbiddenExtensions: []string{".exe"},
		},
		Report: ReportConfig{
			Projects:      []string{"arbo", "respat"},
			Organizations: []string{"fleury", "einstein", "sabin", "hlagyn", "hilab", "hpardini", "dbmol"},
			Excluded:      map[string][]string{},
			Weekday:       "friday",
			Timezone:      "America/Sao_Paulo",
		},
		Collector: CollectorConfig{
			Addr:       ":8001",
			ManagerURL: "http://localhost:8000",
			DateField:  "DataAtendimento",
			Labs:       map[string]string{"sabin": "arbo"},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/manager"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Collector.SpoolDir == "" {
		c.Collector.SpoolDir = filepath.Join(c.DataDir, "spool")
	}
}

// DatabasePath returns the path to the tracking database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "monitor.db")
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.HTTP.MaxUploadMB) << 20
}

// ParseWeekday parses a weekday name such as "friday" or "Fri".
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday: %q", s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Buckets.Data == "" {
		return fmt.Errorf("storage.buckets.data is required")
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Region == "" && c.Storage.S3.Endpoint == "" {
		return fmt.Errorf("s3.region or s3.endpoint is required when storage type is s3")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.HTTP.MaxUploadMB < 0 {
		return fmt.Errorf("http.max_upload_mb must not be negative, got %d", c.HTTP.MaxUploadMB)
	}

	if _, err := ParseWeekday(c.Report.Weekday); err != nil {
		return fmt.Errorf("report.weekday: %w", err)
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if len(c.Report.Projects) == 0 {
		return fmt.Errorf("report.projects must not be empty")
	}

	if c.Collector.DateField == "" {
		return fmt.Errorf("collector.date_field is required")
	}
	for lab, project := range c.Collector.Labs {
		if lab == "" || project == "" {
			return fmt.Errorf("collector.labs: lab and project must be non-empty (%q: %q)", lab, project)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load reads path when non-empty (defaults otherwise), then applies
// environment overrides and resolves derived paths.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MANAGER_ prefix.
func LoadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATA_DIR":             &cfg.DataDir,
		"HTTP_ADDR":            &cfg.HTTP.Addr,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
		"API_KEY":              &cfg.Auth.APIKey,
		"STORAGE_TYPE":         &cfg.Storage.Type,
		"STORAGE_PATH":         &cfg.Storage.Path,
		"S3_ENDPOINT":          &cfg.Storage.S3.Endpoint,
		"S3_REGION":            &cfg.Storage.S3.Region,
		"S3_ACCESS_KEY":        &cfg.Storage.S3.AccessKey,
		"S3_SECRET_KEY":        &cfg.Storage.S3.SecretKey,
		"BUCKET_DATA":          &cfg.Storage.Buckets.Data,
		"BUCKET_PUBLIC":        &cfg.Storage.Buckets.Public,
		"PUBLIC_BASE_URL":      &cfg.Storage.PublicBaseURL,
		"REPORT_WEEKDAY":       &cfg.Report.Weekday,
		"REPORT_TIMEZONE":      &cfg.Report.Timezone,
		"COLLECTOR_ADDR":       &cfg.Collector.Addr,
		"COLLECTOR_SPOOL_DIR":  &cfg.Collector.SpoolDir,
		"ENDPOINT":             &cfg.Collector.ManagerURL,
		"COLLECTOR_DATE_FIELD": &cfg.Collector.DateField,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"HTTP_READ_TIMEOUT":     &cfg.HTTP.ReadTimeout,
		"HTTP_WRITE_TIMEOUT":    &cfg.HTTP.WriteTimeout,
		"HTTP_IDLE_TIMEOUT":     &cfg.HTTP.IdleTimeout,
		"HTTP_SHUTDOWN_TIMEOUT": &cfg.HTTP.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_UPLOAD_MB: %w", EnvPrefix, err)
		}
		cfg.HTTP.MaxUploadMB = n
	}
	if v := os.Getenv(EnvPrefix + "S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.PathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "FORBIDDEN_EXTENSIONS"); v != "" {
		cfg.Uploads.ForbiddenExtensions = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "REPORT_PROJECTS"); v != "" {
		cfg.Report.Projects = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "REPORT_ORGANIZATIONS"); v != "" {
		cfg.Report.Organizations = splitList(v)
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	dirs = append(dirs, c.Collector.SpoolDir)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
