package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unklstewy/ais-scope/pkg/ais"
)

// Storage drivers for the last-file preference.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config represents the complete application configuration.
// It is read from a JSON or YAML file, chosen by extension.
type Config struct {
	Service  ServiceConfig  `json:"service" yaml:"service"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Display  DisplayConfig  `json:"display" yaml:"display"`
	Replay   ReplayConfig   `json:"replay" yaml:"replay"`
}

// ServiceConfig contains the AIS data service connection settings.
type ServiceConfig struct {
	// BaseURL is the data service address (default: http://localhost:8000)
	BaseURL string `json:"base_url" yaml:"base_url"`

	// TimeoutSeconds bounds the small JSON requests (default: 10)
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// HeaderTimeoutSeconds bounds the wait for a row stream to start (default: 30)
	HeaderTimeoutSeconds int `json:"header_timeout_seconds" yaml:"header_timeout_seconds"`

	// RequestsPerSecond throttles JSON requests; 0 = unlimited
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// MaxRetries is the retry budget of the JSON endpoints.
	// Row streams are never retried.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Token is sent as a bearer token (should be loaded from environment)
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// StorageConfig selects where the last loaded file is remembered.
type StorageConfig struct {
	// Driver is "file" (JSON file) or "postgres" (uses the database section)
	Driver string `json:"driver" yaml:"driver"`

	// Path is the preference file for the file driver; "" = user config dir
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (postgres)
	Driver string `json:"driver" yaml:"driver"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// DisplayConfig contains map and query defaults for the terminal UI.
type DisplayConfig struct {
	// ArrowLength is the heading/course marker length in degrees
	ArrowLength float64 `json:"arrow_length" yaml:"arrow_length"`

	// ShowHeading draws heading markers (blue)
	ShowHeading bool `json:"show_heading" yaml:"show_heading"`

	// ShowCourse draws course markers (red)
	ShowCourse bool `json:"show_course" yaml:"show_course"`

	// OnlyStopped starts the map with the stopped-vessel filter on
	OnlyStopped bool `json:"only_stopped" yaml:"only_stopped"`

	// StartIndex and EndIndex are the default index range [start, end)
	StartIndex int `json:"start_index" yaml:"start_index"`
	EndIndex   int `json:"end_index" yaml:"end_index"`

	// HeatmapCellSize is the heatmap bin size in degrees
	HeatmapCellSize float64 `json:"heatmap_cell_size" yaml:"heatmap_cell_size"`

	// RadiusNM is the initial map radius in nautical miles
	RadiusNM float64 `json:"radius_nm" yaml:"radius_nm"`
}

// ReplayConfig configures the snapshot replay server.
type ReplayConfig struct {
	// Addr is the listen address (default: ":8000")
	Addr string `json:"addr" yaml:"addr"`

	// SnapshotDir holds the snapshot files served as dataset files
	SnapshotDir string `json:"snapshot_dir" yaml:"snapshot_dir"`

	// RowDelayMillis paces streamed rows to mimic a slow service; 0 = no delay
	RowDelayMillis int `json:"row_delay_millis" yaml:"row_delay_millis"`

	// JWTSecret enables bearer token checks when set (should be loaded from environment)
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON or YAML file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:              ais.DefaultBaseURL,
			TimeoutSeconds:       10,
			HeaderTimeoutSeconds: 30,
			RequestsPerSecond:    0,
			MaxRetries:           3,
		},
		Storage: StorageConfig{
			Driver: StorageFile,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Database:     "aisscope",
			Username:     "aisscope",
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Display: DisplayConfig{
			ArrowLength:     0.002,
			ShowHeading:     true,
			ShowCourse:      true,
			StartIndex:      0,
			EndIndex:        1000,
			HeatmapCellSize: ais.DefaultCellSize,
			RadiusNM:        5,
		},
		Replay: ReplayConfig{
			Addr:        ":8000",
			SnapshotDir: "snapshots",
		},
	}
}

// Validate checks the settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	switch c.Storage.Driver {
	case StorageFile, StoragePostgres:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageFile, StoragePostgres, c.Storage.Driver)
	}
	if c.Display.ArrowLength <= 0 {
		return fmt.Errorf("display.arrow_length must be positive")
	}
	if c.Display.HeatmapCellSize <= 0 {
		return fmt.Errorf("display.heatmap_cell_size must be positive")
	}
	return nil
}

// ClientConfig converts the service section into a data service client config.
func (s ServiceConfig) ClientConfig() ais.ClientConfig {
	retry := ais.DefaultRetryConfig()
	retry.MaxRetries = s.MaxRetries

	return ais.ClientConfig{
		BaseURL:           s.BaseURL,
		Timeout:           time.Duration(s.TimeoutSeconds) * time.Second,
		HeaderTimeout:     time.Duration(s.HeaderTimeoutSeconds) * time.Second,
		RequestsPerSecond: s.RequestsPerSecond,
		Retry:             retry,
		Token:             s.Token,
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows secrets and deployment-specific addresses to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if url := os.Getenv("AIS_SCOPE_SERVICE_URL"); url != "" {
		c.Service.BaseURL = url
	}
	if token := os.Getenv("AIS_SCOPE_SERVICE_TOKEN"); token != "" {
		c.Service.Token = token
	}
	if driver := os.Getenv("AIS_SCOPE_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if dbPassword := os.Getenv("AIS_SCOPE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if secret := os.Getenv("AIS_SCOPE_JWT_SECRET"); secret != "" {
		c.Replay.JWTSecret = secret
	}
}
