// Package config provides configuration loading for sweetspot.
// Supports a YAML file, .env settings files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File names inside the data directory.
const (
	ConfigFileName      = "config.yaml"
	EnvFileName         = ".env"
	UndoFileName        = "undo.json"
	KeyFileName         = "encryption_key.key"
	CredentialsFileName = "credentials.enc"
)

// Batch failure policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// Config holds all configuration for sweetspot.
type Config struct {
	DataDir       string              `yaml:"data_dir"`
	Store         StoreConfig         `yaml:"store"`
	Backup        BackupConfig        `yaml:"backup"`
	Inference     InferenceConfig     `yaml:"inference"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Batch         BatchConfig         `yaml:"batch"`
	Remote        RemoteConfig        `yaml:"remote"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StoreConfig holds SQLite store settings.
type StoreConfig struct {
	FileName    string        `yaml:"file_name"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// BackupConfig holds backup settings.
type BackupConfig struct {
	Dir string `yaml:"dir"` // relative to data_dir unless absolute
}

// InferenceConfig holds settings for the text/vision inference service.
type InferenceConfig struct {
	APIKey            string        `yaml:"-"`
	BaseURL           string        `yaml:"base_url"`
	TextModel         string        `yaml:"text_model"`
	VisionModel       string        `yaml:"vision_model"`
	TextMaxTokens     int           `yaml:"text_max_tokens"`
	VisionMaxTokens   int           `yaml:"vision_max_tokens"`
	TextTemperature   float64       `yaml:"text_temperature"`
	VisionTemperature float64       `yaml:"vision_temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	MaxImageMB        int           `yaml:"max_image_mb"`
}

// PipelineConfig holds extraction pipeline settings.
type PipelineConfig struct {
	ScannedPageVision bool `yaml:"scanned_page_vision"`
	JPEGQuality       int  `yaml:"jpeg_quality"`
}

// BatchConfig holds batch coordinator settings.
type BatchConfig struct {
	Policy    string        `yaml:"policy"` // abort or skip
	SkipDelay time.Duration `yaml:"skip_delay"`
	NextDelay time.Duration `yaml:"next_delay"`
}

// RemoteConfig holds remote store settings.
type RemoteConfig struct {
	RemotePath   string        `yaml:"remote_path"`
	Timeout      time.Duration `yaml:"timeout"`
	APIURL       string        `yaml:"api_url"`
	ContentURL   string        `yaml:"content_url"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	AppKey       string        `yaml:"-"`
	AppSecret    string        `yaml:"-"`
	RefreshToken string        `yaml:"-"`
}

// ReportConfig holds expiry report settings.
type ReportConfig struct {
	WindowDays    int      `yaml:"window_days"`
	SMTPHost      string   `yaml:"smtp_host"`
	SMTPPort      int      `yaml:"smtp_port"`
	Sender        string   `yaml:"sender"`
	Password      string   `yaml:"-"`
	Recipients    []string `yaml:"recipients"`
	Subject       string   `yaml:"subject"`
	DownloadFirst bool     `yaml:"download_first"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Console   bool   `yaml:"console"`
}

// Load reads configuration from a YAML file and applies .env files and
// environment overrides. An empty path means <data_dir>/config.yaml if present.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("SWEETSPOT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, ConfigFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Existing process environment wins over both files.
	_ = godotenv.Load(cfg.EnvPath())
	_ = godotenv.Load(EnvFileName)

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Store: StoreConfig{
			FileName:    "products.db",
			BusyTimeout: 5 * time.Second,
		},
		Backup: BackupConfig{
			Dir: "backups",
		},
		Inference: InferenceConfig{
			BaseURL:           "https://api.openai.com/v1",
			TextModel:         "gpt-4o-mini",
			VisionModel:       "gpt-4o",
			TextMaxTokens:     4000,
			VisionMaxTokens:   1500,
			TextTemperature:   0.3,
			VisionTemperature: 0.2,
			Timeout:           2 * time.Minute,
			MaxRetries:        0,
			MaxImageMB:        20,
		},
		Pipeline: PipelineConfig{
			ScannedPageVision: false,
			JPEGQuality:       85,
		},
		Batch: BatchConfig{
			Policy:    PolicyAbort,
			SkipDelay: time.Second,
			NextDelay: 500 * time.Millisecond,
		},
		Remote: RemoteConfig{
			RemotePath: "/products.db",
			Timeout:    2 * time.Minute,
			APIURL:     "https://api.dropboxapi.com",
			ContentURL: "https://content.dropboxapi.com",
			AuthURL:    "https://www.dropbox.com/oauth2/authorize",
			TokenURL:   "https://api.dropboxapi.com/oauth2/token",
		},
		Report: ReportConfig{
			WindowDays: 14,
			SMTPHost:   "smtp.gmail.com",
			SMTPPort:   587,
			Subject:    "Daily report: expiring products",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Console:   false,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Store.FileName == "" {
		return fmt.Errorf("store.file_name is required")
	}

	if c.Batch.Policy != PolicyAbort && c.Batch.Policy != PolicySkip {
		return fmt.Errorf("invalid batch policy: %s", c.Batch.Policy)
	}

	if c.Inference.MaxImageMB < 1 {
		return fmt.Errorf("inference.max_image_mb must be positive")
	}

	if c.Inference.MaxRetries < 0 {
		return fmt.Errorf("inference.max_retries must not be negative")
	}

	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be between 1 and 100")
	}

	if c.Report.WindowDays < 0 {
		return fmt.Errorf("report.window_days must not be negative")
	}

	return nil
}

// StorePath returns the absolute path of the store file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, c.Store.FileName)
}

// BackupDir returns the directory backups are written to.
func (c *Config) BackupDir() string {
	if filepath.IsAbs(c.Backup.Dir) {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, c.Backup.Dir)
}

// EnvPath returns the settings file holding the inference API key.
func (c *Config) EnvPath() string {
	return filepath.Join(c.DataDir, EnvFileName)
}

// UndoPath returns the file persisting the undo slot.
func (c *Config) UndoPath() string {
	return filepath.Join(c.DataDir, UndoFileName)
}

// KeyPath returns the secret-store key file.
func (c *Config) KeyPath() string {
	return filepath.Join(c.DataDir, KeyFileName)
}

// CredentialsPath returns the encrypted remote credentials file.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, CredentialsFileName)
}

// SaveAPIKey stores the inference API key in the data directory's .env file,
// keeping any other entries, and exports it to the running process.
func (c *Config) SaveAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key must not be empty")
	}

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	env := map[string]string{}
	if existing, err := godotenv.Read(c.EnvPath()); err == nil {
		env = existing
	}
	env["OPENAI_API_KEY"] = key

	if err := godotenv.Write(env, c.EnvPath()); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Chmod(c.EnvPath(), 0o600); err != nil {
		return fmt.Errorf("restrict settings file: %w", err)
	}

	c.Inference.APIKey = key
	return os.Setenv("OPENAI_API_KEY", key)
}

// Save writes the YAML configuration to <data_dir>/config.yaml.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.DataDir, ConfigFileName), data, 0o644)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sweetspot")
	}
	return ".sweetspot"
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWEETSPOT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("SWEETSPOT_TEXT_MODEL"); v != "" {
		cfg.Inference.TextModel = v
	}

	if v := os.Getenv("SWEETSPOT_VISION_MODEL"); v != "" {
		cfg.Inference.VisionModel = v
	}

	if v := os.Getenv("SWEETSPOT_BATCH_POLICY"); v != "" {
		cfg.Batch.Policy = v
	}

	if v := os.Getenv("APP_KEY"); v != "" {
		cfg.Remote.AppKey = v
	}

	if v := os.Getenv("APP_SECRET"); v != "" {
		cfg.Remote.AppSecret = v
	}

	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		cfg.Remote.RefreshToken = v
	}

	if v := os.Getenv("EMAIL_SENDER"); v != "" {
		cfg.Report.Sender = v
	}

	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		cfg.Report.Password = v
	}

	if v := os.Getenv("EMAIL_RECIPIENT"); v != "" {
		cfg.Report.Recipients = splitRecipients(v)
	}

	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Report.SMTPPort = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func splitRecipients(v string) []string {
	var out []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
