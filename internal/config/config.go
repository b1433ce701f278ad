package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/bcsync/internal/dimension"
)

// FileName is the default config file name.
const FileName = "bcsync.yaml"

// MaxBatchSize is the Business Central cap on sub-requests per $batch.
const MaxBatchSize = 100

// DefaultCompany is the companies key whose entry applies to every company.
const DefaultCompany = "*"

// Config represents the top-level bcsync.yaml configuration.
type Config struct {
	Dynamics  DynamicsConfig           `yaml:"dynamics"`
	Sync      SyncConfig               `yaml:"sync"`
	Logging   LoggingConfig            `yaml:"logging"`
	Companies map[string]CompanyConfig `yaml:"companies,omitempty"`
}

// DynamicsConfig holds the tenant and OAuth credentials.
type DynamicsConfig struct {
	TenantID     string `yaml:"tenant_id"`
	Environment  string `yaml:"environment"`
	BaseURL      string `yaml:"base_url,omitempty"` // overrides the API root derived from tenant and environment
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri,omitempty"`
	RefreshToken string `yaml:"refresh_token"`
	// TokenURL overrides the Entra ID endpoint derived from tenant_id.
	TokenURL string `yaml:"token_url,omitempty"`
}

// SyncConfig controls batching, input and state locations.
type SyncConfig struct {
	BatchSize      int    `yaml:"batch_size"`
	InputDir       string `yaml:"input_dir"`
	AttachmentsDir string `yaml:"attachments_dir"`
	StateFile      string `yaml:"state_file"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`
	LogFile        string `yaml:"log_file"`
}

// LoggingConfig selects the logrus level and formatter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// CompanyConfig is the per-company mapping configuration.
type CompanyConfig struct {
	Dimensions []dimension.FieldMapping `yaml:"dimensions,omitempty"`
	// Fields adds source to destination mappings per stream.
	Fields map[string][]FieldOverride `yaml:"fields,omitempty"`
}

// FieldOverride copies one record field to one remote field.
type FieldOverride struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// Load reads a bcsync.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	// The file carries client secrets and refresh tokens.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default(tenantID, environment string) *Config {
	cfg := &Config{
		Dynamics: DynamicsConfig{
			TenantID:    tenantID,
			Environment: environment,
		},
		Companies: map[string]CompanyConfig{
			DefaultCompany: {},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Dynamics.Environment == "" {
		c.Dynamics.Environment = "production"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = MaxBatchSize
	}
	if c.Sync.InputDir == "" {
		c.Sync.InputDir = "import"
	}
	if c.Sync.AttachmentsDir == "" {
		c.Sync.AttachmentsDir = filepath.Join(c.Sync.InputDir, "attachments")
	}
	if c.Sync.StateFile == "" {
		c.Sync.StateFile = filepath.Join(".bcsync", "state.json")
	}
	if c.Sync.LogFile == "" {
		c.Sync.LogFile = filepath.Join("logs", "sync-log.csv")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// LoadEnv loads dir/.env, if present, into the process environment.
// Variables already set in the environment win.
func LoadEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides credentials and endpoints from BCSYNC_* variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"BCSYNC_TENANT_ID", &c.Dynamics.TenantID},
		{"BCSYNC_ENVIRONMENT", &c.Dynamics.Environment},
		{"BCSYNC_CLIENT_ID", &c.Dynamics.ClientID},
		{"BCSYNC_CLIENT_SECRET", &c.Dynamics.ClientSecret},
		{"BCSYNC_REFRESH_TOKEN", &c.Dynamics.RefreshToken},
		{"BCSYNC_REDIS_ADDR", &c.Sync.RedisAddr},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// CompanyConfig returns the entry for a company, looked up by id and then by
// name, merged over the "*" entry. Dimension mappings merge by field; field
// overrides merge by stream.
func (c *Config) CompanyConfig(id, name string) CompanyConfig {
	base := c.Companies[DefaultCompany]
	out := CompanyConfig{
		Dimensions: append([]dimension.FieldMapping(nil), base.Dimensions...),
		Fields:     make(map[string][]FieldOverride, len(base.Fields)),
	}
	for stream, overrides := range base.Fields {
		out.Fields[stream] = overrides
	}

	specific, ok := c.Companies[id]
	if !ok {
		specific, ok = c.Companies[name]
	}
	if !ok {
		return out
	}
	for _, m := range specific.Dimensions {
		replaced := false
		for i := range out.Dimensions {
			if out.Dimensions[i].Field == m.Field {
				out.Dimensions[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			out.Dimensions = append(out.Dimensions, m)
		}
	}
	for stream, overrides := range specific.Fields {
		out.Fields[stream] = overrides
	}
	return out
}
