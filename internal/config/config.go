package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the persistent application configuration
type Config struct {
	Account   AccountConfig   `json:"account"`
	Timelines TimelinesConfig `json:"timelines"`
	Search    SearchConfig    `json:"search"`
	UI        UIConfig        `json:"ui"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// AccountConfig identifies the signed-in account
type AccountConfig struct {
	Instance string `json:"instance"` // e.g. "https://mastodon.social"
	Handle   string `json:"handle"`
	Token    string `json:"token,omitempty"`
}

// TimelinesConfig holds polling and streaming settings
type TimelinesConfig struct {
	PollSeconds     int  `json:"poll_seconds"`
	ShowMessages    bool `json:"show_messages"`      // Messages column visible at start
	MinBackoffSecs  int  `json:"min_backoff_secs"`   // Stream reconnect backoff floor
	MaxBackoffSecs  int  `json:"max_backoff_secs"`   // Stream reconnect backoff ceiling
	RequestsPerSec  int  `json:"requests_per_sec"`   // REST pacing
	UseRSSForPublic bool `json:"use_rss_for_public"` // Poll profiles and tags over RSS
}

// SearchConfig remembers the last streaming search
type SearchConfig struct {
	LastTerms string `json:"last_terms"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	Theme       string `json:"theme"`
	ColumnWidth int    `json:"column_width"`
}

// StorageConfig holds archive settings
type StorageConfig struct {
	Archive bool   `json:"archive"`
	Path    string `json:"path,omitempty"` // Defaults to DataDir()/pingpong.db
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			Instance: "https://mastodon.social",
		},
		Timelines: TimelinesConfig{
			PollSeconds:    60,
			ShowMessages:   false,
			MinBackoffSecs: 5,
			MaxBackoffSecs: 320,
			RequestsPerSec: 1,
		},
		UI: UIConfig{
			Theme:       "dark",
			ColumnWidth: 48,
		},
		Storage: StorageConfig{
			Archive: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DataDir returns the directory holding config, archive and logs
func DataDir() string {
	if dir := os.Getenv("PINGPONG_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pingpong")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DBPath returns the archive database path
func (c *Config) DBPath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(DataDir(), "pingpong.db")
}

// PollInterval returns the polling cadence
func (c *Config) PollInterval() time.Duration {
	if c.Timelines.PollSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timelines.PollSeconds) * time.Second
}

// Backoff returns the stream reconnect bounds
func (c *Config) Backoff() (min, max time.Duration) {
	return time.Duration(c.Timelines.MinBackoffSecs) * time.Second,
		time.Duration(c.Timelines.MaxBackoffSecs) * time.Second
}

// Load reads config from disk, or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads config from path, or returns defaults when it is missing.
// Environment variables override the account fields.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), nil
	}
	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for the token
}

// AutoPopulateFromEnv fills in account fields from environment variables
func (c *Config) AutoPopulateFromEnv() {
	c.apply(os.Getenv)
}

// LoadKeysFromFile loads account keys from a dotenv file (KEY=value or
// export KEY=value lines).
func (c *Config) LoadKeysFromFile(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	c.apply(func(key string) string { return env[key] })
	return nil
}

func (c *Config) apply(get func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(get(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Account.Instance, "PINGPONG_INSTANCE")
	set(&c.Account.Handle, "PINGPONG_HANDLE")
	set(&c.Account.Token, "PINGPONG_TOKEN")
	c.Account.Handle = strings.TrimPrefix(c.Account.Handle, "@")
}

// HasAccount reports whether enough is configured to talk to the instance
func (c *Config) HasAccount() bool {
	return c.Account.Instance != "" && c.Account.Handle != "" && c.Account.Token != ""
}
