package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// current holds the live config; Load and ImportConfig publish into it.
var current atomic.Pointer[Config]

// loadedConfigFile remembers which file the last successful Load read.
var loadedConfigFile atomic.Value

// Get returns the current Config, falling back to defaults when nothing has
// been loaded yet. Safe for concurrent use.
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	current.Store(d)
	return d
}

func store(cfg *Config) {
	current.Store(cfg)
}

// Config is the top-level configuration for screenman.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   toml:"server"`
	Cache    CacheConfig    `mapstructure:"cache"    toml:"cache"`
	Sessions SessionsConfig `mapstructure:"sessions" toml:"sessions"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"   toml:"scrape"`
	Provider ProviderConfig `mapstructure:"provider" toml:"provider"`
	Match    MatchConfig    `mapstructure:"match"    toml:"match"`
	Archive  ArchiveConfig  `mapstructure:"archive"  toml:"archive"`
	Tracing  TracingConfig  `mapstructure:"tracing"  toml:"tracing"`
}

// ServerConfig covers the HTTP listener and process-wide basics.
type ServerConfig struct {
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
}

// CacheConfig controls the descriptor-keyed file cache. An empty Dir places
// the cache under <data_dir>/cache.
type CacheConfig struct {
	Dir           string `mapstructure:"dir"            toml:"dir"`
	MemoryEntries int    `mapstructure:"memory_entries" toml:"memory_entries"`
}

// SessionsConfig controls session document storage. An empty Dir places
// sessions under <data_dir>/sessions.
type SessionsConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
}

// ScrapeConfig controls the Dataroma scrape adapter.
type ScrapeConfig struct {
	BaseURL   string `mapstructure:"base_url"   toml:"base_url"`
	UserAgent string `mapstructure:"user_agent" toml:"user_agent"`
	Timeout   int    `mapstructure:"timeout"    toml:"timeout"` // seconds
}

// TimeoutDuration returns the scrape HTTP timeout as a time.Duration.
func (c ScrapeConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return DefaultHTTPTimeout * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// ProviderConfig controls the EODHD provider adapter.
type ProviderConfig struct {
	BaseURL            string `mapstructure:"base_url"             toml:"base_url"`
	KeyRef             string `mapstructure:"key_ref"              toml:"key_ref"`
	Timeout            int    `mapstructure:"timeout"              toml:"timeout"` // seconds
	FetchConcurrency   int    `mapstructure:"fetch_concurrency"    toml:"fetch_concurrency"`
	MaxSymbolExchanges int    `mapstructure:"max_symbol_exchanges" toml:"max_symbol_exchanges"`
}

// TimeoutDuration returns the provider HTTP timeout as a time.Duration.
func (c ProviderConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return DefaultHTTPTimeout * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// MatchConfig controls the match engine.
type MatchConfig struct {
	FuzzyThreshold int `mapstructure:"fuzzy_threshold" toml:"fuzzy_threshold"`
	Workers        int `mapstructure:"workers"         toml:"workers"`
}

// ArchiveConfig controls the SQLite run archive.
type ArchiveConfig struct {
	Enabled       bool `mapstructure:"enabled"        toml:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" toml:"retention_days"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"` // stdout, otlp-grpc, otlp-http
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// DataDir returns the tilde-expanded data directory.
func (c *Config) DataDir() string {
	return expandHome(c.Server.DataDir)
}

// CacheDir returns the resolved cache directory.
func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return expandHome(c.Cache.Dir)
	}
	return filepath.Join(c.DataDir(), "cache")
}

// SessionsDir returns the resolved session directory.
func (c *Config) SessionsDir() string {
	if c.Sessions.Dir != "" {
		return expandHome(c.Sessions.Dir)
	}
	return filepath.Join(c.DataDir(), "sessions")
}

// SettingsPath returns the path of the runtime settings document.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir(), "settings.json")
}

// ArchivePath returns the path of the SQLite archive database.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir(), "screenman.db")
}

// Load resolves configuration in precedence order: environment variables
// (SCREENMAN_ prefix, _ as separator) beat the file at explicitPath, which
// beats ~/.screenman/screenman.toml, then ./screenman.toml, then the
// built-in defaults.
//
// The loaded config is validated and published for Get.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Register every key with its default so the env overlay can bind
	// fields that no config file mentions.
	registerDefaults(v)

	v.SetEnvPrefix("SCREENMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".screenman"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("screenman")
	}

	if err := v.ReadInConfig(); err == nil {
		loadedConfigFile.Store(v.ConfigFileUsed())
	} else if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
		// Only a truly broken file is fatal; running on defaults plus
		// env is a supported mode.
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	store(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration to ~/.screenman/screenman.toml
// unless the file already exists.
func InitConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(home, ".screenman")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}
	header := []byte("# screenman configuration.\n# Environment variables with the SCREENMAN_ prefix override these values,\n# e.g. SCREENMAN_SERVER_PORT=9090.\n\n")
	if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to path in TOML format.
func ExportConfig(path string) error {
	data, err := toml.Marshal(Get())
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig loads a TOML config file, publishes it, and persists it to
// the active config file so the change survives a restart.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	store(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}
	return nil
}

// ConfigFilePath returns the path of the config file the last Load read, or
// empty when only defaults and env were used.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// registerDefaults flattens DefaultConfig into viper keys. Walking the
// struct keeps the registered key set in lockstep with the Config fields.
func registerDefaults(v *viper.Viper) {
	var raw map[string]any
	if err := mapstructure.Decode(DefaultConfig(), &raw); err != nil {
		return
	}
	for section, fields := range raw {
		sub, ok := fields.(map[string]any)
		if !ok {
			v.SetDefault(section, fields)
			continue
		}
		for key, val := range sub {
			v.SetDefault(section+"."+key, val)
		}
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
