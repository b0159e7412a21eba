package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// reservedEntryNames are top-level archive names owned by the engine and the
// other contributors.
var reservedEntryNames = []string{"manifest.json", "assets", "vault", "commands"}

// EnvPrefix prefixes environment overrides, e.g. CBK_BACKUP_DIRECTORY.
const EnvPrefix = "CBK"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include      []string           `mapstructure:"include"      yaml:"include,omitempty"`
	Backup       BackupConfig       `mapstructure:"backup"       yaml:"backup"`
	Rules        []RuleConfig       `mapstructure:"backups"      yaml:"backups"`
	Contributors ContributorsConfig `mapstructure:"contributors" yaml:"contributors"`
	Logging      LoggingConfig      `mapstructure:"logging"      yaml:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"      yaml:"metrics"`
}

// BackupConfig contains engine-wide options.
type BackupConfig struct {
	Directory       string        `mapstructure:"directory"        yaml:"directory"`
	PersistInterval time.Duration `mapstructure:"persist_interval" yaml:"persist_interval"`
	PollInterval    time.Duration `mapstructure:"poll_interval"    yaml:"poll_interval"`
	Compression     string        `mapstructure:"compression"      yaml:"compression"`
	ExportDirectory string        `mapstructure:"export_directory" yaml:"export_directory,omitempty"`
	Timezone        string        `mapstructure:"timezone"         yaml:"timezone"`
	ExclusiveMarker bool          `mapstructure:"exclusive_marker" yaml:"exclusive_marker"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RuleConfig is one backup rule descriptor. Interval and count are accepted
// as strings or numbers and coerced when the rules are built.
type RuleConfig struct {
	Name              string `mapstructure:"name"              yaml:"name"`
	BackupInterval    any    `mapstructure:"backupInterval"    yaml:"backupInterval"`
	MaxBackupVersions any    `mapstructure:"maxBackupVersions" yaml:"maxBackupVersions"`
}

// ContributorsConfig groups the settings of the built-in contributors.
type ContributorsConfig struct {
	Files    FilesConfig     `mapstructure:"files"    yaml:"files"`
	Assets   AssetsConfig    `mapstructure:"assets"   yaml:"assets"`
	Vault    VaultConfig     `mapstructure:"vault"    yaml:"vault"`
	Commands []CommandConfig `mapstructure:"commands" yaml:"commands"`
}

// FilesConfig snapshots a content directory tree.
type FilesConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"`
	Root        string `mapstructure:"root"         yaml:"root"`
	EntryPrefix string `mapstructure:"entry_prefix" yaml:"entry_prefix"`
}

// AssetsConfig points at a content-addressed asset store.
type AssetsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Root    string `mapstructure:"root"    yaml:"root"`
}

// VaultConfig holds connection settings for HashiCorp Vault and the KV
// secrets that get snapshotted.
type VaultConfig struct {
	Enabled       bool     `mapstructure:"enabled"         yaml:"enabled"`
	Address       string   `mapstructure:"address"         yaml:"address"`
	Token         string   `mapstructure:"token"           yaml:"token,omitempty"`
	ApproleID     string   `mapstructure:"approle_id"      yaml:"approle_id,omitempty"`
	ApproleName   string   `mapstructure:"approle_name"    yaml:"approle_name,omitempty"`
	Mount         string   `mapstructure:"mount"           yaml:"mount"`
	Paths         []string `mapstructure:"paths"           yaml:"paths"`
	RestoreOnLoad bool     `mapstructure:"restore_on_load" yaml:"restore_on_load"`
}

// CommandConfig describes an external dump tool (pg_dump, mongodump, ...)
// whose standard output is stored in the archive. Restore, when set, receives
// the stored dump on standard input.
type CommandConfig struct {
	Name          string            `mapstructure:"name"            yaml:"name"`
	Dump          []string          `mapstructure:"dump"            yaml:"dump"`
	Restore       []string          `mapstructure:"restore"         yaml:"restore,omitempty"`
	Env           map[string]string `mapstructure:"env"             yaml:"env,omitempty"`
	Timeout       time.Duration     `mapstructure:"timeout"         yaml:"timeout"`
	VaultRole     string            `mapstructure:"vault_role"      yaml:"vault_role,omitempty"`
	RestoreOnLoad bool              `mapstructure:"restore_on_load" yaml:"restore_on_load"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"       yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup.directory", "./backups")
	v.SetDefault("backup.persist_interval", 30*time.Second)
	v.SetDefault("backup.poll_interval", 10*time.Millisecond)
	v.SetDefault("backup.compression", "deflate")
	v.SetDefault("backup.timezone", "Local")
	v.SetDefault("backup.exclusive_marker", false)
	v.SetDefault("backup.shutdown_timeout", time.Minute)
	v.SetDefault("contributors.files.entry_prefix", "content/")
	v.SetDefault("contributors.vault.mount", "secret")
	v.SetDefault("logging.level", "info")
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks the values that the engine cannot coerce on its own.
// Rule descriptors are deliberately not validated here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backup.Directory) == "" {
		return fmt.Errorf("%w: backup.directory is required", ErrValidateConfig)
	}
	if c.Backup.PersistInterval <= 0 {
		return fmt.Errorf("%w: backup.persist_interval must be positive", ErrValidateConfig)
	}
	if c.Backup.PollInterval <= 0 {
		return fmt.Errorf("%w: backup.poll_interval must be positive", ErrValidateConfig)
	}
	switch c.Backup.Compression {
	case "", "deflate", "zstd":
	default:
		return fmt.Errorf("%w: unknown backup.compression %q", ErrValidateConfig, c.Backup.Compression)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	if c.Contributors.Files.Enabled {
		if c.Contributors.Files.Root == "" {
			return fmt.Errorf("%w: contributors.files.root is required", ErrValidateConfig)
		}
		prefix := strings.Trim(c.Contributors.Files.EntryPrefix, "/")
		if prefix == "" {
			return fmt.Errorf("%w: contributors.files.entry_prefix must not be empty", ErrValidateConfig)
		}
		top, _, _ := strings.Cut(prefix, "/")
		if slices.Contains(reservedEntryNames, top) {
			return fmt.Errorf("%w: contributors.files.entry_prefix %q is used by another contributor",
				ErrValidateConfig, c.Contributors.Files.EntryPrefix)
		}
	}
	if c.Contributors.Assets.Enabled && c.Contributors.Assets.Root == "" {
		return fmt.Errorf("%w: contributors.assets.root is required", ErrValidateConfig)
	}
	seen := make(map[string]bool, len(c.Contributors.Commands))
	for i, cmd := range c.Contributors.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("%w: contributors.commands[%d].name is required", ErrValidateConfig, i)
		}
		if seen[cmd.Name] {
			return fmt.Errorf("%w: duplicate command contributor %q", ErrValidateConfig, cmd.Name)
		}
		seen[cmd.Name] = true
		if len(cmd.Dump) == 0 {
			return fmt.Errorf("%w: contributors.commands[%d].dump is required", ErrValidateConfig, i)
		}
	}
	return nil
}

// NeedsVault reports whether any enabled feature talks to Vault.
func (c *Config) NeedsVault() bool {
	if c.Contributors.Vault.Enabled {
		return true
	}
	for _, cmd := range c.Contributors.Commands {
		if cmd.VaultRole != "" {
			return true
		}
	}
	return false
}

// Location resolves the timezone archive timestamps are written in.
func (c *Config) Location() (*time.Location, error) {
	switch c.Backup.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Backup.Timezone)
	if err != nil {
		return nil, fmt.Errorf("backup.timezone %q: %w", c.Backup.Timezone, err)
	}
	return loc, nil
}
