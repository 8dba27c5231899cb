package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	User   UserConfig   `mapstructure:"user"`
	Log    LogConfig    `mapstructure:"log"`
	Output OutputConfig `mapstructure:"output"`
}

// StoreConfig points at the matrix store directory. Empty means discover
// .scorematrix upwards from the working directory.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// UserConfig is who writes, locks and undo entries are attributed to.
type UserConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	Pretty bool   `mapstructure:"pretty"`
}

// Dir is where config.toml lives. Override with SCOREMATRIX_CONFIG_DIR.
func Dir() string {
	if d := strings.TrimSpace(os.Getenv("SCOREMATRIX_CONFIG_DIR")); d != "" {
		return d
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "scorematrix")
}

// Load reads configuration from file and env. Env var overrides use prefix
// SCOREMATRIX_, e.g. SCOREMATRIX_USER_ID.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("store.dir", "")
	v.SetDefault("user.id", os.Getenv("USER"))
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("output.format", "json")
	v.SetDefault("output.pretty", false)

	v.SetConfigType("toml")
	v.AddConfigPath(Dir())
	v.SetConfigName("config")

	v.SetEnvPrefix("SCOREMATRIX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	switch c.Output.Format {
	case "", "json":
		c.Output.Format = "json"
	case "yaml":
	default:
		return Config{}, fmt.Errorf("invalid output.format %q (expected json|yaml)", c.Output.Format)
	}
	return c, nil
}

// Save writes cfg to config.toml in Dir, creating the directory if needed.
func Save(cfg Config) error {
	path := filepath.Join(Dir(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("store.dir", cfg.Store.Dir)
	v.Set("user.id", cfg.User.ID)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)
	v.Set("output.format", cfg.Output.Format)
	v.Set("output.pretty", cfg.Output.Pretty)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
