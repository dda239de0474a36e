package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HOMEDASH_"

// Settings are process-level options, separate from the household Config
// that the admin API edits.
type Settings struct {
	Listen     string `koanf:"listen"`
	ConfigPath string `koanf:"config_path"`
	DataDir    string `koanf:"data_dir"`
	LogLevel   string `koanf:"log_level"`
	Debug      bool   `koanf:"debug"`

	// RedisAddr enables the Redis-backed dashboard mode store when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// AdminUser/AdminPassword enable HTTP Basic Auth on /api/admin.
	AdminUser     string `koanf:"admin_user"`
	AdminPassword string `koanf:"admin_password"`
}

// DefaultSettings returns settings for a local run.
func DefaultSettings() Settings {
	return Settings{
		Listen:     ":5000",
		ConfigPath: "data/config.yaml",
		DataDir:    "data",
		LogLevel:   "info",
	}
}

// LoadSettings builds Settings by layering, low to high precedence:
//  1. defaults
//  2. the .env file at envFile (if it exists) exported into the environment
//  3. YAML file named by HOMEDASH_SETTINGS
//  4. environment variables HOMEDASH_*
func LoadSettings(envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, err
		}
	}

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "SETTINGS"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Settings{}, err
		}
	}

	// HOMEDASH_REDIS_ADDR -> redis_addr; keys stay flat.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Settings{}, err
	}

	s := DefaultSettings()
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Settings{}, err
	}
	if s.Listen == "" {
		return Settings{}, errors.New("listen must not be empty")
	}
	if s.DataDir == "" {
		s.DataDir = "."
	}
	if s.ConfigPath == "" {
		s.ConfigPath = filepath.Join(s.DataDir, "config.yaml")
	}
	return s, nil
}

// BasicAuthEnabled reports whether both admin credentials are set.
func (s Settings) BasicAuthEnabled() bool {
	return s.AdminUser != "" && s.AdminPassword != ""
}
