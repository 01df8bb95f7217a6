// Package config loads service and test settings from .env files, an
// optional config.yml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      App      `mapstructure:"app"`
	Database Database `mapstructure:"database"`
	Auth     Auth     `mapstructure:"auth"`
	Log      Log      `mapstructure:"log"`
	Test     Test     `mapstructure:"test"`
}

type App struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for the HTTP listener.
func (a App) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type Database struct {
	URL      string `mapstructure:"url"`
	LogLevel string `mapstructure:"log_level"`
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Test holds options consumed by the test environment.
type Test struct {
	DatabaseURL   string        `mapstructure:"database_url"`
	PreserveDB    bool          `mapstructure:"preserve_db"`
	RunSlow       bool          `mapstructure:"run_slow"`
	FakerSeed     int64         `mapstructure:"faker_seed"`
	ServerURL     string        `mapstructure:"server_url"`
	ServerTimeout time.Duration `mapstructure:"server_timeout"`
	ServerCommand string        `mapstructure:"server_command"`
}

// ServerArgv splits ServerCommand into a binary and its arguments.
func (t Test) ServerArgv() []string {
	return strings.Fields(t.ServerCommand)
}

// LoadOptions selects explicit files. Empty fields trigger a search.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

// Load resolves configuration. Precedence, highest first: environment,
// config file, .env file, defaults.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	return LoadWith(v, opts)
}

// LoadWith is Load on a caller-owned viper instance, so CLI flags bound to
// v take part in resolution.
func LoadWith(v *viper.Viper, opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = findUp(".env", 3)
	}
	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = findUp("config.yml", 3)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envAliases are short variable names accepted besides the derived
// KEY_PATH form.
var envAliases = map[string][]string{
	"test.preserve_db": {"TEST_PRESERVE_DB", "PRESERVE_DB"},
	"test.run_slow":    {"TEST_RUN_SLOW", "RUN_SLOW"},
	"app.port":         {"APP_PORT", "PORT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "127.0.0.1")
	v.SetDefault("app.port", 8000)
	v.SetDefault("database.url", "sqlite3://calculations.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.token_ttl", 72*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("test.database_url", "")
	v.SetDefault("test.preserve_db", false)
	v.SetDefault("test.run_slow", false)
	v.SetDefault("test.faker_seed", 12345)
	v.SetDefault("test.server_url", "http://127.0.0.1:8000/")
	v.SetDefault("test.server_timeout", 30*time.Second)
	v.SetDefault("test.server_command", "go run ./cmd/calc_service serve")
}

// Validate checks values that would otherwise fail later and far away.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port must be between 1 and 65535 (got: %d)", c.App.Port)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive (got: %s)", c.Auth.TokenTTL)
	}
	if c.Test.ServerTimeout <= 0 {
		return fmt.Errorf("test.server_timeout must be positive (got: %s)", c.Test.ServerTimeout)
	}
	return nil
}

// findUp looks for name in the working directory and up to depth parents.
func findUp(name string, depth int) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i <= depth; i++ {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
