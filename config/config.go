// Package config loads the server configuration from a YAML, TOML, or JSON
// file (or URL), with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	// Server settings
	Server struct {
		Name string `yaml:"name" toml:"name" json:"name" env:"IRCSTATE_SERVER_NAME"`
		// Operators are nicks bootstrapped as server operators at startup
		Operators []string `yaml:"operators" toml:"operators" json:"operators" env:"IRCSTATE_OPERATORS"`
	} `yaml:"server" toml:"server" json:"server"`

	// Store settings
	Store struct {
		Driver string `yaml:"driver" toml:"driver" json:"driver" env:"IRCSTATE_STORE_DRIVER"`
		DSN    string `yaml:"dsn" toml:"dsn" json:"dsn" env:"IRCSTATE_STORE_DSN"`
	} `yaml:"store" toml:"store" json:"store"`

	// API settings
	API struct {
		Enabled      bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCSTATE_API_ENABLED"`
		Host         string   `yaml:"host" toml:"host" json:"host" env:"IRCSTATE_API_HOST"`
		Port         int      `yaml:"port" toml:"port" json:"port" env:"IRCSTATE_API_PORT"`
		BearerTokens []string `yaml:"bearer_tokens" toml:"bearer_tokens" json:"bearer_tokens" env:"IRCSTATE_API_TOKENS"`
	} `yaml:"api" toml:"api" json:"api"`

	// Catch-up settings
	CatchUp struct {
		BatchLimit int `yaml:"batch_limit" toml:"batch_limit" json:"batch_limit" env:"IRCSTATE_CATCHUP_BATCH_LIMIT"`
	} `yaml:"catchup" toml:"catchup" json:"catchup"`

	// Retry settings for transient store failures
	Retry struct {
		Attempts  int `yaml:"attempts" toml:"attempts" json:"attempts" env:"IRCSTATE_RETRY_ATTEMPTS"`
		BackoffMS int `yaml:"backoff_ms" toml:"backoff_ms" json:"backoff_ms" env:"IRCSTATE_RETRY_BACKOFF_MS"`
	} `yaml:"retry" toml:"retry" json:"retry"`

	// Configuration source for rehashing
	Source string
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Name = "ircstate.local"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "ircstate.db"
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8080
	cfg.CatchUp.BatchLimit = 500
	cfg.Retry.Attempts = 5
	cfg.Retry.BackoffMS = 10
	return cfg
}

// Load loads configuration from a file or URL
func Load(source string) (*Config, error) {
	cfg := defaults()
	cfg.Source = source

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	if newSource != "" {
		c.Source = newSource
	}

	newCfg := defaults()
	if err := newCfg.loadFromSource(c.Source); err != nil {
		return err
	}
	applyEnvOverrides(newCfg)

	*c = *newCfg
	return nil
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	// Check if the source is a URL
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %v", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %v", err)
		}
	}

	// Determine the format based on file extension
	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		// Default to YAML
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %v", err)
	}

	c.Source = source
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

// applyEnvOverridesRecursive recursively applies environment variable overrides
func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		envTag := field.Tag.Get("env")

		if envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable
func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := parseInt(envValue); err == nil {
			field.SetInt(v)
		}
	case reflect.Bool:
		if v, err := parseBool(envValue); err == nil {
			field.SetBool(v)
		}
	case reflect.Slice:
		// Handle string slices
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(strings.TrimSpace(v))
			}
			field.Set(slice)
		}
	}
}

// Helper functions for parsing different types
func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseBool(s string) (bool, error) {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y", nil
}

// GetAPIListenAddress returns the formatted listen address for the API server
func (c *Config) GetAPIListenAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// RetryBackoff returns the configured retry backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffMS) * time.Millisecond
}
