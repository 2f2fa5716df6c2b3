// Package config loads service configuration from a YAML file and
// environment variables, layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"apigate/internal/models"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the optional YAML
// file, then APIGATE_* environment overrides, then validation.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile overlays configuration from a YAML file.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overlays configuration from environment variables.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("APIGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("APIGATE_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("APIGATE_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("APIGATE_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("APIGATE_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("APIGATE_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("APIGATE_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("APIGATE_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Environment mode drives policy resolution. Both the full and the
	// short variable names are honored; the short one wins when both are
	// set.
	if env := os.Getenv("APIGATE_ENVIRONMENT"); env != "" {
		config.Environment = env
	}
	if env := os.Getenv("APIGATE_ENV"); env != "" {
		config.Environment = env
	}

	// Rate limiting configuration
	if enabled := os.Getenv("APIGATE_RATELIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}

	if store := os.Getenv("APIGATE_RATELIMIT_STORE"); store != "" {
		config.RateLimit.Store = store
	}

	if interval := os.Getenv("APIGATE_RATELIMIT_CLEANUP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.RateLimit.CleanupInterval = d
		}
	}

	if addr := os.Getenv("APIGATE_REDIS_ADDR"); addr != "" {
		config.RateLimit.Redis.Addr = addr
	}

	if password := os.Getenv("APIGATE_REDIS_PASSWORD"); password != "" {
		config.RateLimit.Redis.Password = password
	}

	if db := os.Getenv("APIGATE_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.RateLimit.Redis.DB = dbNum
		}
	}

	if poolSize := os.Getenv("APIGATE_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.RateLimit.Redis.PoolSize = size
		}
	}

	overrideWindowLimit("APIGATE_RATELIMIT_GLOBAL", &config.RateLimit.Global)
	overrideWindowLimit("APIGATE_RATELIMIT_DEV", &config.RateLimit.Development)
	overrideWindowLimit("APIGATE_RATELIMIT_AUTH", &config.RateLimit.Auth)
	overrideWindowLimit("APIGATE_RATELIMIT_API", &config.RateLimit.API)
	overrideWindowLimit("APIGATE_RATELIMIT_USER", &config.RateLimit.User)
	overrideWindowLimit("APIGATE_RATELIMIT_USERS", &config.RateLimit.Users)
	overrideWindowLimit("APIGATE_RATELIMIT_ADMIN", &config.RateLimit.Admin)
	overrideWindowLimit("APIGATE_RATELIMIT_PUBLIC", &config.RateLimit.Public)

	if after := os.Getenv("APIGATE_THROTTLE_DELAY_AFTER"); after != "" {
		if n, err := strconv.Atoi(after); err == nil {
			config.RateLimit.Throttle.DelayAfter = n
		}
	}

	if step := os.Getenv("APIGATE_THROTTLE_DELAY_STEP"); step != "" {
		if d, err := time.ParseDuration(step); err == nil {
			config.RateLimit.Throttle.DelayStep = d
		}
	}

	if maxDelay := os.Getenv("APIGATE_THROTTLE_MAX_DELAY"); maxDelay != "" {
		if d, err := time.ParseDuration(maxDelay); err == nil {
			config.RateLimit.Throttle.MaxDelay = d
		}
	}

	// Logging configuration
	if level := os.Getenv("APIGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("APIGATE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("APIGATE_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("APIGATE_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("APIGATE_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("APIGATE_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("APIGATE_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// overrideWindowLimit applies <prefix>_WINDOW and <prefix>_MAX overrides to
// one policy budget.
func overrideWindowLimit(prefix string, wl *models.WindowLimit) {
	if window := os.Getenv(prefix + "_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			wl.Window = d
		}
	}
	if max := os.Getenv(prefix + "_MAX"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			wl.Max = n
		}
	}
}
