package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Development-only fallback secrets. These are used when the corresponding
// environment variable is unset and must never ship in a production build;
// Load flags their use so the caller can warn loudly.
const (
	devAppSecret     = "varsys-dev-app-secret-not-for-production"
	devVaultSecret   = "varsys-dev-vault-secret-not-for-production"
	devIntegrityKey  = "varsys-dev-integrity-key-not-for-production"
	configFileName   = "config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Secrets   SecretsConfig   `yaml:"-" ignored:"true"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8750"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// AuthorityConfig configures the license-issuing authority client.
// An empty URL selects the built-in local authority, which issues
// full-access licenses for well-formed keys (the source system ships
// with the server stubbed the same way).
type AuthorityConfig struct {
	URL            string        `yaml:"url" envconfig:"URL"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
	RecheckEvery   time.Duration `yaml:"recheck_every" envconfig:"RECHECK_EVERY" default:"168h"`
}

// SecurityConfig contains rate limiting and abuse-control configuration
type SecurityConfig struct {
	MaxActivationAttempts int           `yaml:"max_activation_attempts" envconfig:"MAX_ACTIVATION_ATTEMPTS" default:"5"`
	BlockDuration         time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION" default:"15m"`
	AttemptWindow         time.Duration `yaml:"attempt_window" envconfig:"ATTEMPT_WINDOW" default:"5m"`
	RateLimitRPS          float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst        int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"25"`
}

// SecretsConfig carries the secret material used for key derivation and
// payload signing. Values are environment-only and never read from the
// YAML file so they cannot end up committed alongside deployment config.
type SecretsConfig struct {
	AppSecret    string
	VaultSecret  string
	IntegrityKey string
	// DevDefaults is true when any secret fell back to a built-in
	// development value.
	DevDefaults bool
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/varsys.log"`
}

// PathsConfig contains the persisted file locations. Relative paths are
// resolved against DataDir.
type PathsConfig struct {
	DataDir       string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LicenseFile   string `yaml:"license_file" envconfig:"LICENSE_FILE" default:"license.dat"`
	VaultFile     string `yaml:"vault_file" envconfig:"VAULT_FILE" default:"firebase_vault.dat"`
	ChecksumFile  string `yaml:"checksum_file" envconfig:"CHECKSUM_FILE" default:"firebase_checksum.dat"`
	AccessLogFile string `yaml:"access_log_file" envconfig:"ACCESS_LOG_FILE" default:"firebase_access.log"`
}

// Load loads configuration from environment variables and an optional
// config.yaml next to the working directory. Environment takes precedence.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("VARSYS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if _, err := os.Stat(configFileName); err == nil {
		fileCfg, err := loadFromFile(configFileName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	cfg.loadSecrets()

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs layers the file config between the built-in defaults and the
// environment: a file value replaces a default, an explicitly set
// environment variable wins over the file. envconfig cannot tell a defaulted
// field from an env-supplied one, so the variables are checked directly.
func mergeConfigs(fileConfig, envConfig Config) Config {
	merge(&envConfig.Server.Port, fileConfig.Server.Port, "SERVER_PORT")
	merge(&envConfig.Server.ReadTimeout, fileConfig.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	merge(&envConfig.Server.WriteTimeout, fileConfig.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	merge(&envConfig.Server.IdleTimeout, fileConfig.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT")
	merge(&envConfig.Server.RequestTimeout, fileConfig.Server.RequestTimeout, "SERVER_REQUEST_TIMEOUT")
	merge(&envConfig.Server.ShutdownTimeout, fileConfig.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	merge(&envConfig.Authority.URL, fileConfig.Authority.URL, "AUTHORITY_URL")
	merge(&envConfig.Authority.Timeout, fileConfig.Authority.Timeout, "AUTHORITY_TIMEOUT")
	merge(&envConfig.Authority.RecheckEvery, fileConfig.Authority.RecheckEvery, "AUTHORITY_RECHECK_EVERY")

	merge(&envConfig.Security.MaxActivationAttempts, fileConfig.Security.MaxActivationAttempts, "SECURITY_MAX_ACTIVATION_ATTEMPTS")
	merge(&envConfig.Security.BlockDuration, fileConfig.Security.BlockDuration, "SECURITY_BLOCK_DURATION")
	merge(&envConfig.Security.AttemptWindow, fileConfig.Security.AttemptWindow, "SECURITY_ATTEMPT_WINDOW")
	merge(&envConfig.Security.RateLimitRPS, fileConfig.Security.RateLimitRPS, "SECURITY_RATE_LIMIT_RPS")
	merge(&envConfig.Security.RateLimitBurst, fileConfig.Security.RateLimitBurst, "SECURITY_RATE_LIMIT_BURST")

	merge(&envConfig.Logging.Level, fileConfig.Logging.Level, "LOGGING_LEVEL")
	merge(&envConfig.Logging.Output, fileConfig.Logging.Output, "LOGGING_OUTPUT")
	merge(&envConfig.Logging.FilePath, fileConfig.Logging.FilePath, "LOGGING_FILE_PATH")

	merge(&envConfig.Paths.DataDir, fileConfig.Paths.DataDir, "PATHS_DATA_DIR")
	merge(&envConfig.Paths.LicenseFile, fileConfig.Paths.LicenseFile, "PATHS_LICENSE_FILE")
	merge(&envConfig.Paths.VaultFile, fileConfig.Paths.VaultFile, "PATHS_VAULT_FILE")
	merge(&envConfig.Paths.ChecksumFile, fileConfig.Paths.ChecksumFile, "PATHS_CHECKSUM_FILE")
	merge(&envConfig.Paths.AccessLogFile, fileConfig.Paths.AccessLogFile, "PATHS_ACCESS_LOG_FILE")

	return envConfig
}

// merge applies a non-zero file value unless the corresponding VARSYS
// environment variable was set explicitly.
func merge[T comparable](dst *T, fileVal T, envName string) {
	var zero T
	if fileVal == zero {
		return
	}
	if _, ok := os.LookupEnv("VARSYS_" + envName); ok {
		return
	}
	*dst = fileVal
}

// loadSecrets reads secret material from the environment, falling back to
// development defaults and recording that fact.
func (c *Config) loadSecrets() {
	c.Secrets.AppSecret = os.Getenv("VARSYS_APP_SECRET")
	c.Secrets.VaultSecret = os.Getenv("VARSYS_VAULT_SECRET")
	c.Secrets.IntegrityKey = os.Getenv("VARSYS_INTEGRITY_KEY")

	if c.Secrets.AppSecret == "" {
		c.Secrets.AppSecret = devAppSecret
		c.Secrets.DevDefaults = true
	}
	if c.Secrets.VaultSecret == "" {
		c.Secrets.VaultSecret = devVaultSecret
		c.Secrets.DevDefaults = true
	}
	if c.Secrets.IntegrityKey == "" {
		c.Secrets.IntegrityKey = devIntegrityKey
		c.Secrets.DevDefaults = true
	}
}

// resolvePaths makes every persisted-file path absolute under DataDir and
// ensures the directories exist.
func (c *Config) resolvePaths() error {
	dataDir, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.Paths.DataDir = dataDir

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}

	c.Paths.LicenseFile = resolveUnder(dataDir, c.Paths.LicenseFile)
	c.Paths.VaultFile = resolveUnder(dataDir, c.Paths.VaultFile)
	c.Paths.ChecksumFile = resolveUnder(dataDir, c.Paths.ChecksumFile)
	c.Paths.AccessLogFile = resolveUnder(dataDir, c.Paths.AccessLogFile)

	if c.Logging.Output != "stdout" {
		logDir := filepath.Dir(c.Logging.FilePath)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log dir %s: %w", logDir, err)
		}
	}

	return nil
}

func resolveUnder(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Authority.Timeout <= 0 {
		return fmt.Errorf("authority timeout must be positive, got %s", c.Authority.Timeout)
	}
	if c.Authority.RecheckEvery <= 0 {
		return fmt.Errorf("authority recheck interval must be positive, got %s", c.Authority.RecheckEvery)
	}
	if c.Security.MaxActivationAttempts < 1 {
		return fmt.Errorf("max activation attempts must be at least 1, got %d", c.Security.MaxActivationAttempts)
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
