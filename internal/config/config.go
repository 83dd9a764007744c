// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/validation"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Data     DataConfig
	Device   DeviceConfig
	Sync     SyncConfig
	DRM      DRMConfig
	Metrics  MetricsConfig
	Server   ServerConfig
	Accounts AccountsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	UserAgent   string
	Language    string // BCP 47 tag for user-facing messages
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds local storage configuration.
type DataConfig struct {
	BasePath string
}

// BadgerPath is the directory of the credential and deletion-log store.
func (d DataConfig) BadgerPath() string { return filepath.Join(d.BasePath, "kv") }

// SQLitePath is the bookmark replica and outbox database.
func (d DataConfig) SQLitePath() string { return filepath.Join(d.BasePath, "bookmarks.db") }

// DeviceConfig identifies this reader in annotation bodies.
type DeviceConfig struct {
	ID string
}

// SyncConfig holds bookmark sync timing.
type SyncConfig struct {
	PositionDebounce  time.Duration // default: 1s
	AnnotationTimeout time.Duration // default: 20s
	SignInTimeout     time.Duration // default: 60s
	ReplayInterval    time.Duration // default: 1m
	MaxAttempts       int           // default: 10
}

// DRMConfig holds device activation configuration.
type DRMConfig struct {
	Enabled bool
	// ActivationsPerHour limits activations per account.
	ActivationsPerHour float64
	ActivationBurst    int
	// CertificateExpiry is the device certificate's end of validity. Zero never expires.
	CertificateExpiry time.Time
}

// MetricsConfig holds the daemon's /metrics listener.
type MetricsConfig struct {
	Addr string // empty disables the listener
}

// ServerConfig holds the reference annotation server configuration.
type ServerConfig struct {
	Addr                string
	PublicURL           string // Optional, defaults to http://<Addr>
	LibraryID           string
	PatronsPath         string
	AllowedOrigins      []string
	ReadTimeout         time.Duration // default: 15s
	WriteTimeout        time.Duration // default: 15s
	IdleTimeout         time.Duration // default: 60s
	AccessTokenDuration time.Duration // default: 1h
}

// AccountsConfig points at the YAML accounts file.
type AccountsConfig struct {
	Path    string
	Entries []domain.LibraryAccount
}

// Find returns the account with the given ID.
func (a AccountsConfig) Find(id string) (domain.LibraryAccount, bool) {
	for _, acct := range a.Entries {
		if acct.ID == id {
			return acct, true
		}
	}
	return domain.LibraryAccount{}, false
}

// Overrides carries command-line flag values. Empty fields fall through to the
// environment, the .env file, then defaults.
type Overrides struct {
	Env           string
	EnvFile       string
	LogLevel      string
	DataPath      string
	DeviceID      string
	AccountsPath  string
	MetricsAddr   string
	ServerAddr    string
	PatronsPath   string
	Language      string
	DRMEnabled    string
	DebounceDelay string
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(o Overrides) (*Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(o.Env, "ENV", "development"),
			UserAgent:   getConfigValue("", "USER_AGENT", "listenup-sync/1.0"),
			Language:    getConfigValue(o.Language, "LANGUAGE", "en"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(o.LogLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(o.DataPath, "DATA_PATH", ""),
		},
		Device: DeviceConfig{
			ID: getConfigValue(o.DeviceID, "DEVICE_ID", ""),
		},
		Sync: SyncConfig{
			MaxAttempts: getIntConfigValue("", "OUTBOX_MAX_ATTEMPTS", 10),
		},
		DRM: DRMConfig{
			Enabled:         getBoolConfigValue(o.DRMEnabled, "DRM_ENABLED", false),
			ActivationBurst: getIntConfigValue("", "DRM_ACTIVATION_BURST", 3),
		},
		Metrics: MetricsConfig{
			Addr: getConfigValue(o.MetricsAddr, "METRICS_ADDR", ""),
		},
		Server: ServerConfig{
			Addr:        getConfigValue(o.ServerAddr, "SERVER_ADDR", "127.0.0.1:8090"),
			PublicURL:   getConfigValue("", "SERVER_PUBLIC_URL", ""),
			LibraryID:   getConfigValue("", "SERVER_LIBRARY_ID", "reference"),
			PatronsPath: getConfigValue(o.PatronsPath, "SERVER_PATRONS_PATH", ""),
		},
		Accounts: AccountsConfig{
			Path: getConfigValue(o.AccountsPath, "ACCOUNTS_PATH", ""),
		},
	}

	if origins := getConfigValue("", "SERVER_ALLOWED_ORIGINS", ""); origins != "" {
		for origin := range strings.SplitSeq(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, origin)
			}
		}
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		env      string
		fallback string
	}{
		{&cfg.Sync.PositionDebounce, o.DebounceDelay, "POSITION_DEBOUNCE", "1s"},
		{&cfg.Sync.AnnotationTimeout, "", "ANNOTATION_TIMEOUT", "20s"},
		{&cfg.Sync.SignInTimeout, "", "SIGNIN_TIMEOUT", "60s"},
		{&cfg.Sync.ReplayInterval, "", "OUTBOX_REPLAY_INTERVAL", "1m"},
		{&cfg.Server.ReadTimeout, "", "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "", "SERVER_WRITE_TIMEOUT", "15s"},
		{&cfg.Server.IdleTimeout, "", "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Server.AccessTokenDuration, "", "SERVER_ACCESS_TOKEN_DURATION", "1h"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.env, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.env, raw, err)
		}
		*d.dst = parsed
	}

	rateStr := getConfigValue("", "DRM_ACTIVATIONS_PER_HOUR", "6")
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DRM_ACTIVATIONS_PER_HOUR %q: %w", rateStr, err)
	}
	cfg.DRM.ActivationsPerHour = rate

	if raw := getConfigValue("", "DRM_CERTIFICATE_EXPIRY", ""); raw != "" {
		exp, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DRM_CERTIFICATE_EXPIRY %q: %w", raw, err)
		}
		cfg.DRM.CertificateExpiry = exp
	}

	// Expand and validate data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.expandAccountsPath(); err != nil {
		return nil, fmt.Errorf("invalid accounts path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Accounts.Path != "" {
		entries, err := LoadAccounts(cfg.Accounts.Path)
		if err != nil {
			return nil, err
		}
		cfg.Accounts.Entries = entries
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Sync.PositionDebounce <= 0 {
		return fmt.Errorf("position debounce must be positive, got %s", c.Sync.PositionDebounce)
	}
	if c.Sync.ReplayInterval <= 0 {
		return fmt.Errorf("outbox replay interval must be positive, got %s", c.Sync.ReplayInterval)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("outbox max attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.DRM.Enabled && (c.DRM.ActivationsPerHour <= 0 || c.DRM.ActivationBurst < 1) {
		return errors.New("DRM activation rate and burst must be positive")
	}

	return nil
}

// LoadAccounts reads and validates a YAML accounts file:
//
//	accounts:
//	  - id: springfield
//	    auth_method: basic
//	    profile_url: https://lib.example/patrons/me
func LoadAccounts(path string) ([]domain.LibraryAccount, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- accounts file path is user supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var doc struct {
		Accounts []domain.LibraryAccount `yaml:"accounts"`
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file %s: %w", path, err)
	}

	if err := validation.New().ValidateAccounts(doc.Accounts); err != nil {
		return nil, fmt.Errorf("invalid accounts file %s: %w", path, err)
	}
	return doc.Accounts, nil
}

// EnsureDeviceID returns the configured device ID, or the one persisted under the data
// path, generating and persisting a new one on first run.
func (c *Config) EnsureDeviceID() (string, error) {
	if c.Device.ID != "" {
		return c.Device.ID, nil
	}

	path := filepath.Join(c.Data.BasePath, "device-id")
	if data, err := os.ReadFile(path); err == nil { //#nosec G304 -- path under the data directory
		if id := strings.TrimSpace(string(data)); id != "" {
			c.Device.ID = id
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	if err := os.MkdirAll(c.Data.BasePath, 0o750); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	id := "urn:uuid:" + uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	c.Device.ID = id
	return id, nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, ".listenup-sync")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// expandAccountsPath defaults to {data}/accounts.yaml when that file exists.
func (c *Config) expandAccountsPath() error {
	if c.Accounts.Path == "" {
		candidate := filepath.Join(c.Data.BasePath, "accounts.yaml")
		if _, err := os.Stat(candidate); err == nil {
			c.Accounts.Path = candidate
		}
		return nil
	}

	expanded, err := expandPath(c.Accounts.Path, "")
	if err != nil {
		return err
	}
	c.Accounts.Path = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
