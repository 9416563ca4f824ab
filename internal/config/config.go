// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Source    SourceConfig
	Fetch     FetchConfig
	Store     StoreConfig
	Crawl     CrawlConfig
	Detection DetectionConfig
	Schedule  ScheduleConfig
	Report    ReportConfig
	Alert     AlertConfig
	Server    ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	Debug       bool
	// EnvFile is the .env path the loader read; the config watcher
	// monitors the same file.
	EnvFile string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "pretty" ("console" is accepted as an alias for pretty)
	File   string // optional log file mirrored alongside stdout; empty disables
}

// SourceConfig identifies the site being mirrored.
type SourceConfig struct {
	BaseURL   string
	UserAgent string
}

// FetchConfig holds outbound HTTP behavior.
type FetchConfig struct {
	// RateLimitPerSecond feeds the single shared token bucket every
	// outbound request passes through, concurrent or not.
	RateLimitPerSecond    float64
	RequestTimeout        time.Duration
	RetryAttempts         int
	RetryDelay            time.Duration
	MaxConcurrentRequests int
}

// StoreConfig holds document store configuration.
type StoreConfig struct {
	DataDir string
}

// CrawlConfig holds full-crawl behavior.
type CrawlConfig struct {
	StateFile          string
	ResumeOnFailure    bool
	CheckpointInterval int // pages between state file writes
}

// DetectionConfig holds reconciliation loop tuning.
type DetectionConfig struct {
	Enabled                  bool
	MaxConcurrentBooks       int
	BatchSize                int
	ExpectedCatalogSize      int
	MaxRestorePages          int
	MaxDiscoveryPages        int
	MaxConsecutivePageErrors int
}

// ScheduleConfig holds the daily run time.
type ScheduleConfig struct {
	Hour     int
	Minute   int
	Timezone string

	location *time.Location
}

// Location returns the parsed timezone. Validate must have run first.
func (s *ScheduleConfig) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// ReportConfig holds daily report generation settings.
type ReportConfig struct {
	Enabled       bool
	Format        string // "json" or "csv"
	Dir           string
	RetentionDays int
	HistoryDays   int
}

// AlertConfig holds change alerting settings.
type AlertConfig struct {
	Enabled         bool
	MinSeverity     string
	MaxPerHour      int
	CooldownMinutes int
}

// ServerConfig holds read API server configuration.
type ServerConfig struct {
	ListenAddr       string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	BootstrapAPIKeys []string // plaintext keys accepted in addition to stored ones
	RateLimitPerHour int
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	debug := flag.String("debug", "", "Enable debug mode (true/false)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (json, pretty)")
	logFile := flag.String("log-file", "", "Log file path (empty to disable file logging)")

	baseURL := flag.String("base-url", "", "Base URL of the monitored catalog site")
	dataDir := flag.String("data-dir", "", "Base directory for the document store and search index")

	rateLimit := flag.String("rate-limit", "", "Outbound requests per second (default: 2.0)")
	requestTimeout := flag.String("request-timeout", "", "Per-request timeout (default: 30s)")
	retryAttempts := flag.String("retry-attempts", "", "Fetch attempts per URL (default: 3)")
	retryDelay := flag.String("retry-delay", "", "Base retry backoff (default: 1s)")

	stateFile := flag.String("state-file", "", "Crawl state file path (default: crawl_state.json)")

	scheduleHour := flag.String("schedule-hour", "", "Daily detection hour 0-23 (default: 2)")
	scheduleMinute := flag.String("schedule-minute", "", "Daily detection minute 0-59 (default: 0)")
	timezone := flag.String("timezone", "", "Schedule timezone (default: UTC)")

	reportsDir := flag.String("reports-dir", "", "Directory for exported daily reports")
	listenAddr := flag.String("listen-addr", "", "API listen address (default: :8000)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	// Parse flags but don't exit on error - we want to handle it gracefully.
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			Debug:       getBoolConfigValue(*debug, "DEBUG", false),
			EnvFile:     *envFile,
		},
		Logger: LoggerConfig{
			Level:  getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			Format: getConfigValue(*logFormat, "LOG_FORMAT", ""),
			File:   getConfigValue(*logFile, "LOG_FILE", "logs/crawler.log"),
		},
		Source: SourceConfig{
			BaseURL:   getConfigValue(*baseURL, "BASE_URL", "https://books.toscrape.com"),
			UserAgent: getConfigValue("", "USER_AGENT", "FilersKeepers-Crawler/1.0 (Educational Assessment)"),
		},
		Fetch: FetchConfig{
			RateLimitPerSecond:    getFloatConfigValue(*rateLimit, "RATE_LIMIT_PER_SECOND", 2.0),
			RetryAttempts:         getIntConfigValue(*retryAttempts, "RETRY_ATTEMPTS", 3),
			MaxConcurrentRequests: getIntConfigValue("", "MAX_CONCURRENT_REQUESTS", 10),
		},
		Store: StoreConfig{
			DataDir: getConfigValue(*dataDir, "DATA_DIR", ""),
		},
		Crawl: CrawlConfig{
			StateFile:          getConfigValue(*stateFile, "STATE_FILE", "crawl_state.json"),
			ResumeOnFailure:    getBoolConfigValue("", "RESUME_ON_FAILURE", true),
			CheckpointInterval: getIntConfigValue("", "CHECKPOINT_INTERVAL", 10),
		},
		Detection: DetectionConfig{
			Enabled:                  getBoolConfigValue("", "ENABLE_CHANGE_DETECTION", true),
			MaxConcurrentBooks:       getIntConfigValue("", "MAX_CONCURRENT_BOOKS", 50),
			BatchSize:                getIntConfigValue("", "BATCH_SIZE", 100),
			ExpectedCatalogSize:      getIntConfigValue("", "EXPECTED_CATALOG_SIZE", 1000),
			MaxRestorePages:          getIntConfigValue("", "MAX_RESTORE_PAGES", 50),
			MaxDiscoveryPages:        getIntConfigValue("", "MAX_DISCOVERY_PAGES", 10),
			MaxConsecutivePageErrors: getIntConfigValue("", "MAX_CONSECUTIVE_PAGE_ERRORS", 5),
		},
		Schedule: ScheduleConfig{
			Hour:     getIntConfigValue(*scheduleHour, "SCHEDULE_HOUR", 2),
			Minute:   getIntConfigValue(*scheduleMinute, "SCHEDULE_MINUTE", 0),
			Timezone: getConfigValue(*timezone, "TIMEZONE", "UTC"),
		},
		Report: ReportConfig{
			Enabled:       getBoolConfigValue("", "GENERATE_DAILY_REPORTS", true),
			Format:        getConfigValue("", "REPORT_FORMAT", "json"),
			Dir:           getConfigValue(*reportsDir, "REPORTS_DIR", "reports"),
			RetentionDays: getIntConfigValue("", "REPORT_RETENTION_DAYS", 30),
			HistoryDays:   getIntConfigValue("", "REPORT_HISTORY_DAYS", 7),
		},
		Alert: AlertConfig{
			Enabled:         getBoolConfigValue("", "ALERTS_ENABLED", true),
			MinSeverity:     getConfigValue("", "ALERT_MIN_SEVERITY", "medium"),
			MaxPerHour:      getIntConfigValue("", "ALERT_MAX_PER_HOUR", 10),
			CooldownMinutes: getIntConfigValue("", "ALERT_COOLDOWN_MINUTES", 30),
		},
		Server: ServerConfig{
			ListenAddr:       getConfigValue(*listenAddr, "LISTEN_ADDR", ":8000"),
			BootstrapAPIKeys: splitList(getConfigValue("", "API_KEYS", "")),
			RateLimitPerHour: getIntConfigValue("", "API_RATE_LIMIT_PER_HOUR", 100),
		},
	}

	// Parse durations.
	requestTimeoutStr := getConfigValue(*requestTimeout, "REQUEST_TIMEOUT", "30s")
	d, err := parseDuration(requestTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid request timeout %q: %w", requestTimeoutStr, err)
	}
	cfg.Fetch.RequestTimeout = d

	retryDelayStr := getConfigValue(*retryDelay, "RETRY_DELAY", "1s")
	d, err = parseDuration(retryDelayStr)
	if err != nil {
		return nil, fmt.Errorf("invalid retry delay %q: %w", retryDelayStr, err)
	}
	cfg.Fetch.RetryDelay = d

	readTimeoutStr := getConfigValue("", "SERVER_READ_TIMEOUT", "15s")
	d, err = parseDuration(readTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout %q: %w", readTimeoutStr, err)
	}
	cfg.Server.ReadTimeout = d

	writeTimeoutStr := getConfigValue("", "SERVER_WRITE_TIMEOUT", "15s")
	d, err = parseDuration(writeTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout %q: %w", writeTimeoutStr, err)
	}
	cfg.Server.WriteTimeout = d

	idleTimeoutStr := getConfigValue("", "SERVER_IDLE_TIMEOUT", "60s")
	d, err = parseDuration(idleTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout %q: %w", idleTimeoutStr, err)
	}
	cfg.Server.IdleTimeout = d

	// Expand paths.
	if err := cfg.expandDataDir(); err != nil {
		return nil, fmt.Errorf("invalid data dir: %w", err)
	}
	if err := cfg.expandStateFile(); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}
	if err := cfg.expandReportsDir(); err != nil {
		return nil, fmt.Errorf("invalid reports dir: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
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

	// "console" is what the older deployments called the pretty format.
	if c.Logger.Format == "console" {
		c.Logger.Format = "pretty"
	}
	if c.Logger.Format != "" && c.Logger.Format != "json" && c.Logger.Format != "pretty" {
		return fmt.Errorf("invalid log format: %s (must be json or pretty)", c.Logger.Format)
	}

	if !strings.HasPrefix(c.Source.BaseURL, "http://") && !strings.HasPrefix(c.Source.BaseURL, "https://") {
		return fmt.Errorf("invalid base url: %s (must start with http:// or https://)", c.Source.BaseURL)
	}

	if c.Fetch.RateLimitPerSecond < 0.1 || c.Fetch.RateLimitPerSecond > 10.0 {
		return fmt.Errorf("rate limit %.2f out of range (must be between 0.1 and 10.0 requests per second)", c.Fetch.RateLimitPerSecond)
	}
	if c.Fetch.RequestTimeout < 5*time.Second || c.Fetch.RequestTimeout > 300*time.Second {
		return fmt.Errorf("request timeout %s out of range (must be between 5s and 300s)", c.Fetch.RequestTimeout)
	}
	if c.Fetch.RetryAttempts < 0 || c.Fetch.RetryAttempts > 10 {
		return fmt.Errorf("retry attempts %d out of range (must be between 0 and 10)", c.Fetch.RetryAttempts)
	}
	if c.Fetch.MaxConcurrentRequests < 1 || c.Fetch.MaxConcurrentRequests > 50 {
		return fmt.Errorf("max concurrent requests %d out of range (must be between 1 and 50)", c.Fetch.MaxConcurrentRequests)
	}

	if c.Store.DataDir == "" {
		return errors.New("data dir cannot be empty after expansion")
	}

	if c.Crawl.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint interval %d out of range (must be at least 1 page)", c.Crawl.CheckpointInterval)
	}

	if c.Detection.MaxConcurrentBooks < 1 {
		return fmt.Errorf("max concurrent books %d out of range (must be at least 1)", c.Detection.MaxConcurrentBooks)
	}
	if c.Detection.BatchSize < 1 {
		return fmt.Errorf("batch size %d out of range (must be at least 1)", c.Detection.BatchSize)
	}
	if c.Detection.ExpectedCatalogSize < 0 {
		return fmt.Errorf("expected catalog size %d cannot be negative", c.Detection.ExpectedCatalogSize)
	}

	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("schedule hour %d out of range (must be between 0 and 23)", c.Schedule.Hour)
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		return fmt.Errorf("schedule minute %d out of range (must be between 0 and 59)", c.Schedule.Minute)
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Schedule.Timezone, err)
	}
	c.Schedule.location = loc

	if c.Report.Format != "json" && c.Report.Format != "csv" {
		return fmt.Errorf("invalid report format: %s (must be json or csv)", c.Report.Format)
	}
	if c.Report.RetentionDays < 1 {
		return fmt.Errorf("report retention %d out of range (must be at least 1 day)", c.Report.RetentionDays)
	}

	minSeverity := domain.ChangeSeverity(strings.ToLower(c.Alert.MinSeverity))
	if minSeverity.Rank() == 0 {
		return fmt.Errorf("invalid alert min severity: %s (must be low, medium, high, or critical)", c.Alert.MinSeverity)
	}
	c.Alert.MinSeverity = string(minSeverity)

	if c.Server.RateLimitPerHour < 1 {
		return fmt.Errorf("api rate limit %d out of range (must be at least 1 request per hour)", c.Server.RateLimitPerHour)
	}

	return nil
}

// MinAlertSeverity returns the typed alert severity floor. Validate must have run first.
func (c *Config) MinAlertSeverity() domain.ChangeSeverity {
	return domain.ChangeSeverity(c.Alert.MinSeverity)
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

// expandDataDir expands ~ and makes the path absolute.
// Defaults to {home}/bookwatch when unset.
func (c *Config) expandDataDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "bookwatch")

	expanded, err := expandPath(c.Store.DataDir, defaultPath)
	if err != nil {
		return err
	}
	c.Store.DataDir = expanded
	return nil
}

// expandStateFile makes the crawl state file path absolute.
func (c *Config) expandStateFile() error {
	expanded, err := expandPath(c.Crawl.StateFile, "")
	if err != nil {
		return err
	}
	c.Crawl.StateFile = expanded
	return nil
}

// expandReportsDir makes the reports directory absolute.
func (c *Config) expandReportsDir() error {
	expanded, err := expandPath(c.Report.Dir, "")
	if err != nil {
		return err
	}
	c.Report.Dir = expanded
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
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// parseDuration parses a duration string, also accepting bare seconds
// ("30" means 30s) since the older deployments configured timeouts that way.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// splitList splits a comma-separated env value into trimmed entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	vars, err := readEnvFile(path)
	if err != nil {
		return err
	}

	for key, value := range vars {
		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return nil
}

// readEnvFile parses a .env file into key/value pairs without touching
// the process environment. The config watcher uses it to pick up edits.
func readEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return nil, err
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		vars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}
