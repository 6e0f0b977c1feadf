package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the portfolio feed.
type Config struct {
	Port            int
	LogLevel        string
	PortfolioNum    int
	WebhookTimeout  time.Duration
	StatusTimeout   time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. If CONFIG_FILE names a YAML file, its keys (the
// variable names in lower case, e.g. portfolio_num) replace the defaults;
// environment variables still take precedence. It returns an error for
// any invalid value.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	port, err := src.getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := src.getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	portfolioNum, err := src.getInt("PORTFOLIO_NUM", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid PORTFOLIO_NUM: %w", err)
	}
	if portfolioNum < 1 || portfolioNum > 10 {
		return nil, fmt.Errorf("invalid PORTFOLIO_NUM: %d, must be between 1 and 10", portfolioNum)
	}

	webhookTimeout, err := src.getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	statusTimeout, err := src.getDuration("STATUS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STATUS_TIMEOUT: %w", err)
	}

	readTimeout, err := src.getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := src.getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := src.getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := src.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		PortfolioNum:    portfolioNum,
		WebhookTimeout:  webhookTimeout,
		StatusTimeout:   statusTimeout,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

// source resolves a key from the environment first, then the file.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: make(map[string]string)}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE: %w", err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		src.file[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return src, nil
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[strings.ToLower(key)]
}

func (s *source) getStr(key, defaultVal string) string {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func (s *source) getInt(key string, defaultVal int) (int, error) {
	v := s.lookup(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func (s *source) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := s.lookup(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
