package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	BackendBaseURL   string
	PollInterval     time.Duration
	HeartbeatGrace   time.Duration
	StreamRetries    int
	AckWait          time.Duration
	CloseDelay       time.Duration
	LivenessInterval time.Duration
	MetricsPort      int
	LogLevel         string
}

func Load() *Config {
	cfg := &Config{
		BackendBaseURL:   strings.TrimSpace(getEnv("GATE_BACKEND_URL", "")),
		PollInterval:     getEnvDuration("GATE_POLL_INTERVAL", time.Second),
		HeartbeatGrace:   getEnvDuration("GATE_HEARTBEAT_GRACE", 15*time.Second),
		StreamRetries:    getEnvInt("GATE_STREAM_RETRIES", 3),
		AckWait:          getEnvDuration("GATE_ACK_WAIT", 3*time.Second),
		CloseDelay:       getEnvDuration("GATE_CLOSE_DELAY", 1500*time.Millisecond),
		LivenessInterval: getEnvDuration("GATE_LIVENESS_INTERVAL", 500*time.Millisecond),
		MetricsPort:      getEnvInt("GATE_METRICS_PORT", 8080),
		LogLevel:         strings.TrimSpace(getEnv("GATE_LOG_LEVEL", "info")),
	}
	if cfg.BackendBaseURL == "" {
		log.Warn().Msg("backend base URL not set; set GATE_BACKEND_URL")
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"backendConfigured": c.BackendBaseURL != "",
		"pollInterval":      c.PollInterval.String(),
		"heartbeatGrace":    c.HeartbeatGrace.String(),
		"streamRetries":     c.StreamRetries,
		"ackWait":           c.AckWait.String(),
		"closeDelay":        c.CloseDelay.String(),
		"livenessInterval":  c.LivenessInterval.String(),
		"metricsPort":       c.MetricsPort,
		"logLevel":          c.LogLevel,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid int in environment, using default")
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment, using default")
	}
	return def
}
