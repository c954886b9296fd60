package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ConfigPath string
	LogLevel   string
	ListenAddr string
	DevTools   DevToolsEnvConfig
	Removal    RemovalEnvConfig
	Audit      AuditEnvConfig
	OTel       OTelEnvConfig
	SMTP       SMTPEnvConfig
}

type DevToolsEnvConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

type RemovalEnvConfig struct {
	Concurrency int
	Retries     int
	// Breaker enables the circuit breaker in front of the deletion API.
	Breaker bool
}

type AuditEnvConfig struct {
	Driver string // "sqlite", "badger" or empty
	DSN    string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

type SMTPEnvConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	auditDriver := strings.ToLower(envString("CULLER_AUDIT_DRIVER", ""))

	return EnvConfig{
		ConfigPath: envString("CULLER_CONFIG", "culler.yaml"),
		LogLevel:   strings.ToLower(envString("CULLER_LOG_LEVEL", "info")),
		ListenAddr: envString("CULLER_LISTEN_ADDR", ":8080"),
		DevTools: DevToolsEnvConfig{
			BaseURL:     envString("CULLER_DEVTOOLS_URL", "http://127.0.0.1:9222"),
			HTTPTimeout: envDuration("CULLER_HTTP_TIMEOUT", 5*time.Second),
		},
		Removal: RemovalEnvConfig{
			Concurrency: envInt("CULLER_REMOVAL_CONCURRENCY", 4),
			Retries:     envInt("CULLER_REMOVAL_RETRIES", 3),
			Breaker:     envBool("CULLER_REMOVAL_BREAKER", true),
		},
		Audit: AuditEnvConfig{
			Driver: auditDriver,
			DSN:    envString("CULLER_AUDIT_DSN", defaultAuditDSN(auditDriver)),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "culler")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
		SMTP: SMTPEnvConfig{
			Host:               envString("SMTP_HOST", ""),
			Port:               envInt("SMTP_PORT", 587),
			User:               envString("SMTP_USER", ""),
			Password:           envString("SMTP_PASSWORD", ""),
			TLSMode:            envString("SMTP_TLS_MODE", ""),
			InsecureSkipVerify: envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
	}
}

func defaultAuditDSN(driver string) string {
	switch driver {
	case "sqlite":
		return "data/culler.db"
	case "badger":
		return "data/badger"
	default:
		return ""
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
