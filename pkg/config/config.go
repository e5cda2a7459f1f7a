package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/trailcap/trailcap/pkg/audit"
)

// Server configures the relay's own HTTP endpoint (metrics, health).
type Server struct {
	ListenAddress string `yaml:"listenAddress"`
}

// Logging configures the process logger.
type Logging struct {
	// Level is one of "debug", "info", "warn", "error". Default: "info".
	Level string `yaml:"level"`
	// Encoding is "json" or "console". Default: "json".
	Encoding string `yaml:"encoding"`
}

// Capture configures the diff/capture engine: field policy, identity
// keys and update payload mode.
type Capture struct {
	// AllowedFields maps an entity name to the only fields that may
	// appear in captured payloads for that entity.
	AllowedFields map[string][]string `yaml:"allowedFields"`

	// DeniedFields are stripped from every captured payload.
	DeniedFields []string `yaml:"deniedFields"`

	// Keys maps an entity name to the field(s) identifying an instance.
	Keys map[string][]string `yaml:"keys"`

	// UpdateValuesMode is "full" or "changed" (default).
	UpdateValuesMode string `yaml:"updateValuesMode"`
}

// Delivery configures the queue and batch scheduler. Intervals are
// duration strings (e.g. "5s", "1m").
type Delivery struct {
	BatchSize     int    `yaml:"batchSize"`
	FlushInterval string `yaml:"flushInterval"`
	MaxQueueSize  int    `yaml:"maxQueueSize"`
	Strict        bool   `yaml:"strict"`
	WaitForWrite  bool   `yaml:"waitForWrite"`
}

// Webhook configures the webhook sink.
type Webhook struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

// KafkaTLS configures TLS for the Kafka sink. Certificate material is
// referenced by file path, never inlined.
type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CACertFile         string `yaml:"caCertFile"`
	ClientCertFile     string `yaml:"clientCertFile"`
	ClientKeyFile      string `yaml:"clientKeyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// KafkaSASL configures SASL authentication for the Kafka sink.
type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Kafka configures the Kafka sink.
type Kafka struct {
	Brokers          []string   `yaml:"brokers"`
	Topic            string     `yaml:"topic"`
	TLS              *KafkaTLS  `yaml:"tls"`
	SASL             *KafkaSASL `yaml:"sasl"`
	WriteTimeout     string     `yaml:"writeTimeout"`
	RequiredAcks     int        `yaml:"requiredAcks"`
	CompressionCodec string     `yaml:"compressionCodec"`
}

// Postgres configures the Postgres sink. The DSN usually comes from
// the environment rather than the file; DSNEnv names the variable.
type Postgres struct {
	DSN          string `yaml:"dsn"`
	DSNEnv       string `yaml:"dsnEnv"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// Sink selects and configures the delivery destination.
type Sink struct {
	// Type is one of "log", "webhook", "kafka", "postgres".
	Type     string    `yaml:"type"`
	Webhook  *Webhook  `yaml:"webhook"`
	Kafka    *Kafka    `yaml:"kafka"`
	Postgres *Postgres `yaml:"postgres"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Capture  Capture  `yaml:"capture"`
	Delivery Delivery `yaml:"delivery"`
	Sink     Sink     `yaml:"sink"`
}

// Load loads the relay configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	var path string

	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else {
		path = "./config.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open trailcap config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	return config, nil
}

// CaptureConfig translates the file representation into the capture
// engine's configuration.
func (c Capture) CaptureConfig() audit.CaptureConfig {
	cfg := audit.CaptureConfig{
		AllowedFields:    c.AllowedFields,
		DeniedFields:     c.DeniedFields,
		UpdateValuesMode: audit.UpdateValuesMode(c.UpdateValuesMode),
	}
	if len(c.Keys) > 0 {
		cfg.Keys = make(map[string]audit.KeySpec, len(c.Keys))
		for entity, fields := range c.Keys {
			cfg.Keys[entity] = audit.KeySpec{Fields: fields}
		}
	}
	return cfg
}

// DeliveryConfig translates the file representation into the queue's
// configuration, applying defaults for omitted values.
func (d Delivery) DeliveryConfig() (audit.DeliveryConfig, error) {
	cfg := audit.DeliveryConfig{
		BatchSize:    d.BatchSize,
		MaxQueueSize: d.MaxQueueSize,
		Strict:       d.Strict,
		WaitForWrite: d.WaitForWrite,
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	interval, err := parseDuration(d.FlushInterval, 5*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid flushInterval: %w", err)
	}
	cfg.FlushInterval = interval
	return cfg, nil
}

// TimeoutDuration parses the webhook timeout, defaulting to 5s.
func (w Webhook) TimeoutDuration() (time.Duration, error) {
	d, err := parseDuration(w.Timeout, 5*time.Second)
	if err != nil {
		return 0, fmt.Errorf("invalid webhook timeout: %w", err)
	}
	return d, nil
}

// WriteTimeoutDuration parses the Kafka write timeout, defaulting
// to 10s.
func (k Kafka) WriteTimeoutDuration() (time.Duration, error) {
	d, err := parseDuration(k.WriteTimeout, 10*time.Second)
	if err != nil {
		return 0, fmt.Errorf("invalid kafka writeTimeout: %w", err)
	}
	return d, nil
}

// ResolveDSN returns the connection string, preferring the environment
// variable named by DSNEnv over the inline value.
func (p Postgres) ResolveDSN() string {
	if p.DSNEnv != "" {
		if v := os.Getenv(p.DSNEnv); v != "" {
			return v
		}
	}
	return p.DSN
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
