package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hostmetrics-agent/internal/model"
)

const (
	DefaultPath = "config/config.yaml"

	SourceHost    = "host"
	SourceLibvirt = "libvirt"

	AlertModeLevel = "level"
	AlertModeEdge  = "edge"
)

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Storage    StorageConfig    `yaml:"storage"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Logging    LoggingConfig    `yaml:"logging"`
	Display    DisplayConfig    `yaml:"display"`
	Status     StatusConfig     `yaml:"status"`
	Outputs    OutputsConfig    `yaml:"outputs"`
}

type AgentConfig struct {
	Hostname           string  `yaml:"hostname"`
	CollectionInterval float64 `yaml:"collection_interval"`
	MultiRate          bool    `yaml:"multi_rate"`
	ShutdownTimeout    float64 `yaml:"shutdown_timeout"`
	ErrorBackoff       float64 `yaml:"error_backoff"`
}

type CollectorsConfig struct {
	Source            string  `yaml:"source"`
	LibvirtURI        string  `yaml:"libvirt_uri"`
	ReconnectInterval float64 `yaml:"reconnect_interval"`
	HealthInterval    float64 `yaml:"health_interval"`

	// Items holds the per-collector sections (cpu, memory, ...).
	Items map[string]CollectorConfig `yaml:",inline"`
}

type CollectorConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Interval float64 `yaml:"interval"`
	PerCore  bool    `yaml:"per_core"`
}

type StorageConfig struct {
	Type       string `yaml:"type"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size"`
}

type AlertsConfig struct {
	Enabled bool              `yaml:"enabled"`
	Mode    string            `yaml:"mode"`
	Rules   []model.AlertRule `yaml:"rules"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	BackupCount int    `yaml:"backup_count"`
}

type DisplayConfig struct {
	Enabled *bool `yaml:"enabled"`
	Cores   int   `yaml:"cores"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type OutputsConfig struct {
	GRPC  GRPCOutput  `yaml:"grpc"`
	Kafka KafkaOutput `yaml:"kafka"`
	Redis RedisOutput `yaml:"redis"`
}

type GRPCOutput struct {
	Enabled      bool      `yaml:"enabled"`
	Addr         string    `yaml:"addr"`
	Token        string    `yaml:"token"`
	RecordMethod string    `yaml:"record_method"`
	AlertMethod  string    `yaml:"alert_method"`
	DialTimeout  float64   `yaml:"dial_timeout"`
	TLS          TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SkipVerify bool   `yaml:"skip_verify"`
	CAPath     string `yaml:"ca_path"`
	CertPath   string `yaml:"cert_path"`
	KeyPath    string `yaml:"key_path"`
}

type KafkaOutput struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	AlertTopic   string   `yaml:"alert_topic"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout float64  `yaml:"batch_timeout"`
}

type RedisOutput struct {
	Enabled   bool    `yaml:"enabled"`
	Addr      string  `yaml:"addr"`
	Password  string  `yaml:"password"`
	DB        int     `yaml:"db"`
	KeyPrefix string  `yaml:"key_prefix"`
	TTL       float64 `yaml:"ttl"`
}

var requiredSections = []string{"agent", "collectors", "storage", "alerts", "logging"}

var requiredKeys = [][2]string{
	{"agent", "hostname"},
	{"agent", "collection_interval"},
	{"collectors", "cpu"},
	{"collectors", "memory"},
	{"alerts", "enabled"},
	{"alerts", "rules"},
	{"logging", "level"},
}

// Load reads the YAML file at path, applies .env and HOSTMON_* overrides,
// fills defaults and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes raw YAML after checking required sections and keys.
// Defaults and env overrides are not applied.
func Parse(raw []byte) (Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := checkRequired(tree); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func checkRequired(tree map[string]any) error {
	for _, section := range requiredSections {
		if _, ok := tree[section]; !ok {
			return fmt.Errorf("missing required config section: %s", section)
		}
	}
	for _, key := range requiredKeys {
		section, ok := tree[key[0]].(map[string]any)
		if !ok {
			return fmt.Errorf("config section %s must be a mapping", key[0])
		}
		if _, ok := section[key[1]]; !ok {
			return fmt.Errorf("missing required config key: %s.%s", key[0], key[1])
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Agent.Hostname = env("HOSTMON_HOSTNAME", c.Agent.Hostname)
	if d := envDuration("HOSTMON_COLLECTION_INTERVAL", 0); d > 0 {
		c.Agent.CollectionInterval = d.Seconds()
	}
	c.Logging.Level = env("HOSTMON_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = env("HOSTMON_LOG_FORMAT", c.Logging.Format)
	c.Storage.Path = env("HOSTMON_STORAGE_PATH", c.Storage.Path)
	c.Storage.BufferSize = envInt("HOSTMON_BUFFER_SIZE", c.Storage.BufferSize)
	c.Status.Enabled = envBool("HOSTMON_STATUS_ENABLED", c.Status.Enabled)
	c.Status.Listen = env("HOSTMON_STATUS_LISTEN", c.Status.Listen)
	c.Outputs.GRPC.Token = env("HOSTMON_GRPC_TOKEN", c.Outputs.GRPC.Token)
	c.Outputs.Redis.Password = env("HOSTMON_REDIS_PASSWORD", c.Outputs.Redis.Password)
}

func (c *Config) applyDefaults() {
	c.Agent.Hostname = ResolveHostname(c.Agent.Hostname)
	if c.Agent.ShutdownTimeout == 0 {
		c.Agent.ShutdownTimeout = 20
	}
	if c.Agent.ErrorBackoff == 0 {
		c.Agent.ErrorBackoff = 1.5
	}

	if c.Collectors.Source == "" {
		c.Collectors.Source = SourceHost
	}
	c.Collectors.Source = strings.ToLower(c.Collectors.Source)
	if c.Collectors.LibvirtURI == "" {
		c.Collectors.LibvirtURI = "qemu:///system"
	}
	if c.Collectors.ReconnectInterval == 0 {
		c.Collectors.ReconnectInterval = 4
	}
	if c.Collectors.HealthInterval == 0 {
		c.Collectors.HealthInterval = 10
	}
	for name, item := range c.Collectors.Items {
		if item.Interval == 0 {
			item.Interval = c.Agent.CollectionInterval
		}
		c.Collectors.Items[name] = item
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 100
	}

	if c.Alerts.Mode == "" {
		c.Alerts.Mode = AlertModeLevel
	}
	c.Alerts.Mode = strings.ToLower(c.Alerts.Mode)
	for i := range c.Alerts.Rules {
		r := &c.Alerts.Rules[i]
		if r.Condition == "" {
			r.Condition = model.ConditionGTE
		}
		if r.Name == "" {
			r.Name = "Alert on " + r.Metric
		}
		if r.Severity == "" {
			r.Severity = model.SeverityWarning
		}
		r.Severity = model.Severity(strings.ToLower(string(r.Severity)))
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.BackupCount == 0 {
		c.Logging.BackupCount = 5
	}

	if c.Display.Cores == 0 {
		c.Display.Cores = 8
	}
	if c.Status.Listen == "" {
		c.Status.Listen = "127.0.0.1:9100"
	}

	g := &c.Outputs.GRPC
	if g.RecordMethod == "" {
		g.RecordMethod = "/hostmetrics.v1.MetricsService/StreamRecords"
	}
	if g.AlertMethod == "" {
		g.AlertMethod = "/hostmetrics.v1.MetricsService/StreamAlerts"
	}
	if g.DialTimeout == 0 {
		g.DialTimeout = 8
	}
	k := &c.Outputs.Kafka
	if k.Topic == "" {
		k.Topic = "hostmetrics.records"
	}
	if k.AlertTopic == "" {
		k.AlertTopic = "hostmetrics.alerts"
	}
	if k.BatchSize == 0 {
		k.BatchSize = 100
	}
	if k.BatchTimeout == 0 {
		k.BatchTimeout = 1
	}
	r := &c.Outputs.Redis
	if r.KeyPrefix == "" {
		r.KeyPrefix = "hostmetrics:"
	}
	if r.TTL == 0 {
		r.TTL = 300
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Agent.Hostname) == "" {
		return errors.New("agent.hostname must not be empty")
	}
	if c.Agent.CollectionInterval <= 0 {
		return errors.New("agent.collection_interval must be > 0")
	}
	if c.Agent.ShutdownTimeout <= 0 {
		return errors.New("agent.shutdown_timeout must be > 0")
	}
	if c.Agent.ErrorBackoff < 0 {
		return errors.New("agent.error_backoff must be >= 0")
	}

	switch c.Collectors.Source {
	case SourceHost:
	case SourceLibvirt:
		if strings.TrimSpace(c.Collectors.LibvirtURI) == "" {
			return errors.New("collectors.libvirt_uri is required for libvirt source")
		}
	default:
		return fmt.Errorf("unsupported collectors.source %q", c.Collectors.Source)
	}
	for name, item := range c.Collectors.Items {
		if item.Enabled && item.Interval <= 0 {
			return fmt.Errorf("collectors.%s.interval must be > 0", name)
		}
	}

	if c.Storage.Type != "file" {
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path must not be empty")
	}
	if c.Storage.BufferSize < 1 {
		return errors.New("storage.buffer_size must be >= 1")
	}

	switch c.Alerts.Mode {
	case AlertModeLevel, AlertModeEdge:
	default:
		return fmt.Errorf("unsupported alerts.mode %q", c.Alerts.Mode)
	}
	seen := make(map[string]struct{}, len(c.Alerts.Rules))
	for i, r := range c.Alerts.Rules {
		if strings.TrimSpace(r.Metric) == "" {
			return fmt.Errorf("alerts.rules[%d].metric is required", i)
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("alerts.rules[%d] (%s): unsupported severity %q", i, r.Name, r.Severity)
		}
		if r.Duration < 0 {
			return fmt.Errorf("alerts.rules[%d] (%s): duration must be >= 0", i, r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate alert rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}

	switch c.Logging.Level {
	case "debug", "info", "warning", "warn", "error", "critical":
	default:
		return fmt.Errorf("unsupported logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}

	if c.Status.Enabled && strings.TrimSpace(c.Status.Listen) == "" {
		return errors.New("status.listen is required when status is enabled")
	}
	if c.Outputs.GRPC.Enabled && strings.TrimSpace(c.Outputs.GRPC.Addr) == "" {
		return errors.New("outputs.grpc.addr is required when grpc output is enabled")
	}
	if c.Outputs.Kafka.Enabled && len(c.Outputs.Kafka.Brokers) == 0 {
		return errors.New("outputs.kafka.brokers is required when kafka output is enabled")
	}
	if c.Outputs.Redis.Enabled && strings.TrimSpace(c.Outputs.Redis.Addr) == "" {
		return errors.New("outputs.redis.addr is required when redis output is enabled")
	}
	return nil
}

// ResolveHostname maps "" and "auto" to the OS hostname.
func ResolveHostname(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.EqualFold(v, "auto") {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown-host"
	}
	return hostname
}

func (c Config) CollectionInterval() time.Duration {
	return Seconds(c.Agent.CollectionInterval)
}

func (c Config) ShutdownTimeout() time.Duration {
	return Seconds(c.Agent.ShutdownTimeout)
}

func (c Config) ErrorBackoff() time.Duration {
	return Seconds(c.Agent.ErrorBackoff)
}

func (c Config) DisplayEnabled() bool {
	return c.Display.Enabled == nil || *c.Display.Enabled
}

// Seconds converts a fractional seconds value from the file into a Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (t TLSConfig) Build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: t.SkipVerify}
	if t.CAPath != "" {
		caBytes, err := os.ReadFile(t.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if t.CertPath != "" || t.KeyPath != "" {
		if t.CertPath == "" || t.KeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}
