// YAML config loader with CUE validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rescueops-hub/internal/fleet"
)

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Server configures the HTTP and websocket listener.
type Server struct {
	ListenAddr         string        `yaml:"listen_addr"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ReadLimitBytes     int64         `yaml:"read_limit_bytes"`
	SendBuffer         int           `yaml:"send_buffer"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	InboundRate        float64       `yaml:"inbound_rate"`
	InboundBurst       int           `yaml:"inbound_burst"`
}

// Hub holds event routing options.
type Hub struct {
	DefaultSession string `yaml:"default_session"`
}

// GreptimeDB enables the time-series sink when Endpoint is set.
type GreptimeDB struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Kafka enables the event stream sink when Brokers is non-empty.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Writeback sizes the asynchronous persistence queue.
type Writeback struct {
	Workers int           `yaml:"workers"`
	Depth   int           `yaml:"depth"`
	Timeout time.Duration `yaml:"timeout"`
}

// Storage lists the durable backends. SQLite is the only one read back at
// startup.
type Storage struct {
	SQLitePath string     `yaml:"sqlite_path"`
	ExportDir  string     `yaml:"export_dir"`
	Stdout     bool       `yaml:"stdout"`
	GreptimeDB GreptimeDB `yaml:"greptimedb"`
	Kafka      Kafka      `yaml:"kafka"`
	Writeback  Writeback  `yaml:"writeback"`
}

// Sessions configures shared session id claims.
type Sessions struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	ClaimTTL      time.Duration `yaml:"claim_ttl"`
}

// Correlation configures mission pairing.
type Correlation struct {
	Strategy      string        `yaml:"strategy"`
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TrendSize     int           `yaml:"trend_size"`
}

// Config is the root hub configuration.
type Config struct {
	Log         Log          `yaml:"log"`
	Server      Server       `yaml:"server"`
	Hub         Hub          `yaml:"hub"`
	Storage     Storage      `yaml:"storage"`
	Sessions    Sessions     `yaml:"sessions"`
	Correlation Correlation  `yaml:"correlation"`
	Docks       []fleet.Dock `yaml:"docks"`
}

// DefaultDocks are the charging docks of the reference deployment.
var DefaultDocks = []fleet.Dock{
	{ID: "Dock-Civil", Lat: 29.8650, Lng: 77.8950},
	{ID: "Dock-IIT", Lat: 29.8600, Lng: 77.8800},
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 600
	}
	if c.Server.ReadLimitBytes == 0 {
		c.Server.ReadLimitBytes = 64 << 10
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 256
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Second
	}
	if c.Server.InboundRate == 0 {
		c.Server.InboundRate = 200
	}
	if c.Server.InboundBurst == 0 {
		c.Server.InboundBurst = 400
	}
	if c.Hub.DefaultSession == "" {
		c.Hub.DefaultSession = "unscoped"
	}
	if c.Storage.GreptimeDB.Database == "" {
		c.Storage.GreptimeDB.Database = "public"
	}
	if c.Storage.Kafka.Topic == "" {
		c.Storage.Kafka.Topic = "rescueops.audit"
	}
	if c.Storage.Writeback.Workers == 0 {
		c.Storage.Writeback.Workers = 4
	}
	if c.Storage.Writeback.Depth == 0 {
		c.Storage.Writeback.Depth = 1024
	}
	if c.Storage.Writeback.Timeout == 0 {
		c.Storage.Writeback.Timeout = 5 * time.Second
	}
	if c.Sessions.ClaimTTL == 0 {
		c.Sessions.ClaimTTL = 7 * 24 * time.Hour
	}
	if c.Correlation.Strategy == "" {
		c.Correlation.Strategy = "auto"
	}
	if c.Correlation.PendingTTL == 0 {
		c.Correlation.PendingTTL = time.Hour
	}
	if c.Correlation.SweepInterval == 0 {
		c.Correlation.SweepInterval = time.Minute
	}
	if c.Correlation.TrendSize == 0 {
		c.Correlation.TrendSize = 10
	}
	if c.Docks == nil {
		c.Docks = append([]fleet.Dock(nil), DefaultDocks...)
	}
}

// applyEnv lets deployment environments override the file.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Storage.GreptimeDB.Endpoint = v
	}
	if v := getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Storage.GreptimeDB.Database = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Storage.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Storage.Kafka.Topic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Sessions.RedisAddr = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the YAML file at configPath, validates it against the CUE
// schema (the embedded one when schemaPath is empty), then applies defaults
// and environment overrides. An empty configPath yields the defaults.
func Load(configPath, schemaPath string) (*Config, error) {
	return load(configPath, schemaPath, os.Getenv)
}

func load(configPath, schemaPath string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		schema := defaultSchema
		if schemaPath != "" {
			if schema, err = os.ReadFile(schemaPath); err != nil {
				return nil, fmt.Errorf("read schema: %w", err)
			}
		}
		if err := Validate(configPath, data, schema); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv(getenv)
	return cfg, nil
}
