package config

import (
	"time"
)

type Config struct {
	Backends    BackendsConfig    `mapstructure:"backends"`
	LocalStore  LocalStoreConfig  `mapstructure:"local_store"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type BackendsConfig struct {
	Primary BackendConnection `mapstructure:"primary"`
	Cloud   BackendConnection `mapstructure:"cloud"`
}

type BackendConnection struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
	// Local marks the connection as a LAN/local instance rather than the
	// public cloud instance. Drives the mode detector.
	Local bool `mapstructure:"local"`
}

type LocalStoreConfig struct {
	Path      string `mapstructure:"path"`
	BackupDir string `mapstructure:"backup_dir"`
}

type CacheConfig struct {
	Type          string `mapstructure:"type"` // memory or redis
	TTL           string `mapstructure:"ttl"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

func (c CacheConfig) GetTTL() time.Duration {
	return durationOr(c.TTL, 5*time.Minute)
}

type OutboxConfig struct {
	Table       string `mapstructure:"table"`
	Interval    string `mapstructure:"interval"`
	SettleDelay string `mapstructure:"settle_delay"`
	PurgeAfter  string `mapstructure:"purge_after"`
}

func (c OutboxConfig) GetInterval() time.Duration {
	return durationOr(c.Interval, 30*time.Second)
}

func (c OutboxConfig) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, 2*time.Second)
}

func (c OutboxConfig) GetPurgeAfter() time.Duration {
	return durationOr(c.PurgeAfter, 168*time.Hour)
}

type ReplicationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     string        `mapstructure:"interval"`
	ProbeTimeout string        `mapstructure:"probe_timeout"`
	Tables       []TableConfig `mapstructure:"tables"`
}

func (c ReplicationConfig) GetInterval() time.Duration {
	return durationOr(c.Interval, 5*time.Minute)
}

func (c ReplicationConfig) GetProbeTimeout() time.Duration {
	return durationOr(c.ProbeTimeout, 5*time.Second)
}

// TableConfig describes one mirrored table. Order in the config file is the
// replication order, so foreign-key parents must come before dependents.
type TableConfig struct {
	Name            string `mapstructure:"name"`
	PrimaryKey      string `mapstructure:"primary_key"`
	TimestampColumn string `mapstructure:"timestamp_column"`
}

type RealtimeConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Tables        []string `mapstructure:"tables"`
	FlushInterval string   `mapstructure:"flush_interval"`
	ServerID      uint32   `mapstructure:"server_id"`
}

func (c RealtimeConfig) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, 500*time.Millisecond)
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(s.ReadTimeout, 15*time.Second)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(s.WriteTimeout, 30*time.Second)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
