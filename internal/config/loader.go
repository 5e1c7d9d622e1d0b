package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML config file at path and applies defaults for
// anything left unset.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("local_store.path", "pos-sync.db")
	v.SetDefault("local_store.backup_dir", "backups")
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.key_prefix", "possync")
	v.SetDefault("outbox.table", "pos_transactions")
	v.SetDefault("outbox.interval", "30s")
	v.SetDefault("outbox.settle_delay", "2s")
	v.SetDefault("outbox.purge_after", "168h")
	v.SetDefault("replication.enabled", true)
	v.SetDefault("replication.interval", "5m")
	v.SetDefault("replication.probe_timeout", "5s")
	v.SetDefault("realtime.flush_interval", "500ms")
	v.SetDefault("realtime.server_id", 100)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Replication.Tables) == 0 {
		return nil, fmt.Errorf("replication.tables must list at least one table")
	}

	return &cfg, nil
}
