package attacklog

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the durable side of the pipeline. A store keeps a bounded
// history of records so attacks survive process restarts and power loss.
// Backends trade durability for footprint: the slot file backend targets
// small flash-backed devices, sqlite and redis suit gateways with more
// headroom.
type Store interface {
	// Append persists one record, displacing the oldest persisted
	// record if the backend is at capacity.
	Append(rec Record) error
	// Load returns up to max persisted records ordered oldest first,
	// suitable for replaying into the ring at startup.
	Load(max int) ([]Record, error)
	// Clear discards all persisted records.
	Clear() error
	// Close releases backend resources.
	Close() error
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Type   string            `toml:"type" json:"type"`
	File   FileStoreConfig   `toml:"file" json:"file"`
	SQLite SQLiteStoreConfig `toml:"sqlite" json:"sqlite"`
	Redis  RedisStoreConfig  `toml:"redis" json:"redis"`
}

// FileStoreConfig configures the fixed-slot flash file backend.
type FileStoreConfig struct {
	Path  string `toml:"path" json:"path"`
	Slots int    `toml:"slots" json:"slots"`
	Sync  bool   `toml:"sync" json:"sync"`
}

// SQLiteStoreConfig configures the embedded database backend.
type SQLiteStoreConfig struct {
	Path       string `toml:"path" json:"path"`
	MaxRecords int    `toml:"maxRecords" json:"maxRecords"`
}

// RedisStoreConfig configures the redis list backend.
type RedisStoreConfig struct {
	Addr         string        `toml:"addr" json:"addr"`
	Password     string        `toml:"password" json:"password"`
	DB           int           `toml:"db" json:"db"`
	KeyPrefix    string        `toml:"keyPrefix" json:"keyPrefix"`
	MaxRecords   int           `toml:"maxRecords" json:"maxRecords"`
	DialTimeout  time.Duration `toml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  time.Duration `toml:"readTimeout" json:"readTimeout"`
	WriteTimeout time.Duration `toml:"writeTimeout" json:"writeTimeout"`
}

// DefaultStoreConfig returns the persistence defaults: the slot file
// backend sized for a small device.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "file",
		File: FileStoreConfig{
			Path:  "honeypot_attacks.log",
			Slots: 256,
			Sync:  true,
		},
		SQLite: SQLiteStoreConfig{
			Path:       "honeypot_attacks.db",
			MaxRecords: 1000,
		},
		Redis: RedisStoreConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "honeypot",
			MaxRecords:   1000,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

// NewStore builds the configured persistence backend. The type "none"
// disables persistence; callers then run the pipeline memory-only.
func NewStore(config StoreConfig, logger *logrus.Logger) (Store, error) {
	switch config.Type {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileStore(config.File, logger)
	case "sqlite":
		return NewSQLiteStore(config.SQLite, logger)
	case "redis":
		return NewRedisStore(config.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
