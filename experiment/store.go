package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store sentinel errors.
var (
	ErrNotFound     = errors.New("experiment not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence contract every backend satisfies. Writes are
// single-record and last-write-wins on the whole experiment: there are no
// field-level patches and no cross-record transactions. Callers must base
// every Put on the freshest Get, which is what the agents' write helpers do.
type Store interface {
	// Get returns a deep copy of the experiment, or ErrNotFound.
	Get(ctx context.Context, id string) (*Experiment, error)

	// Put validates and stores the full record, replacing any prior version.
	// UpdatedAt is stamped by the store.
	Put(ctx context.Context, exp *Experiment) error

	// Delete removes the record. Deleting an absent record is ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns all experiments ordered by creation time, newest first.
	List(ctx context.Context) ([]*Experiment, error)

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// StoreType selects a backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeMongo  StoreType = "mongo"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI        string        `json:"uri" yaml:"uri"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// SQLConfig configures the GORM backend.
type SQLConfig struct {
	Driver string `json:"driver" yaml:"driver"` // postgres, mysql, sqlite
	DSN    string `json:"dsn" yaml:"dsn"`
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type    StoreType   `json:"type" yaml:"type"`
	BaseDir string      `json:"base_dir" yaml:"base_dir"` // file backend
	SQL     SQLConfig   `json:"sql" yaml:"sql"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
	Mongo   MongoConfig `json:"mongo" yaml:"mongo"`
}

// DefaultStoreConfig keeps everything local: memory store, file fallback
// directory.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/experiments",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "hypatia:",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "hypatia",
			Collection: "experiments",
			Timeout:    5 * time.Second,
		},
	}
}

// NewStore builds the configured backend.
func NewStore(cfg StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(cfg.BaseDir, logger)
	case StoreTypeSQL:
		return NewGormStore(cfg.SQL, logger)
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	case StoreTypeMongo:
		return NewMongoStore(cfg.Mongo)
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", ErrInvalidInput, cfg.Type)
	}
}
