// Package database manages the connection pool behind the SQL experiment
// store: pool sizing, a background health probe, and transaction retry for
// transient failures.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hypatia-sci/hypatia/config"
)

// Pool wraps a gorm handle with pool sizing and liveness checks.
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger

	healthInterval time.Duration
	stop           chan struct{}

	mu     sync.Mutex
	closed bool
}

// Option tweaks pool behavior beyond what DatabaseConfig carries.
type Option func(*Pool)

// WithHealthInterval sets how often the background probe pings the database.
// Zero disables the probe.
func WithHealthInterval(d time.Duration) Option {
	return func(p *Pool) { p.healthInterval = d }
}

// NewPool applies the configured sizing to db's connection pool and starts
// the health probe.
func NewPool(db *gorm.DB, cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if db == nil {
		return nil, errors.New("database: nil gorm handle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p := &Pool{
		db:             db,
		sqlDB:          sqlDB,
		logger:         logger.With(zap.String("component", "db_pool")),
		healthInterval: 30 * time.Second,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.healthInterval > 0 {
		go p.healthLoop()
	}

	p.logger.Info("database pool configured",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return p, nil
}

// DB returns the managed gorm handle.
func (p *Pool) DB() *gorm.DB {
	return p.db
}

// Ping verifies the database is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("database: pool is closed")
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats reports the driver's pool counters.
func (p *Pool) Stats() sql.DBStats {
	return p.sqlDB.Stats()
}

// Close stops the health probe and closes the underlying connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	p.logger.Info("closing database pool")
	return p.sqlDB.Close()
}

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.Ping(ctx)
			cancel()
			if err != nil {
				p.logger.Error("database health check failed", zap.Error(err))
				continue
			}
			stats := p.Stats()
			p.logger.Debug("database health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle),
			)
		}
	}
}

// Transact runs fn inside a transaction, retrying up to maxRetries times
// when the failure looks transient (deadlock, serialization failure, dropped
// connection). Backoff doubles per attempt starting at 100ms.
func (p *Pool) Transact(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := p.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		p.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// isTransient matches the error classes worth a retry. SQLSTATE 40001 is
// postgres' serialization failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"serialization failure",
		"40001",
		"connection reset",
		"connection refused",
		"broken pipe",
		"lock wait timeout",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
