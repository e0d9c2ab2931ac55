// Package migration manages the relational schema for the experiment store.
// Migration files are embedded per dialect so a deployed binary can bring a
// fresh database up to date without shipping SQL alongside it.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	_ "modernc.org/sqlite"             // pure-Go sqlite driver

	"github.com/hypatia-sci/hypatia/config"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// Dialect identifies the SQL flavor migrations are written for.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps common driver aliases onto a supported dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", s)
	}
}

// Status describes a single migration relative to the current schema version.
type Status struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Config holds what the migrator needs to reach the database.
type Config struct {
	Dialect Dialect
	// DSN is the driver-native connection string, the same one the
	// experiment store uses.
	DSN string
	// Table overrides the version-tracking table name. Defaults to
	// schema_migrations.
	Table string
}

// Migrator applies and rolls back the embedded schema migrations.
type Migrator struct {
	dialect Dialect
	db      *sql.DB
	migrate *migrate.Migrate
}

// New opens the database described by cfg and prepares a migrator backed by
// the embedded migration files for its dialect.
func New(cfg Config) (*Migrator, error) {
	if cfg.DSN == "" {
		return nil, errors.New("migration: dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "schema_migrations"
	}

	var (
		driverName string
		fsys       embed.FS
	)
	switch cfg.Dialect {
	case DialectPostgres:
		driverName, fsys = "postgres", postgresFS
	case DialectMySQL:
		driverName, fsys = "mysql", mysqlFS
	case DialectSQLite:
		driverName, fsys = "sqlite", sqliteFS
	default:
		return nil, fmt.Errorf("migration: unsupported dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Dialect, err)
	}

	dbDriver, err := newDatabaseDriver(cfg.Dialect, db, cfg.Table)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(fsys, "migrations/"+string(cfg.Dialect))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(cfg.Dialect), dbDriver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration engine: %w", err)
	}

	return &Migrator{dialect: cfg.Dialect, db: db, migrate: m}, nil
}

// NewFromDatabaseConfig builds a migrator for the same database the SQL
// experiment store connects to.
func NewFromDatabaseConfig(cfg config.DatabaseConfig) (*Migrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return New(Config{Dialect: dialect, DSN: cfg.DSN()})
}

func newDatabaseDriver(dialect Dialect, db *sql.DB, table string) (database.Driver, error) {
	switch dialect {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DialectSQLite:
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Up applies every pending migration. Already being up to date is not an
// error.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// DownAll rolls back every applied migration.
func (m *Migrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down all: %w", err)
	}
	return nil
}

// Force records a version without running migrations. Used to recover from a
// dirty state after a failed migration.
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migrate force: %w", err)
	}
	return nil
}

// Version reports the current schema version and whether the last migration
// left the schema dirty. A fresh database reports version 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}

// StatusAll lists every embedded migration for the dialect alongside whether
// it has been applied.
func (m *Migrator) StatusAll(ctx context.Context) ([]Status, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	available, err := m.available()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(available))
	for _, mig := range available {
		statuses = append(statuses, Status{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= current,
			Dirty:   dirty && mig.version == current,
		})
	}
	return statuses, nil
}

// Close releases the migration engine and the underlying connection.
func (m *Migrator) Close() error {
	var errs []error
	if m.migrate != nil {
		srcErr, dbErr := m.migrate.Close()
		if srcErr != nil {
			errs = append(errs, srcErr)
		}
		// The database driver closes the *sql.DB it wraps; a second
		// Close on an already-closed handle is harmless.
		if dbErr != nil {
			errs = append(errs, dbErr)
		}
	}
	return errors.Join(errs...)
}

type availableMigration struct {
	version uint
	name    string
}

func (m *Migrator) available() ([]availableMigration, error) {
	var fsys fs.FS
	switch m.dialect {
	case DialectPostgres:
		fsys = postgresFS
	case DialectMySQL:
		fsys = mysqlFS
	case DialectSQLite:
		fsys = sqliteFS
	default:
		return nil, fmt.Errorf("unsupported dialect %q", m.dialect)
	}

	entries, err := fs.ReadDir(fsys, "migrations/"+string(m.dialect))
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	seen := make(map[uint]bool)
	var out []availableMigration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_experiments.up.sql
		parts := strings.SplitN(strings.TrimSuffix(name, ".up.sql"), "_", 2)
		if len(parts) != 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil || seen[uint(v)] {
			continue
		}
		seen[uint(v)] = true
		out = append(out, availableMigration{version: uint(v), name: parts[1]})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
