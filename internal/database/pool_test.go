package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hypatia-sci/hypatia/config"
)

func newMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mock, gormDB
}

func testDBConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "postgres",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

func TestNewPoolAppliesSizing(t *testing.T) {
	_, gormDB := newMockDB(t)

	pool, err := NewPool(gormDB, testDBConfig(), zap.NewNop(), WithHealthInterval(0))
	require.NoError(t, err)
	defer pool.Close()

	assert.Same(t, gormDB, pool.DB())
	assert.Equal(t, 10, pool.Stats().MaxOpenConnections)
}

func TestNewPoolRejectsNilHandle(t *testing.T) {
	_, err := NewPool(nil, testDBConfig(), zap.NewNop())
	assert.ErrorContains(t, err, "nil gorm handle")
}

func TestPoolPing(t *testing.T) {
	mock, gormDB := newMockDB(t)

	pool, err := NewPool(gormDB, testDBConfig(), zap.NewNop(), WithHealthInterval(0))
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pool.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	assert.ErrorContains(t, pool.Ping(context.Background()), "pool is closed")

	// Close is idempotent.
	require.NoError(t, pool.Close())
}

func TestTransactRetriesTransientFailure(t *testing.T) {
	mock, gormDB := newMockDB(t)

	pool, err := NewPool(gormDB, testDBConfig(), zap.NewNop(), WithHealthInterval(0))
	require.NoError(t, err)

	mock.ExpectBegin().WillReturnError(errors.New("pq: deadlock detected"))
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err = pool.Transact(context.Background(), 2, func(tx *gorm.DB) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactGivesUpOnPermanentFailure(t *testing.T) {
	mock, gormDB := newMockDB(t)

	pool, err := NewPool(gormDB, testDBConfig(), zap.NewNop(), WithHealthInterval(0))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("constraint violation")
	err = pool.Transact(context.Background(), 3, func(tx *gorm.DB) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactExhaustsRetries(t *testing.T) {
	mock, gormDB := newMockDB(t)

	pool, err := NewPool(gormDB, testDBConfig(), zap.NewNop(), WithHealthInterval(0))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin().WillReturnError(errors.New("serialization failure"))
	}

	err = pool.Transact(context.Background(), 1, func(tx *gorm.DB) error {
		t.Fatal("callback should not run when begin fails")
		return nil
	})
	assert.ErrorContains(t, err, "transaction failed after 1 retries")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("pq: deadlock detected"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{sql.ErrNoRows, false},
		{errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTransient(tt.err), "err=%v", tt.err)
	}
}
