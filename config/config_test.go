package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	t.Run("collects every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.HTTPPort = 0
		cfg.Log.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http_port")
		assert.Contains(t, err.Error(), "log.level")
	})

	t.Run("store backends", func(t *testing.T) {
		cfg := validConfig()
		cfg.Store.Type = "etcd"
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Store.Type = "file"
		assert.Error(t, cfg.Validate(), "file store needs a directory")
		cfg.Store.Dir = "/var/lib/hypatia"
		assert.NoError(t, cfg.Validate())

		cfg = validConfig()
		cfg.Store.Type = "sql"
		cfg.Store.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("mock provider needs no key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Provider = "mock"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("telemetry endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telemetry.Enabled = true
		assert.Error(t, cfg.Validate())
		cfg.Telemetry.Endpoint = "localhost:4317"
		assert.NoError(t, cfg.Validate())
	})
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "hypatia", Password: "s3cret", Name: "research", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=hypatia password=s3cret dbname=research sslmode=disable",
		pg.DSN())

	my := DatabaseConfig{
		Driver: "mysql", Host: "db", Port: 3306,
		User: "hypatia", Password: "s3cret", Name: "research",
	}
	assert.Equal(t, "hypatia:s3cret@tcp(db:3306)/research?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "hypatia.db"}
	assert.Equal(t, "hypatia.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
