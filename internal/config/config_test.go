package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.NotEqual(t, cfg.DB.DSN, cfg.ReadOnly.DSN)
	assert.Equal(t, 20, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 60*time.Second, cfg.Pool.QueryTimeout)
	assert.Equal(t, "report_session", cfg.Session.CookieName)
	assert.Equal(t, "Report", cfg.Export.Sheet)
	assert.Equal(t, float64(20), cfg.Export.ColumnWidth)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadFileSqliteAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: file:reports.db
readonly:
  dsn: file:reports.db?mode=ro
storage:
  type: local
  basepath: /tmp/exports
`)
	t.Setenv("APP_POOL_QUERY_TIMEOUT", "5s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "file:reports.db?mode=ro", cfg.ReadOnly.DSN)
	assert.Equal(t, 5*time.Second, cfg.Pool.QueryTimeout)
	assert.True(t, cfg.ArchiveEnabled())
}

func TestArchiveEnabled(t *testing.T) {
	assert.False(t, Config{}.ArchiveEnabled())
	assert.False(t, Config{Storage: Storage{Type: "none"}}.ArchiveEnabled())
	assert.True(t, Config{Storage: Storage{Type: "s3"}}.ArchiveEnabled())
}

func TestLoadFileRejectsSharedDSN(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://same@localhost/reports
readonly:
  dsn: postgres://same@localhost/reports
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only DSN must differ")
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   Server{Address: ":8080"},
			DB:       DB{Driver: "postgres", DSN: "rw"},
			ReadOnly: ReadOnly{DSN: "ro"},
			Pool:     Pool{MaxOpenConns: 1, QueryTimeout: time.Second},
			Session:  Session{CookieName: "s", TTL: time.Minute},
			Export:   Export{Sheet: "Report", ColumnWidth: 20},
			Storage:  Storage{Type: "none"},
			Logging:  Logging{Level: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.DB.Driver = "mysql" }, "database driver"},
		{"empty readonly", func(c *Config) { c.ReadOnly.DSN = "" }, "read-only DSN cannot be empty"},
		{"zero timeout", func(c *Config) { c.Pool.QueryTimeout = 0 }, "query_timeout"},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }, "storage type"},
		{"s3 without bucket", func(c *Config) { c.Storage = Storage{Type: "s3", S3: S3{Region: "eu"}} }, "S3 bucket"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStringHidesSecrets(t *testing.T) {
	cfg := Config{
		DB:       DB{Driver: "postgres", DSN: "postgres://admin:secret@db/reports"},
		ReadOnly: ReadOnly{DSN: "postgres://reader:secret@db/reports"},
		Storage:  Storage{Type: "s3", S3: S3{SecretKey: "s3cr3t"}},
	}

	s := cfg.String()
	assert.NotContains(t, s, "secret")
	assert.NotContains(t, s, "s3cr3t")
	assert.Contains(t, s, "[HIDDEN]")
}
