package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NYT_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "NYT_TopStories", cfg.Database.Name)
	assert.Equal(t, "home", cfg.API.Section)
	assert.Equal(t, time.Hour, cfg.Schedule.ParseInterval())
	assert.Equal(t, 30*time.Second, cfg.API.ParseTimeout())
	assert.Error(t, cfg.Validate(), "missing api key must fail validation")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
database:
  driver: mysql
  host: db.internal
  port: 3306
  user: ingest
  name: news
api:
  section: world
  timeout: 5s
schedule:
  interval: 15m
ingest:
  timezone: "-05:00"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("NYT_API_KEY", "secret")
	t.Setenv("TOPSTORIES_DB_PASSWORD", "pw")
	t.Setenv("TOPSTORIES_DB_PORT", "3307")
	t.Setenv("TOPSTORIES_DB_SSLMODE", "require")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, "news", cfg.Database.Name)
	assert.Equal(t, "utf8mb4", cfg.Database.Charset, "unset fields keep defaults")
	assert.Equal(t, "secret", cfg.API.Key)
	assert.Equal(t, "world", cfg.API.Section)
	assert.Equal(t, 5*time.Second, cfg.API.ParseTimeout())
	assert.Equal(t, 15*time.Minute, cfg.Schedule.ParseInterval())
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Ingest.Location()
	require.NoError(t, err)
	_, offset := time.Date(2020, 7, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -5*3600, offset)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.API.Key = "k"
	cfg.Database.Driver = "oracle"
	assert.ErrorContains(t, cfg.Validate(), "unknown database driver")
}

func TestIngestLocationNamed(t *testing.T) {
	loc, err := IngestConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC.String(), loc.String())

	loc, err = IngestConfig{}.Location()
	require.NoError(t, err)
	assert.Nil(t, loc)

	_, err = IngestConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

func TestValidateStorageWithoutKey(t *testing.T) {
	cfg := Default()
	cfg.API.Key = ""
	assert.NoError(t, cfg.ValidateStorage())
	assert.Error(t, cfg.Validate())
}
