package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ows/internal/ows"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "https://epsg.io/%s.proj4", cfg.CRS.LookupURL)
	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 20, cfg.Agent.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.PollInterval)
	assert.Equal(t, time.Second, cfg.Agent.SettleDelay)
	assert.Equal(t, 5*time.Hour+30*time.Minute, cfg.SOS.UTCOffset)
	assert.Equal(t, "temporary", cfg.SOS.Offering)
	assert.Equal(t, "http://localhost:8080/geoserver/wms", cfg.Endpoints.ByKind()[ows.KindWMS])
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  sos: http://sensors.test/istsos/demo
agent:
  poll_attempts: 5
sos:
  utc_offset: 1h
`), 0644))

	t.Setenv("OWS_FETCH_TIMEOUT", "3s")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "http://sensors.test/istsos/demo", cfg.Endpoints.SOS)
	assert.Equal(t, 5, cfg.Agent.PollAttempts)
	assert.Equal(t, time.Hour, cfg.SOS.UTCOffset)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "secret", cfg.Agent.APIKey)
}

func TestLoad_SearchesDataDir(t *testing.T) {
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "ows.yaml"), []byte("sos:\n  offering: offering-x\n"), 0644))

	cfg, err := Load("", dataDir)
	require.NoError(t, err)
	assert.Equal(t, "offering-x", cfg.SOS.Offering)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", "")
	require.NoError(t, err)

	cfg.CRS.LookupURL = "https://epsg.io/"
	cfg.Agent.PollAttempts = 0
	cfg.Agent.SettleDelay = 0
	cfg.Log.Format = "xml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crs.lookup_url")
	assert.Contains(t, err.Error(), "agent.poll_attempts must be positive, got 0")
	assert.Contains(t, err.Error(), "agent.settle_delay must be positive")
	assert.Contains(t, err.Error(), `log.format must be text or json, got "xml"`)
}
