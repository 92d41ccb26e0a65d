package utils

import (
	"eth2-verifier/types"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, ""))

	assert.Equal(t, "mainnet", cfg.Chain.Network)
	assert.Equal(t, "https://beaconcha.in", cfg.BeaconchaIn.BaseURL)
	assert.Equal(t, float64(1), cfg.BeaconchaIn.RequestsPerSecond)
	assert.NotEmpty(t, cfg.Rpc.Endpoints)
	assert.Equal(t, uint64(2_000), cfg.Verify.T5ToleranceMinGwei)
	assert.Equal(t, uint64(15_000), cfg.Verify.T5ToleranceMaxGwei)
	assert.Equal(t, "./investigations", cfg.Output.Dir)
}

func TestReadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain:
  network: hoodi
beaconchain:
  apiKey: secret
  requestsPerSecond: 5
rpc:
  endpoints:
    - http://localhost:5052
verify:
  t5ToleranceMaxGwei: 20000
`), 0o644))

	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, path))

	assert.Equal(t, "hoodi", cfg.Chain.Network)
	assert.Equal(t, "secret", cfg.BeaconchaIn.APIKey)
	assert.Equal(t, float64(5), cfg.BeaconchaIn.RequestsPerSecond)
	assert.Equal(t, []string{"http://localhost:5052"}, cfg.Rpc.Endpoints)
	assert.Equal(t, uint64(20_000), cfg.Verify.T5ToleranceMaxGwei)
	// untouched keys keep their defaults
	assert.Equal(t, "https://beaconcha.in", cfg.BeaconchaIn.BaseURL)
}

func TestReadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("chain:\n  network: hoodi\n"), 0o644))

	t.Setenv("CHAIN_NETWORK", "holesky")
	t.Setenv("BEACONCHAIN_API_KEY", "from-env")

	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, path))

	assert.Equal(t, "holesky", cfg.Chain.Network)
	assert.Equal(t, "from-env", cfg.BeaconchaIn.APIKey)
}

func TestReadConfigMissingFile(t *testing.T) {
	cfg := &types.Config{}
	assert.Error(t, ReadConfig(cfg, "/nonexistent/config.yml"))
}
