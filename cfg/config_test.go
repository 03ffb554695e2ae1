package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentValidate(t *testing.T) {
	assert.NoError(t, EnvDev.Validate())
	assert.NoError(t, EnvProd.Validate())
	assert.Error(t, Environment("staging").Validate())
}

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultEnv, c.Environment)
	assert.Equal(t, 128, c.PoolSize)
	assert.Equal(t, 2, c.K)
	assert.Equal(t, 64, c.LeafMax)
	assert.Equal(t, 64, c.InternalMax)
	assert.Equal(t, 50, c.DeadlockDetectionIntervalMS)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "POOL_SIZE=256\nLRU_K=4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 256, c.PoolSize)
	assert.Equal(t, 4, c.K)
}

func TestLoadRejectsNonPositivePoolSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("POOL_SIZE=0\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRuntimeFlagsAppliesDefaultsAndEnvOverride(t *testing.T) {
	f, err := LoadRuntimeFlags()
	require.NoError(t, err)
	assert.True(t, f.EnableDebugAsserts)

	t.Setenv("COREDB_SEED", "42")
	f, err = LoadRuntimeFlags()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), f.Seed)
}
