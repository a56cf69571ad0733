package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.1, cfg.Tolerance.XYResolution)
	assert.Equal(t, 0.01, cfg.Tolerance.ZTolerance)
	assert.Equal(t, 5000.0, cfg.Mesh.Width)
	assert.Equal(t, 20, cfg.Mesh.Nx)
	assert.Equal(t, 5, cfg.Mesh.Nz)
	assert.Equal(t, 0.1, cfg.ColumnTolerance().XY)
}

func TestLoad_OverlaysDefaultsAndEnv(t *testing.T) {
	t.Setenv("ZMESH_DB", "/tmp/zmesh.db")
	path := filepath.Join(t.TempDir(), "zmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mesh:
  nx: 8
run:
  ranks: 3
  db_path: ${ZMESH_DB}
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Mesh.Nx)
	assert.Equal(t, 5, cfg.Mesh.Nz)
	assert.Equal(t, 3, cfg.Run.Ranks)
	assert.Equal(t, "/tmp/zmesh.db", cfg.Run.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 300.0, cfg.Surface.Top)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":       "mesh: [",
		"no ranks":       "run:\n  ranks: 0\n",
		"too many ranks": "mesh:\n  nx: 2\nrun:\n  ranks: 3\n",
		"strategy":       "run:\n  strategy: metis\n",
		"tolerance":      "tolerance:\n  z_tolerance: 0\n",
		"stage widths":   "surface:\n  stages:\n    - centers: [1, 2]\n      widths: [1]\n",
		"refine bounds":  "run:\n  refine_percent: 120\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zmesh.yaml")
	cfg := Default()
	cfg.Run.Seed = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("ZMESH_A", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${ZMESH_A}-${ZMESH_A}-${ZMESH_UNSET}"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}
