package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/ZMesh/config"
	"github.com/notargets/ZMesh/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Mesh = config.MeshConfig{Width: 1000, Top: 100, Nx: 4, Nz: 2, MaxLevel: 2}
	cfg.Surface = config.SurfaceConfig{Top: 100, Amplitude: 5,
		Stages: []config.RBFStage{{Centers: []float64{500}, Widths: []float64{0.002}}}}
	cfg.Log.Level = "error"
	path := filepath.Join(t.TempDir(), "zmesh.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func TestConfigCmd_PrintsLoadedConfig(t *testing.T) {
	out, err := execute(t, "config", "--config", writeConfig(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "printed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Mesh.Nx)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestRunCmd_WritesHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "passes.db")
	out, err := execute(t, "run", "--config", writeConfig(t), "--iterations", "1", "--ranks", "3",
		"--seed", "11", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seed:        11")
	assert.Contains(t, out, "iterations:  2")

	st, err := store.New(db)
	require.NoError(t, err)
	defer st.Close()
	passes, err := st.Passes(context.Background())
	require.NoError(t, err)
	assert.Len(t, passes, 2*3*2)
}

func TestRunCmd_BadConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "run", "--config", writeConfig(t), "--ranks", "-1")
	assert.Error(t, err)
}
