// Package config loads the run configuration from YAML
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/notargets/ZMesh/column"
	"github.com/notargets/ZMesh/logger"
	"github.com/notargets/ZMesh/partitions"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a run
type Config struct {
	Tolerance ToleranceConfig `yaml:"tolerance"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Surface   SurfaceConfig   `yaml:"surface"`
	Run       RunConfig       `yaml:"run"`
	Log       logger.Config   `yaml:"log"`
}

// ToleranceConfig holds the column matching policy
type ToleranceConfig struct {
	XYResolution float64 `yaml:"xy_resolution"`
	ZTolerance   float64 `yaml:"z_tolerance"`
}

// MeshConfig describes the base grid of the vertical slice
type MeshConfig struct {
	XMin     float64 `yaml:"x_min"`
	Width    float64 `yaml:"width"`
	Bottom   float64 `yaml:"bottom"`
	Top      float64 `yaml:"top"`
	Nx       int     `yaml:"nx"`
	Nz       int     `yaml:"nz"`
	MaxLevel int     `yaml:"max_level"`
}

// RBFStage adds Gaussian bases to the top surface from a given iteration on
type RBFStage struct {
	Iteration int       `yaml:"iteration"`
	Centers   []float64 `yaml:"centers"`
	Widths    []float64 `yaml:"widths"`
}

// SurfaceConfig describes the elevation targets: top = Top + rbf(x), bottom = Bottom
type SurfaceConfig struct {
	Top       float64    `yaml:"top"`
	Bottom    float64    `yaml:"bottom"`
	Amplitude float64    `yaml:"amplitude"` // Heights at the centers are drawn from [-Amplitude, Amplitude]
	Stages    []RBFStage `yaml:"stages"`
}

// RunConfig drives the adaptivity loop
type RunConfig struct {
	Ranks              int    `yaml:"ranks"`
	Iterations         int    `yaml:"iterations"`
	Seed               int64  `yaml:"seed"` // Zero seeds from the clock
	FirstRefinePercent int    `yaml:"first_refine_percent"`
	RefinePercent      int    `yaml:"refine_percent"`
	CoarsenPercent     int    `yaml:"coarsen_percent"`
	Strategy           string `yaml:"strategy"`
	DBPath             string `yaml:"db_path"` // Empty disables the pass history
}

// Default returns the configuration of the reference run: a 5000 x 300 slice of 20 x 5
// cells whose top follows 300 + rbf(x)
func Default() *Config {
	return &Config{
		Tolerance: ToleranceConfig{
			XYResolution: column.DefaultXYResolution,
			ZTolerance:   column.DefaultZTolerance,
		},
		Mesh: MeshConfig{
			Width:    5000,
			Bottom:   0,
			Top:      300,
			Nx:       20,
			Nz:       5,
			MaxLevel: 4,
		},
		Surface: SurfaceConfig{
			Top:       300,
			Bottom:    0,
			Amplitude: 30,
			Stages: []RBFStage{
				{Iteration: 0, Centers: []float64{1000, 2000, 3000, 4000},
					Widths: []float64{0.001, 0.001, 0.001, 0.001}},
				{Iteration: 1, Centers: []float64{500, 1500, 2500, 3500, 4500},
					Widths: []float64{0.002, 0.002, 0.002, 0.002, 0.002}},
			},
		},
		Run: RunConfig{
			Ranks:              2,
			Iterations:         3,
			FirstRefinePercent: 30,
			RefinePercent:      20,
			CoarsenPercent:     5,
			Strategy:           "block",
		},
		Log: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// ColumnTolerance returns the column tolerance policy
func (c *Config) ColumnTolerance() column.Tolerance {
	return column.Tolerance{XY: c.Tolerance.XYResolution, Z: c.Tolerance.ZTolerance}
}

// Validate checks the configuration for values the run cannot work with
func (c *Config) Validate() error {
	var errs []error
	if err := c.ColumnTolerance().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Mesh.Nx <= 0 || c.Mesh.Nz <= 0 {
		errs = append(errs, fmt.Errorf("mesh: base grid %dx%d", c.Mesh.Nx, c.Mesh.Nz))
	}
	if !(c.Mesh.Width > 0) || !(c.Mesh.Top > c.Mesh.Bottom) {
		errs = append(errs, fmt.Errorf("mesh: width %g, bottom %g, top %g", c.Mesh.Width, c.Mesh.Bottom, c.Mesh.Top))
	}
	if c.Mesh.MaxLevel < 0 || c.Mesh.MaxLevel > 20 {
		errs = append(errs, fmt.Errorf("mesh: max level %d", c.Mesh.MaxLevel))
	}
	if !(c.Surface.Top > c.Surface.Bottom) {
		errs = append(errs, fmt.Errorf("surface: top %g must lie above bottom %g", c.Surface.Top, c.Surface.Bottom))
	}
	for i, st := range c.Surface.Stages {
		if len(st.Centers) != len(st.Widths) {
			errs = append(errs, fmt.Errorf("surface: stage %d has %d centers and %d widths",
				i, len(st.Centers), len(st.Widths)))
		}
	}
	if c.Run.Ranks <= 0 || c.Run.Ranks > c.Mesh.Nx {
		errs = append(errs, fmt.Errorf("run: ranks %d must lie in [1, nx=%d]", c.Run.Ranks, c.Mesh.Nx))
	}
	if c.Run.Iterations < 0 {
		errs = append(errs, fmt.Errorf("run: iterations %d", c.Run.Iterations))
	}
	for name, pct := range map[string]int{"first_refine_percent": c.Run.FirstRefinePercent,
		"refine_percent": c.Run.RefinePercent, "coarsen_percent": c.Run.CoarsenPercent} {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("run: %s %d outside [0,100]", name, pct))
		}
	}
	if _, err := partitions.ParseStrategy(c.Run.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("run: %w", err))
	}
	return errors.Join(errs...)
}

// Load reads a YAML file over the defaults. ${VAR} references are replaced by the
// environment before parsing.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(filePath string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
