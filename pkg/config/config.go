// Package config provides configuration loading and management for specklerec.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"bytes"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
	"specklerec/pkg/holography"
	"specklerec/pkg/psf"
	"specklerec/pkg/reconstruction"
	"specklerec/pkg/visualization"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// File locations
	Paths struct {
		// InDir is searched for *.fits cubes when Files is empty
		InDir string `yaml:"inDir"`

		// Files lists the input cubes explicitly
		Files []string `yaml:"files"`

		// OutFile receives the reconstruction
		OutFile string `yaml:"outFile"`

		// TmpDir receives long exposures and intermediate products
		TmpDir string `yaml:"tmpDir"`

		// AlignmentReferenceFile names the reference cube; empty selects the first
		AlignmentReferenceFile string `yaml:"alignmentReferenceFile"`

		// AllStarsFile and RefSourceFile are the star tables of the
		// reference-star selection
		AllStarsFile  string `yaml:"allStarsFile"`
		RefSourceFile string `yaml:"refSourceFile"`

		// PreviewFile is rendered from the reconstruction when set
		PreviewFile string `yaml:"previewFile"`
	} `yaml:"paths"`

	// General options
	Options struct {
		// Mode is the output canvas: full, same or valid
		Mode string `yaml:"mode"`

		// VarianceExtensionName is the FITS extension holding variance data
		VarianceExtensionName string `yaml:"varianceExtensionName"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Stretch is the preview stretch: linear or asinh
		Stretch string `yaml:"stretch"`
	} `yaml:"options"`

	// Shift-and-add parameters
	SSA struct {
		// AlignmentMethod reduces each cube: collapse or ssa
		AlignmentMethod string `yaml:"alignmentMethod"`

		// Box bounds the inner SSA peak search as [ymin, ymax, xmin, xmax]
		Box []int `yaml:"box"`
	} `yaml:"ssa"`

	// Star finder parameters
	Starfinder struct {
		FWHM           float64 `yaml:"fwhm"`
		NoiseThreshold float64 `yaml:"noiseThreshold"`
		SigmaClip      float64 `yaml:"sigmaClip"`
		MaxSources     int     `yaml:"maxSources"`
	} `yaml:"starfinder"`

	// PSF extraction parameters
	PSFExtraction struct {
		Mode                 string  `yaml:"mode"`
		PSFRadius            int     `yaml:"psfRadius"`
		NoiseThreshold       float64 `yaml:"noiseThreshold"`
		NoiseReferenceMargin int     `yaml:"noiseReferenceMargin"`
	} `yaml:"psfExtraction"`

	// Apodization parameters
	Apodization struct {
		Type   string  `yaml:"type"`
		Radius float64 `yaml:"radius"`
	} `yaml:"apodization"`

	// Holography loop parameters
	Holography struct {
		// Iterations runs a fixed number of iterations when not interactive
		Iterations int `yaml:"iterations"`

		// Interactive asks the operator for reference stars and continuation
		Interactive bool `yaml:"interactive"`

		DenominatorFloor float64 `yaml:"denominatorFloor"`

		// ReferenceStars is the number of stars picked automatically
		ReferenceStars int `yaml:"referenceStars"`

		// MatchTolerance snaps listed reference stars to detections, in pixels
		MatchTolerance float64 `yaml:"matchTolerance"`
	} `yaml:"holography"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Paths.InDir = "."
	cfg.Paths.OutFile = "reconstruction.fits"
	cfg.Paths.TmpDir = "tmp"
	cfg.Paths.AllStarsFile = "all_stars.dat"
	cfg.Paths.RefSourceFile = "ref_stars.dat"

	cfg.Options.Mode = "same"
	cfg.Options.VarianceExtensionName = "VAR"
	cfg.Options.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Options.Verbose = true
	cfg.Options.Stretch = string(visualization.StretchAsinh)

	cfg.SSA.AlignmentMethod = string(reconstruction.MethodCollapse)

	cfg.Starfinder.FWHM = 3
	cfg.Starfinder.NoiseThreshold = 5
	cfg.Starfinder.SigmaClip = 3
	cfg.Starfinder.MaxSources = 100

	cfg.PSFExtraction.Mode = string(psf.ModeWeightedMean)
	cfg.PSFExtraction.PSFRadius = 20
	cfg.PSFExtraction.NoiseThreshold = 3
	cfg.PSFExtraction.NoiseReferenceMargin = 3

	cfg.Apodization.Type = string(holography.Gaussian)
	cfg.Apodization.Radius = 64

	cfg.Holography.Iterations = 3
	cfg.Holography.DenominatorFloor = holography.DefaultFloor
	cfg.Holography.ReferenceStars = 5
	cfg.Holography.MatchTolerance = 3

	return cfg
}

// Validate checks every enumerated option and numeric range
func (c *Config) Validate() error {
	const op = "validate config"

	if _, err := models.ParseMode(c.Options.Mode); err != nil {
		return err
	}
	if _, err := reconstruction.ParseMethod(c.SSA.AlignmentMethod); err != nil {
		return err
	}
	if _, err := psf.ParseMode(c.PSFExtraction.Mode); err != nil {
		return err
	}
	if _, err := holography.ParseKind(c.Apodization.Type); err != nil {
		return err
	}
	if _, err := visualization.ParseStretch(c.Options.Stretch); err != nil {
		return err
	}
	if _, err := c.Box(); err != nil {
		return err
	}

	switch {
	case c.Options.NumCores < 0:
		return errs.New(errs.InvalidArgument, op, "options.numCores must not be negative, got %d", c.Options.NumCores)
	case c.Starfinder.FWHM <= 0:
		return errs.New(errs.InvalidArgument, op, "starfinder.fwhm must be positive, got %g", c.Starfinder.FWHM)
	case c.Starfinder.NoiseThreshold < 0:
		return errs.New(errs.InvalidArgument, op, "starfinder.noiseThreshold must not be negative, got %g", c.Starfinder.NoiseThreshold)
	case c.Starfinder.MaxSources < 0:
		return errs.New(errs.InvalidArgument, op, "starfinder.maxSources must not be negative, got %d", c.Starfinder.MaxSources)
	case c.PSFExtraction.PSFRadius < 1:
		return errs.New(errs.InvalidArgument, op, "psfExtraction.psfRadius must be at least 1, got %d", c.PSFExtraction.PSFRadius)
	case c.PSFExtraction.NoiseReferenceMargin < 0 || c.PSFExtraction.NoiseReferenceMargin > c.PSFExtraction.PSFRadius:
		return errs.New(errs.InvalidArgument, op, "psfExtraction.noiseReferenceMargin must lie in [0, psfRadius], got %d", c.PSFExtraction.NoiseReferenceMargin)
	case c.Apodization.Radius <= 0:
		return errs.New(errs.InvalidArgument, op, "apodization.radius must be positive, got %g", c.Apodization.Radius)
	case c.Holography.Iterations < 1 && !c.Holography.Interactive:
		return errs.New(errs.InvalidArgument, op, "holography.iterations must be at least 1, got %d", c.Holography.Iterations)
	case c.Holography.DenominatorFloor < 0:
		return errs.New(errs.InvalidArgument, op, "holography.denominatorFloor must not be negative, got %g", c.Holography.DenominatorFloor)
	case c.Holography.MatchTolerance < 0:
		return errs.New(errs.InvalidArgument, op, "holography.matchTolerance must not be negative, got %g", c.Holography.MatchTolerance)
	}
	return nil
}

// Box returns the SSA search box; an empty list gives the empty rectangle
func (c *Config) Box() (image.Rectangle, error) {
	b := c.SSA.Box
	if len(b) == 0 {
		return image.Rectangle{}, nil
	}
	if len(b) != 4 || b[0] >= b[1] || b[2] >= b[3] || b[0] < 0 || b[2] < 0 {
		return image.Rectangle{}, errs.New(errs.InvalidArgument, "validate config",
			"ssa.box must be [ymin, ymax, xmin, xmax] with min < max, got %v", b)
	}
	return image.Rect(b[2], b[0], b[3], b[1]), nil
}

// Reference designates the alignment reference cube by file name, matching
// the cube names given by the store
func (c *Config) Reference() models.Reference {
	if c.Paths.AlignmentReferenceFile == "" {
		return models.Reference{}
	}
	return models.Reference{Name: filepath.Base(c.Paths.AlignmentReferenceFile)}
}

// ReconstructionParams builds the SSA parameters
func (c *Config) ReconstructionParams() (*reconstruction.Params, error) {
	mode, err := models.ParseMode(c.Options.Mode)
	if err != nil {
		return nil, err
	}
	method, err := reconstruction.ParseMethod(c.SSA.AlignmentMethod)
	if err != nil {
		return nil, err
	}
	box, err := c.Box()
	if err != nil {
		return nil, err
	}
	return &reconstruction.Params{
		Mode:      mode,
		Reference: c.Reference(),
		Method:    method,
		Box:       box,
		NumCores:  c.Options.NumCores,
	}, nil
}

// HolographyParams builds the holography loop parameters
func (c *Config) HolographyParams() (*holography.Params, error) {
	mode, err := models.ParseMode(c.Options.Mode)
	if err != nil {
		return nil, err
	}
	psfMode, err := psf.ParseMode(c.PSFExtraction.Mode)
	if err != nil {
		return nil, err
	}
	kind, err := holography.ParseKind(c.Apodization.Type)
	if err != nil {
		return nil, err
	}
	return &holography.Params{
		Mode:                 mode,
		Reference:            c.Reference(),
		PSFRadius:            c.PSFExtraction.PSFRadius,
		PSFMode:              psfMode,
		NoiseReferenceMargin: c.PSFExtraction.NoiseReferenceMargin,
		NoiseThreshold:       c.PSFExtraction.NoiseThreshold,
		Apodization:          kind,
		ApodizationRadius:    c.Apodization.Radius,
		DenominatorFloor:     c.Holography.DenominatorFloor,
		NumCores:             c.Options.NumCores,
	}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	// Parse YAML, rejecting keys the schema does not know
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.InvalidArgument, "load config", err, "error parsing config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
