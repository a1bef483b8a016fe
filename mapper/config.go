package mapper

import (
	"math"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"gopkg.in/yaml.v3"
)

// ErrTypeBadConfig reports a pipeline config that fails validation.
const ErrTypeBadConfig = "invalid_mapper_config"

// Config tunes the scan integration pipeline.
type Config struct {
	// Edge length of the map voxels, in meters.
	VoxelSize float64 `yaml:"voxel_size"`

	// Name of the traversal algorithm used to integrate rays.
	Algorithm string `yaml:"algorithm"`

	// Range beyond which a scan point only carves free space, in meters.
	MaxRange float64 `yaml:"max_range"`

	// Rays visiting more voxels than this are skipped.
	MaxRayVoxels int `yaml:"max_ray_voxels"`

	// Scans registered below this score are rejected.
	MinScore float64 `yaml:"min_score"`

	// Number of integration workers. Zero means one per CPU.
	Workers int `yaml:"workers"`

	Tuning occupancy.Tuning `yaml:"tuning"`
}

func DefaultConfig() Config {
	return Config{
		VoxelSize:    occupancy.DefaultVoxelSize,
		Algorithm:    voxel.AlgorithmDDA.String(),
		MaxRange:     30,
		MaxRayVoxels: 2048,
		MinScore:     0.6,
		Tuning:       occupancy.DefaultTuning(),
	}
}

// LoadConfig reads the config at the given path on top of the defaults. An
// empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.New("reading pipeline config failed").
			WithType(ErrTypeBadConfig).
			WithTag("path", path).
			Wrap(err)
	}

	if err := yaml.Unmarshal(b, &conf); err != nil {
		return Config{}, errors.New("parsing pipeline config failed").
			WithType(ErrTypeBadConfig).
			WithTag("path", path).
			Wrap(err)
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func (c Config) Validate() error {
	if c.VoxelSize <= 0 || math.IsInf(c.VoxelSize, 1) || math.IsNaN(c.VoxelSize) {
		return errors.New("voxel size must be a positive finite number").
			WithType(ErrTypeBadConfig).
			WithTag("voxel_size", c.VoxelSize)
	}

	if _, err := voxel.ParseAlgorithm(c.Algorithm); err != nil {
		return errors.New("unknown traversal algorithm").
			WithType(ErrTypeBadConfig).
			Wrap(err)
	}

	if c.MaxRange <= 0 {
		return errors.New("max range must be positive").
			WithType(ErrTypeBadConfig).
			WithTag("max_range", c.MaxRange)
	}

	if c.MaxRayVoxels <= 0 {
		return errors.New("max ray voxels must be positive").
			WithType(ErrTypeBadConfig).
			WithTag("max_ray_voxels", c.MaxRayVoxels)
	}

	if c.MinScore < 0 || c.MinScore > 1 {
		return errors.New("min score must be within [0, 1]").
			WithType(ErrTypeBadConfig).
			WithTag("min_score", c.MinScore)
	}

	if c.Workers < 0 {
		return errors.New("workers must not be negative").
			WithType(ErrTypeBadConfig).
			WithTag("workers", c.Workers)
	}

	if err := c.Tuning.Validate(); err != nil {
		return errors.New("invalid occupancy tuning").
			WithType(ErrTypeBadConfig).
			Wrap(err)
	}
	return nil
}
