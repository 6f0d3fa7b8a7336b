// Package config holds the build options and their defaults, with optional
// overrides from a renpak.toml file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/NihilDigit/renpak/build"
	"github.com/NihilDigit/renpak/encode"
)

// DefaultFileName is the config file searched for in the working directory
// when no explicit path is given.
const DefaultFileName = "renpak.toml"

// Config mirrors the tunables of the build pipeline. Zero values defer to
// the pipeline defaults.
type Config struct {
	Quality           int      `toml:"quality"`
	Speed             int      `toml:"speed"`
	Workers           int      `toml:"workers"`
	Limit             int      `toml:"limit"`
	SequenceThreshold int      `toml:"sequence_threshold"`
	ImageExtensions   []string `toml:"image_extensions"`
	SkipPrefixes      []string `toml:"skip_prefixes"`
	AssumedFrameBytes int64    `toml:"assumed_frame_bytes"`
	WorkerBaseline    int64    `toml:"worker_baseline"`
	MemoryBudget      int64    `toml:"memory_budget"`
	DisableSequences  bool     `toml:"disable_sequences"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Quality:           50,
		Speed:             encode.DefaultSpeed,
		SequenceThreshold: encode.DefaultSequenceThreshold,
		AssumedFrameBytes: build.DefaultAssumedFrameBytes,
		WorkerBaseline:    build.DefaultWorkerBaseline,
	}
}

// Load returns the defaults overlaid with a TOML file. An empty path reads
// DefaultFileName when present and is not an error when it is missing; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// BuildOptions converts the configuration into scheduler options.
func (c Config) BuildOptions() build.Options {
	return build.Options{
		Limit:             c.Limit,
		Quality:           c.Quality,
		Speed:             c.Speed,
		Workers:           c.Workers,
		SequenceThreshold: c.SequenceThreshold,
		AssumedFrameBytes: c.AssumedFrameBytes,
		WorkerBaseline:    c.WorkerBaseline,
		MemoryBudget:      c.MemoryBudget,
		DisableSequences:  c.DisableSequences,
		Classifier:        encode.NewClassifier(c.ImageExtensions, c.SkipPrefixes),
	}
}
