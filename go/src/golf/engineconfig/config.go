// Package engineconfig is the TOML-configured knobs for the
// representation/content engine: which backing store to open, which
// diff algorithm deltify uses by default, and the size thresholds the
// deep-deltify sweep (india/compaction) applies.
package engineconfig

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"code.harrowgate.dev/repdelta/go/src/alfa/errors"
	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
)

// DeltaConfig is the delta-compression configuration: min/max blob size
// and a size ratio threshold, applicable to any Store.
type DeltaConfig struct {
	Enabled     bool    `toml:"enabled"`
	Algorithm   string  `toml:"algorithm"`
	MinBlobSize int64   `toml:"min-blob-size"`
	MaxBlobSize int64   `toml:"max-blob-size"`
	SizeRatio   float64 `toml:"size-ratio"`
}

// AlgorithmId resolves the configured algorithm name to the byte value
// bravo/svndiff's registry keys chunks by.
func (delta DeltaConfig) AlgorithmId() (byte, error) {
	switch delta.Algorithm {
	case "", "windiff":
		return svndiff.VersionWindiff, nil
	case "bsdiff":
		return svndiff.VersionBsdiff, nil
	default:
		return 0, errors.Errorf("engineconfig: unknown delta algorithm %q", delta.Algorithm)
	}
}

// Config is the engine's top-level TOML document.
type Config struct {
	Backend   string      `toml:"backend"`
	BadgerDir string      `toml:"badger-dir"`
	Delta     DeltaConfig `toml:"delta"`

	// Compaction governs india/compaction's deep-deltify sweep: it only
	// considers reps whose delta chain is at least MinChainLength links
	// deep, and only
	// commits a deep-deltify if the whole-rep patch is no larger than
	// SizeRatio times the chain's current total serialized size.
	Compaction CompactionConfig `toml:"compaction"`
}

type CompactionConfig struct {
	Enabled        bool    `toml:"enabled"`
	MinChainLength int     `toml:"min-chain-length"`
	SizeRatio      float64 `toml:"size-ratio"`
}

// Default returns the engine's out-of-the-box configuration: an
// in-memory store and windiff deltification, matching what every test in
// this repository runs against absent an explicit TOML file.
func Default() Config {
	return Config{
		Backend: "memory",
		Delta: DeltaConfig{
			Enabled:     true,
			Algorithm:   "windiff",
			MinBlobSize: 64,
			SizeRatio:   1.0,
		},
		Compaction: CompactionConfig{
			Enabled:        false,
			MinChainLength: 8,
			SizeRatio:      0.9,
		},
	}
}

func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err)
	}

	if err = toml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err)
	}

	return config, nil
}

func Save(path string, config Config) (err error) {
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err)
	}

	return os.WriteFile(path, data, 0o644)
}
