package engineconfig

import (
	"path/filepath"
	"testing"

	"code.harrowgate.dev/repdelta/go/src/bravo/svndiff"
)

func TestDefaultConfig(t *testing.T) {
	config := Default()

	if config.Backend != "memory" {
		t.Fatalf("Backend = %q, want %q", config.Backend, "memory")
	}

	id, err := config.Delta.AlgorithmId()
	if err != nil {
		t.Fatalf("AlgorithmId: %v", err)
	}

	if id != svndiff.VersionWindiff {
		t.Fatalf("default AlgorithmId() = %d, want %d", id, svndiff.VersionWindiff)
	}

	if config.Compaction.Enabled {
		t.Fatal("compaction should be disabled by default")
	}
}

func TestAlgorithmIdUnknownName(t *testing.T) {
	delta := DeltaConfig{Algorithm: "rsync"}

	if _, err := delta.AlgorithmId(); err == nil {
		t.Fatal("expected error for unknown algorithm name")
	}
}

func TestAlgorithmIdBsdiff(t *testing.T) {
	delta := DeltaConfig{Algorithm: "bsdiff"}

	id, err := delta.AlgorithmId()
	if err != nil {
		t.Fatalf("AlgorithmId: %v", err)
	}

	if id != svndiff.VersionBsdiff {
		t.Fatalf("AlgorithmId() = %d, want %d", id, svndiff.VersionBsdiff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	config := Default()
	config.Backend = "badger"
	config.BadgerDir = "/var/lib/engine"
	config.Compaction.Enabled = true
	config.Compaction.MinChainLength = 16

	if err := Save(path, config); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Backend != config.Backend || got.BadgerDir != config.BadgerDir {
		t.Fatalf("Load() = %+v, want %+v", got, config)
	}

	if got.Compaction.MinChainLength != 16 || !got.Compaction.Enabled {
		t.Fatalf("Load() compaction = %+v", got.Compaction)
	}
}
