package instanceid

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected non-empty instance id")
	}

	id2, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate (second call): %v", err)
	}
	if id2 != id1 {
		t.Errorf("instance id changed across calls: %q != %q", id1, id2)
	}
}

func TestLoadOrCreateCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	if _, err := LoadOrCreate(dir); err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
}
