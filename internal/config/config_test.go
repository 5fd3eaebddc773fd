package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BoundJoinBlockSize != 20 {
		t.Errorf("default bound join block size = %d", cfg.BoundJoinBlockSize)
	}
	if cfg.MaxQueryTime() != 30*time.Second {
		t.Errorf("default max query time = %v", cfg.MaxQueryTime())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_Properties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.properties")
	content := "boundJoinBlockSize=15\nenforceMaxQueryTime=5\nenableMonitoring=true\nsourceSelectionCacheSpec=lru:64\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BoundJoinBlockSize != 15 {
		t.Errorf("boundJoinBlockSize = %d, want 15", cfg.BoundJoinBlockSize)
	}
	if cfg.MaxQueryTime() != 5*time.Second {
		t.Errorf("max query time = %v, want 5s", cfg.MaxQueryTime())
	}
	if !cfg.EnableMonitoring {
		t.Error("enableMonitoring not picked up")
	}
	if cfg.SourceSelectionCacheSpec != "lru:64" {
		t.Errorf("cache spec = %q", cfg.SourceSelectionCacheSpec)
	}
	// unset keys keep defaults
	if cfg.JoinWorkerThreads <= 0 {
		t.Error("joinWorkerThreads default lost")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.properties")
	if err := os.WriteFile(path, []byte("boundJoinBlockSize=0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("boundJoinBlockSize=0 must be rejected")
	}
}

func TestParseMembers(t *testing.T) {
	data := []byte(`
members:
  - id: dbpedia
    name: DBpedia
    type: SparqlEndpoint
    location: https://dbpedia.org/sparql
    supportsAskQueries: false
  - id: local
    name: Local store
    type: NativeStore
    location: /tmp/fedra.db
    writable: true
`)
	ms, err := ParseMembers(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(ms.Members))
	}
	if ms.Members[0].SupportsAsk() {
		t.Error("supportsAskQueries: false not honoured")
	}
	if !ms.Members[1].SupportsAsk() {
		t.Error("supportsAskQueries must default to true")
	}
}

func TestParseMembers_Invalid(t *testing.T) {
	cases := []string{
		"members: []",
		"members:\n  - id: a\n    type: Unknown\n    location: http://x",
		"members:\n  - id: a\n    type: SparqlEndpoint\n    location: ftp://x",
		"members:\n  - id: a\n    type: SparqlEndpoint\n    location: http://x\n  - id: a\n    type: SparqlEndpoint\n    location: http://y",
	}
	for _, c := range cases {
		if _, err := ParseMembers([]byte(c)); err == nil {
			t.Errorf("expected rejection for %q", c)
		}
	}
}
