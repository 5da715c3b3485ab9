package config

import "testing"

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`service-addr: "0.0.0.0:4000"`), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceThreads != 4 {
		t.Fatalf("expected default service-threads=4, got %d", cfg.ServiceThreads)
	}
	if cfg.BatchMaxRequests != 30000 {
		t.Fatalf("expected default batch-max-requests=30000, got %d", cfg.BatchMaxRequests)
	}
	if cfg.ServiceAddr != "0.0.0.0:4000" {
		t.Fatalf("expected overridden service-addr, got %q", cfg.ServiceAddr)
	}
}

func TestParseRejectsInvalidNamespaceLevels(t *testing.T) {
	_, err := Parse([]byte(`
namespaces:
  test:
    read-consistency-level-override: "bogus"
`), "test.yaml")
	if err == nil {
		t.Fatal("expected validation error for bogus consistency level")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) == 0 {
		t.Fatal("expected at least one collected error")
	}
}

func TestParseNamespaceDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
namespaces:
  test: {}
`), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ns := cfg.Namespaces["test"]
	if ns.NumPartitions != 4096 {
		t.Fatalf("expected default num-partitions=4096, got %d", ns.NumPartitions)
	}
	if ns.ReadConsistencyLevelOverride != "one" {
		t.Fatalf("expected default read level one, got %q", ns.ReadConsistencyLevelOverride)
	}
}

func TestBatchEnabled(t *testing.T) {
	cfg, err := Parse([]byte(`batch-index-threads: 0`), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BatchEnabled() {
		t.Fatal("expected batch disabled when batch-index-threads=0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
