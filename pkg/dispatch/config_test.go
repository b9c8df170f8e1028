package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
)

const configDoc = `default_queue: critical
queues:
  sendReceipt: receipts
  archiveLogs: housekeeping
workers: 8
buffer_size: 128
max_attempts: 5
retry_delay: 750ms
`

func TestLoadConfigFS(t *testing.T) {
	fsys := fstest.MapFS{
		"dispatch.yaml": &fstest.MapFile{Data: []byte(configDoc)},
	}

	cfg, err := LoadConfigFS(fsys, "dispatch.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := Config{
		DefaultQueue: "critical",
		Queues: map[string]string{
			"sendReceipt": "receipts",
			"archiveLogs": "housekeeping",
		},
		Workers:     8,
		BufferSize:  128,
		MaxAttempts: 5,
		RetryDelay:  750 * time.Millisecond,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	if err := os.WriteFile(path, []byte(configDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultQueue != "critical" || cfg.Workers != 8 {
		t.Fatalf("config: %+v", cfg)
	}
}

func TestLoadConfig_Failures(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}

	fsys := fstest.MapFS{
		"broken.yaml": &fstest.MapFile{Data: []byte("default_queue: [")},
		"delay.yaml":  &fstest.MapFile{Data: []byte("retry_delay: eventually")},
	}
	if _, err := LoadConfigFS(fsys, "broken.yaml"); err == nil {
		t.Fatal("malformed yaml should fail")
	}
	if _, err := LoadConfigFS(fsys, "delay.yaml"); err == nil {
		t.Fatal("malformed duration should fail")
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("RECORD_DISPATCH_DEFAULT_QUEUE", "overridden")
	t.Setenv("RECORD_DISPATCH_WORKERS", "2")
	t.Setenv("RECORD_DISPATCH_RETRY_DELAY", "50ms")
	t.Setenv("RECORD_DISPATCH_QUEUES", "sendReceipt:fast,archiveLogs:slow")

	cfg := Config{DefaultQueue: "from-file", Workers: 8, MaxAttempts: 5}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if cfg.DefaultQueue != "overridden" || cfg.Workers != 2 {
		t.Fatalf("env overlay: %+v", cfg)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("unset env vars must not clear values: %+v", cfg)
	}
	if cfg.RetryDelay != 50*time.Millisecond {
		t.Fatalf("retry delay: %v", cfg.RetryDelay)
	}
	if cfg.Queues["sendReceipt"] != "fast" || cfg.Queues["archiveLogs"] != "slow" {
		t.Fatalf("queue map: %+v", cfg.Queues)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.Defaults()

	if cfg.DefaultQueue != DefaultQueueName {
		t.Fatalf("default queue: %q", cfg.DefaultQueue)
	}
	if cfg.Workers <= 0 || cfg.BufferSize <= 0 || cfg.MaxAttempts <= 0 || cfg.RetryDelay <= 0 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}

	tuned := Config{Workers: 1, RetryDelay: time.Second}.Defaults()
	if tuned.Workers != 1 || tuned.RetryDelay != time.Second {
		t.Fatalf("set values must survive: %+v", tuned)
	}
}
