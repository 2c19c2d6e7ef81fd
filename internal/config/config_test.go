package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "workq.yaml", `
mode: serve
queue:
  capacity: 4
  workers: 3
demo:
  generate_delay: 10ms
http:
  addr: ":9090"
  job_delay: 250ms
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Mode != ModeServe {
		t.Errorf("expected mode serve, got %q", cfg.Mode)
	}
	if cfg.Queue.Capacity != 4 || cfg.Queue.Workers != 3 {
		t.Errorf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Demo.GenerateDelay.D() != 10*time.Millisecond {
		t.Errorf("expected generate_delay 10ms, got %s", cfg.Demo.GenerateDelay)
	}
	if cfg.Demo.Producers != 5 {
		t.Errorf("expected default producers 5 to survive, got %d", cfg.Demo.Producers)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.HTTP.JobDelay.D() != 250*time.Millisecond {
		t.Errorf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %q", cfg.Log.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "workq.json", `{
  "queue": {"capacity": 2, "workers": 1},
  "demo": {"producers": 1, "items": 3, "cpu_delay": "1s", "io_delay": "0s"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Mode != ModeDemo {
		t.Errorf("expected default mode demo, got %q", cfg.Mode)
	}
	if cfg.Demo.Producers != 1 || cfg.Demo.Items != 3 {
		t.Errorf("unexpected demo config: %+v", cfg.Demo)
	}
	if cfg.Demo.CPUDelay.D() != time.Second || cfg.Demo.IODelay.D() != 0 {
		t.Errorf("unexpected delays: %+v", cfg.Demo)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "workq.toml", "")); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "demo:\n  cpu_delay: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
	if _, err := Load(writeFile(t, "bad.json", `{"demo": {"cpu_delay": 5}}`)); err == nil {
		t.Error("expected error for numeric duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		wantErr bool
	}{
		{"defaults", func(*File) {}, false},
		{"unknown mode", func(f *File) { f.Mode = "batch" }, true},
		{"no workers", func(f *File) { f.Queue.Workers = 0 }, true},
		{"negative producers", func(f *File) { f.Demo.Producers = -1 }, true},
		{"negative items", func(f *File) { f.Demo.Items = -1 }, true},
		{"negative delay", func(f *File) { f.Demo.IODelay = Duration(-time.Second) }, true},
		{"serve without addr", func(f *File) { f.Mode = ModeServe; f.HTTP.Addr = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Defaults().Demo)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back DemoConfig
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != Defaults().Demo {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, Defaults().Demo)
	}
}
