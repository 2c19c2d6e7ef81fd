// Package config loads the workq binary configuration from YAML or JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ygrebnov/errorc"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Modes of the binary.
const (
	ModeDemo  = "demo"
	ModeServe = "serve"
)

// File is the configuration file layout.
type File struct {
	Mode  string      `yaml:"mode" json:"mode"`
	Queue QueueConfig `yaml:"queue" json:"queue"`
	Demo  DemoConfig  `yaml:"demo" json:"demo"`
	HTTP  HTTPConfig  `yaml:"http" json:"http"`
	Log   LogConfig   `yaml:"log" json:"log"`
}

// QueueConfig sizes the queue and the worker set.
type QueueConfig struct {
	// Capacity 0 means unbounded.
	Capacity uint `yaml:"capacity" json:"capacity"`
	Workers  int  `yaml:"workers" json:"workers"`
}

// DemoConfig drives the simulated producer/worker run.
type DemoConfig struct {
	Producers     int      `yaml:"producers" json:"producers"`
	Items         int      `yaml:"items" json:"items"`
	GenerateDelay Duration `yaml:"generate_delay" json:"generate_delay"`
	CPUDelay      Duration `yaml:"cpu_delay" json:"cpu_delay"`
	IODelay       Duration `yaml:"io_delay" json:"io_delay"`
}

// HTTPConfig configures serve mode.
type HTTPConfig struct {
	Addr            string   `yaml:"addr" json:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// JobDelay simulates a slower model per submitted job.
	JobDelay Duration `yaml:"job_delay" json:"job_delay"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() File {
	return File{
		Mode:  ModeDemo,
		Queue: QueueConfig{Capacity: 10, Workers: 5},
		Demo: DemoConfig{
			Producers:     5,
			Items:         3,
			GenerateDelay: Duration(time.Second),
			CPUDelay:      Duration(time.Second),
			IODelay:       Duration(time.Second),
		},
		HTTP: HTTPConfig{
			Addr:            "localhost:8080",
			ShutdownTimeout: Duration(10 * time.Second),
			JobDelay:        Duration(500 * time.Millisecond),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of Defaults. The format follows the extension:
// .yaml/.yml or .json.
func Load(path string) (File, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", ext)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (f File) Validate() error {
	switch f.Mode {
	case ModeDemo, ModeServe:
	default:
		return errorc.With(ErrInvalid, errorc.String("mode", "must be demo or serve"))
	}
	if f.Queue.Workers <= 0 {
		return errorc.With(ErrInvalid, errorc.String("queue.workers", "must be > 0"))
	}
	if f.Demo.Producers < 0 {
		return errorc.With(ErrInvalid, errorc.String("demo.producers", "must be >= 0"))
	}
	if f.Demo.Items < 0 {
		return errorc.With(ErrInvalid, errorc.String("demo.items", "must be >= 0"))
	}
	if f.Demo.GenerateDelay < 0 || f.Demo.CPUDelay < 0 || f.Demo.IODelay < 0 || f.HTTP.JobDelay < 0 {
		return errorc.With(ErrInvalid, errorc.String("delay", "must be >= 0"))
	}
	if f.Mode == ModeServe && f.HTTP.Addr == "" {
		return errorc.With(ErrInvalid, errorc.String("http.addr", "must be set in serve mode"))
	}
	return nil
}

// Duration is a time.Duration read from strings like "1.5s" in both YAML and JSON.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(v)
	return nil
}
