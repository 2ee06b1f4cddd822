package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/job"
	"github.com/RobinTMiller/dt-sub002/pattern"
	"github.com/RobinTMiller/dt-sub002/supervisor"
	"github.com/RobinTMiller/dt-sub002/worker"
)

// duration wraps time.Duration with YAML "3s" / "2m30s" syntax.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

func (d duration) std() time.Duration { return time.Duration(d) }

// fileConfig is the top-level workload file schema.
type fileConfig struct {
	LogLevel        string      `yaml:"log_level"`
	PollInterval    duration    `yaml:"poll_interval"`
	TermWait        duration    `yaml:"term_wait"`
	NoProgress      duration    `yaml:"no_progress"`
	Keepalive       duration    `yaml:"keepalive"`
	ShutdownTimeout duration    `yaml:"shutdown_timeout"`
	Jobs            []jobConfig `yaml:"jobs"`
}

// deviceConfig describes one side of a workload.
type deviceConfig struct {
	Path      string `yaml:"path"`
	Mode      string `yaml:"mode"`       // write (default) or read
	PerThread bool   `yaml:"per_thread"` // append "-<thread>" to the path
	Sync      bool   `yaml:"sync"`       // fsync at each pass end
	BlockSize int64  `yaml:"block_size"`
	DataLimit int64  `yaml:"data_limit"`
	Seed      int64  `yaml:"seed"`    // 0 picks a time-based seed
	Pattern   string `yaml:"pattern"` // prng (default) or iot
}

// jobConfig describes one job to initiate.
type jobConfig struct {
	Tag      string        `yaml:"tag"`
	Workload string        `yaml:"workload"` // test (default), copy, mirror
	Threads  int           `yaml:"threads"`
	Device   deviceConfig  `yaml:"device"`
	Pair     *deviceConfig `yaml:"pair"`

	Verify    bool     `yaml:"verify"`
	Passes    int64    `yaml:"passes"`
	Unlimited bool     `yaml:"unlimited"`
	Errors    int64    `yaml:"error_limit"`
	Records   int64    `yaml:"records"`
	Runtime   duration `yaml:"runtime"`

	RetryLimit int      `yaml:"retry_limit"`
	RetryDelay duration `yaml:"retry_delay"`

	OpsPerSec   float64 `yaml:"ops_per_sec"`
	BytesPerSec float64 `yaml:"bytes_per_sec"`

	Disposition string `yaml:"disposition"` // keep (default), delete, keep-on-error
	StopOnFile  string `yaml:"stop_on_file"`
	Paused      bool   `yaml:"paused"`

	CheckInterval     duration `yaml:"check_interval"`
	TermWait          duration `yaml:"term_wait"`
	NoProgress        duration `yaml:"no_progress"`
	Keepalive         duration `yaml:"keepalive"`
	KeepaliveTemplate string   `yaml:"keepalive_template"`
	AbortOnError      bool     `yaml:"abort_on_error"`
}

// loadConfig reads and decodes a workload file. Unknown keys are
// rejected so typos surface immediately.
func loadConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Jobs) == 0 {
		return nil, fmt.Errorf("%s: no jobs defined", path)
	}
	return &cfg, nil
}

// engineConfig maps file-level settings onto the engine defaults.
func (c *fileConfig) engineConfig() dt.Config {
	cfg := dt.DefaultConfig()
	if d := c.PollInterval.std(); d > 0 {
		cfg.PollInterval = d
	}
	if d := c.TermWait.std(); d > 0 {
		cfg.TermWait = d
	}
	if d := c.NoProgress.std(); d > 0 {
		cfg.NoProgressThreshold = d
	}
	if d := c.Keepalive.std(); d > 0 {
		cfg.KeepaliveInterval = d
	}
	if d := c.ShutdownTimeout.std(); d > 0 {
		cfg.ShutdownTimeout = d
	}
	return cfg
}

func (d *deviceConfig) mode() (device.Mode, error) {
	switch d.Mode {
	case "", "write":
		return device.WriteMode, nil
	case "read":
		return device.ReadMode, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", d.Mode)
	}
}

func (j *jobConfig) disposition() (device.Disposition, error) {
	switch j.Disposition {
	case "", "keep":
		return device.KeepArtifacts, nil
	case "delete":
		return device.DeleteArtifacts, nil
	case "keep-on-error":
		return device.KeepOnError, nil
	default:
		return 0, fmt.Errorf("unknown disposition %q", j.Disposition)
	}
}

func (d *deviceConfig) patternFactory() (worker.PatternFactory, error) {
	switch d.Pattern {
	case "", "prng":
		return nil, nil // engine default
	case "iot":
		return func(seed int64, blockSize int64) pattern.Generator {
			return pattern.NewIOT(seed, blockSize)
		}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", d.Pattern)
	}
}

// template builds one side's device template.
func (j *jobConfig) template(d *deviceConfig) (*device.Template, error) {
	if d.Path == "" {
		return nil, fmt.Errorf("job %q: device path required", j.Tag)
	}
	mode, err := d.mode()
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", j.Tag, err)
	}
	disp, err := j.disposition()
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", j.Tag, err)
	}
	return &device.Template{
		Name:      d.Path,
		Mode:      mode,
		Seed:      d.Seed,
		BlockSize: d.BlockSize,
		DataLimit: d.DataLimit,
		Limits: device.Limits{
			Passes:    j.Passes,
			Errors:    j.Errors,
			Records:   j.Records,
			Runtime:   j.Runtime.std(),
			Unlimited: j.Unlimited,
		},
		Retry: device.Retry{
			Limit: j.RetryLimit,
			Delay: j.RetryDelay.std(),
		},
		Throttle: device.Throttle{
			OpsPerSec:   j.OpsPerSec,
			BytesPerSec: j.BytesPerSec,
		},
		Disposition: disp,
		Verify:      j.Verify,
		StopOnFile:  j.StopOnFile,
		Backend:     device.NewFileFactory(d.Path, d.Sync, d.PerThread),
	}, nil
}

// jobSpec converts one job entry into a supervisor spec.
func (j *jobConfig) jobSpec() (supervisor.JobSpec, error) {
	var spec supervisor.JobSpec

	tmpl, err := j.template(&j.Device)
	if err != nil {
		return spec, err
	}
	patterns, err := j.Device.patternFactory()
	if err != nil {
		return spec, fmt.Errorf("job %q: %w", j.Tag, err)
	}

	spec = supervisor.JobSpec{
		Template:      tmpl,
		Threads:       j.Threads,
		Tag:           j.Tag,
		Workload:      supervisor.Workload(j.Workload),
		InitialPaused: j.Paused,
		Patterns:      patterns,
		Tuning: job.Tuning{
			CheckInterval:     j.CheckInterval.std(),
			TermWait:          j.TermWait.std(),
			NoProgress:        j.NoProgress.std(),
			KeepaliveInterval: j.Keepalive.std(),
			KeepaliveTemplate: j.KeepaliveTemplate,
			Runtime:           j.Runtime.std(),
			AbortOnError:      j.AbortOnError,
		},
	}
	if j.Pair != nil {
		pair, perr := j.template(j.Pair)
		if perr != nil {
			return spec, perr
		}
		spec.PairTemplate = pair
	}
	return spec, nil
}
