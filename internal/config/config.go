package config

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Runtime selects where workers run.
type Runtime string

const (
	RuntimeExec   Runtime = "exec"
	RuntimeDocker Runtime = "docker"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"

	DefaultMaxWorkers = 32
	DefaultGrace      = 5 * time.Second
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	TestDir  string
	BuildDir string
	Script   string
	Debugger string

	Verbose    bool
	MaxWorkers int
	// AvailableCPUs overrides the detected parallelism; zero means detect.
	AvailableCPUs   int
	CancelOnFailure bool
	Grace           time.Duration

	Runtime Runtime
	Image   string

	HistoryDB string
	LogFormat string
}

// Error reports an invalid setting.
type Error struct {
	Field  string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Default returns safe defaults. BuildDir and Script are derived from
// TestDir by Load when left empty.
func Default() Config {
	return Config{
		TestDir:         filepath.Join("tests", "nasm"),
		Debugger:        "gdb",
		MaxWorkers:      DefaultMaxWorkers,
		CancelOnFailure: true,
		Grace:           DefaultGrace,
		Runtime:         RuntimeExec,
		LogFormat:       LogFormatText,
	}
}

// Load builds the configuration from the environment, then lets command-line
// flags override it. flag.ErrHelp is returned for -h/-help.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := newFlagSet(&cfg)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, &Error{Field: "argument", Value: fs.Arg(0), Reason: "unexpected positional argument"}
	}

	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage writes the flag summary.
func Usage(w io.Writer) {
	cfg := Default()
	fs := newFlagSet(&cfg)
	fs.SetOutput(w)
	fmt.Fprint(w, `usage: gen-fixtures [flags]

Extracts a fixture from every <build-dir>/*.bin by running the debugger
over near-equal groups of binaries in parallel.

Environment: DEBUG, MAX_PARALLEL_PROCS, FIXGEN_* (one per flag).

flags:
`)
	fs.PrintDefaults()
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("gen-fixtures", flag.ContinueOnError)
	fs.StringVar(&cfg.TestDir, "test-dir", cfg.TestDir, "directory holding the extraction script and build dir")
	fs.StringVar(&cfg.BuildDir, "build-dir", cfg.BuildDir, "directory scanned for *.bin (default <test-dir>/build)")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "debugger command file (default <test-dir>/gdb-extract-def)")
	fs.StringVar(&cfg.Debugger, "debugger", cfg.Debugger, "debugger executable")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "relay worker output and log debugger command lines")
	fs.IntVar(&cfg.MaxWorkers, "j", cfg.MaxWorkers, "maximum number of workers run in parallel")
	fs.IntVar(&cfg.AvailableCPUs, "cpus", cfg.AvailableCPUs, "available parallelism (default: number of CPUs)")
	fs.BoolVar(&cfg.CancelOnFailure, "cancel-on-failure", cfg.CancelOnFailure, "stop remaining workers after the first failure")
	fs.DurationVar(&cfg.Grace, "grace", cfg.Grace, "time a cancelled worker gets between SIGTERM and SIGKILL")
	fs.Func("runtime", "worker runtime: exec or docker (default exec)", func(v string) error {
		cfg.Runtime = Runtime(v)
		return nil
	})
	fs.StringVar(&cfg.Image, "image", cfg.Image, "container image for the docker runtime")
	fs.StringVar(&cfg.HistoryDB, "history", cfg.HistoryDB, "DuckDB file recording batch history (disabled when empty)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	return fs
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setString(&c.TestDir, "FIXGEN_TEST_DIR")
	setString(&c.BuildDir, "FIXGEN_BUILD_DIR")
	setString(&c.Script, "FIXGEN_SCRIPT")
	setString(&c.Debugger, "FIXGEN_DEBUGGER")
	setString(&c.Image, "FIXGEN_IMAGE")
	setString(&c.HistoryDB, "FIXGEN_HISTORY_DB")
	setString(&c.LogFormat, "FIXGEN_LOG_FORMAT")

	if v := strings.TrimSpace(getenv("FIXGEN_RUNTIME")); v != "" {
		c.Runtime = Runtime(v)
	}

	c.Verbose = truthy(getenv("DEBUG"))

	if v := strings.TrimSpace(getenv("MAX_PARALLEL_PROCS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "MAX_PARALLEL_PROCS", Value: v, Reason: "not an integer"}
		}
		c.MaxWorkers = n
	}

	if v := strings.TrimSpace(getenv("FIXGEN_CPUS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "FIXGEN_CPUS", Value: v, Reason: "not an integer"}
		}
		c.AvailableCPUs = n
	}

	if v := strings.TrimSpace(getenv("FIXGEN_CANCEL_ON_FAILURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "FIXGEN_CANCEL_ON_FAILURE", Value: v, Reason: "not a boolean"}
		}
		c.CancelOnFailure = b
	}

	if v := strings.TrimSpace(getenv("FIXGEN_GRACE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Field: "FIXGEN_GRACE", Value: v, Reason: "not a duration"}
		}
		c.Grace = d
	}
	return nil
}

// finalize derives defaults, validates, and makes every path absolute so
// worker arguments do not depend on the worker's working directory.
func (c *Config) finalize() error {
	if c.BuildDir == "" {
		c.BuildDir = filepath.Join(c.TestDir, "build")
	}
	if c.Script == "" {
		c.Script = filepath.Join(c.TestDir, "gdb-extract-def")
	}

	switch {
	case c.MaxWorkers < 1:
		return &Error{Field: "max workers", Value: strconv.Itoa(c.MaxWorkers), Reason: "must be positive"}
	case c.AvailableCPUs < 0:
		return &Error{Field: "cpus", Value: strconv.Itoa(c.AvailableCPUs), Reason: "must not be negative"}
	case c.Grace <= 0:
		return &Error{Field: "grace", Value: c.Grace.String(), Reason: "must be positive"}
	case strings.TrimSpace(c.Debugger) == "":
		return &Error{Field: "debugger", Value: c.Debugger, Reason: "must not be empty"}
	}

	switch c.Runtime {
	case RuntimeExec:
	case RuntimeDocker:
		if c.Image == "" {
			return &Error{Field: "image", Value: c.Image, Reason: "required by the docker runtime"}
		}
	default:
		return &Error{Field: "runtime", Value: string(c.Runtime), Reason: "must be exec or docker"}
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return &Error{Field: "log format", Value: c.LogFormat, Reason: "must be text or json"}
	}

	for _, p := range []*string{&c.TestDir, &c.BuildDir, &c.Script} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// truthy treats any non-empty value as set, except explicit false values.
func truthy(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}
