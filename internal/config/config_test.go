package config

import (
	"bytes"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, env(nil))
	require.NoError(t, err)

	testDir, _ := filepath.Abs(filepath.Join("tests", "nasm"))
	assert.Equal(t, testDir, cfg.TestDir)
	assert.Equal(t, filepath.Join(testDir, "build"), cfg.BuildDir)
	assert.Equal(t, filepath.Join(testDir, "gdb-extract-def"), cfg.Script)
	assert.Equal(t, "gdb", cfg.Debugger)
	assert.Equal(t, 32, cfg.MaxWorkers)
	assert.False(t, cfg.Verbose)
	assert.True(t, cfg.CancelOnFailure)
	assert.Equal(t, DefaultGrace, cfg.Grace)
	assert.Equal(t, RuntimeExec, cfg.Runtime)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Empty(t, cfg.HistoryDB)
}

func TestLoad_Environment(t *testing.T) {
	cfg, err := Load(nil, env(map[string]string{
		"DEBUG":                    "1",
		"MAX_PARALLEL_PROCS":       "4",
		"FIXGEN_TEST_DIR":          "/src/tests/nasm",
		"FIXGEN_DEBUGGER":          "/usr/bin/gdb-multiarch",
		"FIXGEN_CANCEL_ON_FAILURE": "false",
		"FIXGEN_GRACE":             "250ms",
		"FIXGEN_HISTORY_DB":        "/tmp/history.db",
		"FIXGEN_CPUS":              "6",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Verbose)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, "/src/tests/nasm/build", cfg.BuildDir)
	assert.Equal(t, "/src/tests/nasm/gdb-extract-def", cfg.Script)
	assert.Equal(t, "/usr/bin/gdb-multiarch", cfg.Debugger)
	assert.False(t, cfg.CancelOnFailure)
	assert.Equal(t, 250*time.Millisecond, cfg.Grace)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryDB)
	assert.Equal(t, 6, cfg.AvailableCPUs)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	cfg, err := Load([]string{"-j", "2", "-build-dir", "/out", "-v=false", "-log-format", "json"},
		env(map[string]string{"MAX_PARALLEL_PROCS": "8", "DEBUG": "yes"}))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, "/out", cfg.BuildDir)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestLoad_DebugValues(t *testing.T) {
	tests := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"true":  true,
		"yes":   true,
		"gdb":   true,
	}
	for value, want := range tests {
		t.Run(value, func(t *testing.T) {
			cfg, err := Load(nil, env(map[string]string{"DEBUG": value}))
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Verbose)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		env   map[string]string
		field string
	}{
		{"non-numeric ceiling", nil, map[string]string{"MAX_PARALLEL_PROCS": "many"}, "MAX_PARALLEL_PROCS"},
		{"zero ceiling", nil, map[string]string{"MAX_PARALLEL_PROCS": "0"}, "max workers"},
		{"negative flag ceiling", []string{"-j", "-3"}, nil, "max workers"},
		{"negative cpus", []string{"-cpus", "-2"}, nil, "cpus"},
		{"bad cpus env", nil, map[string]string{"FIXGEN_CPUS": "lots"}, "FIXGEN_CPUS"},
		{"bad grace", nil, map[string]string{"FIXGEN_GRACE": "soon"}, "FIXGEN_GRACE"},
		{"negative grace", []string{"-grace", "-1s"}, nil, "grace"},
		{"zero grace", []string{"-grace", "0s"}, nil, "grace"},
		{"zero grace env", nil, map[string]string{"FIXGEN_GRACE": "0"}, "grace"},
		{"unknown runtime", []string{"-runtime", "podman"}, nil, "runtime"},
		{"docker without image", []string{"-runtime", "docker"}, nil, "image"},
		{"unknown log format", []string{"-log-format", "xml"}, nil, "log format"},
		{"positional argument", []string{"extra"}, nil, "argument"},
		{"bad cancel flag", nil, map[string]string{"FIXGEN_CANCEL_ON_FAILURE": "maybe"}, "FIXGEN_CANCEL_ON_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, env(tt.env))
			require.Error(t, err)
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_DockerRuntime(t *testing.T) {
	cfg, err := Load([]string{"-runtime", "docker", "-image", "v86/gdb:latest"}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, RuntimeDocker, cfg.Runtime)
	assert.Equal(t, "v86/gdb:latest", cfg.Image)
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"-h"}, env(nil))

	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestUsage(t *testing.T) {
	var buf bytes.Buffer
	Usage(&buf)

	assert.Contains(t, buf.String(), "-build-dir")
	assert.Contains(t, buf.String(), "MAX_PARALLEL_PROCS")
}
