package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rescp17/devicediscovery/pkg/discovery"
)

var ErrEmptyConfig = errors.New("configuration file is empty")

// fileConfig is the optional YAML file given with --config. Keys mirror the
// command line flags; flags given explicitly win.
type fileConfig struct {
	Name            string        `yaml:"name"`
	Port            *int          `yaml:"port"`
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	CacheDir        string        `yaml:"cache_dir"`
	Inbox           string        `yaml:"inbox"`
	Index           string        `yaml:"index"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// options holds the resolved global settings of one invocation.
type options struct {
	configPath      string
	name            string
	port            int
	verbose         bool
	logFile         string
	cacheDir        string
	inbox           string
	index           string
	shutdownTimeout time.Duration

	logCloser io.Closer
}

func loadConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(data) == 0 {
		return fc, fmt.Errorf("%w: %s", ErrEmptyConfig, path)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return fc, nil
}

// merge copies file values into o for every flag the user did not set.
func (o *options) merge(fc fileConfig, flags *pflag.FlagSet) {
	set := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if fc.Name != "" && !set("name") {
		o.name = fc.Name
	}
	if fc.Port != nil && !set("port") {
		o.port = *fc.Port
	}
	if fc.Verbose && !set("verbose") {
		o.verbose = true
	}
	if fc.LogFile != "" && !set("log-file") {
		o.logFile = fc.LogFile
	}
	if fc.CacheDir != "" && !set("cache-dir") {
		o.cacheDir = fc.CacheDir
	}
	if fc.Inbox != "" && !set("inbox") {
		o.inbox = fc.Inbox
	}
	if fc.Index != "" && !set("index") {
		o.index = fc.Index
	}
	if fc.ShutdownTimeout > 0 && !set("shutdown-timeout") {
		o.shutdownTimeout = fc.ShutdownTimeout
	}
}

// setupLogging installs the default slog logger. The dnssd library logs
// only in verbose mode.
func (o *options) setupLogging(stderr io.Writer) error {
	out := stderr
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		o.logCloser = f
		out = f
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
		discovery.SetLibraryLogOutput(out)
	} else {
		discovery.SetLibraryLogOutput(io.Discard)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

func (o *options) closeLog() {
	if o.logCloser == nil {
		return
	}
	if err := o.logCloser.Close(); err != nil {
		slog.Warn("failed to close log file", "error", err)
	}
	o.logCloser = nil
}
