// Package config loads run settings from defaults, a YAML file, a .env file,
// the environment and finally the command line
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"imgcompare/retrieval"
)

// EnvPrefix prefixes every environment variable, e.g. IMGCOMPARE_WORKERS
const EnvPrefix = "IMGCOMPARE"

// Config validation errors
var (
	ErrInvalidWorkers        = errors.New("workers cannot be negative")
	ErrInvalidSize           = errors.New("size must be positive")
	ErrInvalidWidth          = errors.New("width must be positive")
	ErrInvalidThreshold      = errors.New("threshold must be in [0,1]")
	ErrInvalidMaxDescriptors = errors.New("max_descriptors cannot be negative")
	ErrInvalidOutputDir      = errors.New("output_dir cannot be empty")
	ErrInvalidLogLevel       = errors.New("log_level must be debug, info, warn, or error")
)

// Config holds the settings shared by all commands
type Config struct {
	Workers        int     `envconfig:"WORKERS" yaml:"workers"`
	Size           int     `envconfig:"SIZE" yaml:"size"`
	Width          int     `envconfig:"WIDTH" yaml:"width"`
	Threshold      float64 `envconfig:"THRESHOLD" yaml:"threshold"`
	MaxDescriptors int     `envconfig:"MAX_DESCRIPTORS" yaml:"max_descriptors"`
	OutputDir      string  `envconfig:"OUTPUT_DIR" yaml:"output_dir"`
	Database       string  `envconfig:"DATABASE" yaml:"database"`
	MetricsAddr    string  `envconfig:"METRICS_ADDR" yaml:"metrics_addr"`
	LogFile        string  `envconfig:"LOG_FILE" yaml:"log_file"`
	LogLevel       string  `envconfig:"LOG_LEVEL" yaml:"log_level"`
	Color          bool    `envconfig:"COLOR" yaml:"color"`
	Echo           bool    `envconfig:"ECHO" yaml:"echo"`
	Exif           bool    `envconfig:"EXIF" yaml:"exif"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Workers:   0, // GOMAXPROCS
		Size:      512,
		Width:     512,
		Threshold: retrieval.DefaultThreshold,
		OutputDir: "output",
		LogLevel:  "info",
		Color:     true,
	}
}

// Load builds the configuration. Later sources override earlier ones:
// defaults, then file (YAML, optional), then variables from envFile
// (optional) and the process environment.
func Load(file, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading configuration file %s: %v", file, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing configuration file %s: %v", file, err)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("error loading env file %s: %v", envFile, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	return &cfg, nil
}

// ApplyFlags overrides settings with command-line flags as returned by
// utils.ParseArguments
func (c *Config) ApplyFlags(args map[string]string) error {
	ints := map[string]*int{
		"workers":         &c.Workers,
		"size":            &c.Size,
		"width":           &c.Width,
		"max-descriptors": &c.MaxDescriptors,
	}
	for name, dst := range ints {
		v, ok := args[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid --%s value %q: %w", name, v, err)
		}
		*dst = n
	}

	if v, ok := args["threshold"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid --threshold value %q: %w", v, err)
		}
		c.Threshold = f
	}

	strs := map[string]*string{
		"out":          &c.OutputDir,
		"db":           &c.Database,
		"database":     &c.Database,
		"metrics-addr": &c.MetricsAddr,
		"logfile":      &c.LogFile,
	}
	for name, dst := range strs {
		if v, ok := args[name]; ok && v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"echo":     &c.Echo,
		"exif":     &c.Exif,
		"no-color": nil,
	}
	for name, dst := range bools {
		v, ok := args[name]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid --%s value %q: %w", name, v, err)
		}
		if dst == nil {
			c.Color = !b
			continue
		}
		*dst = b
	}

	if _, ok := args["debug"]; ok {
		c.LogLevel = "debug"
	}
	return nil
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return ErrInvalidWorkers
	}
	if c.Size <= 0 {
		return ErrInvalidSize
	}
	if c.Width <= 0 {
		return ErrInvalidWidth
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return ErrInvalidThreshold
	}
	if c.MaxDescriptors < 0 {
		return ErrInvalidMaxDescriptors
	}
	if c.OutputDir == "" {
		return ErrInvalidOutputDir
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}
