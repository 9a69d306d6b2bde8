package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meigma/psarc"
)

// Config is the optional YAML configuration for the psarc command.
// Command-line flags take precedence over values loaded from a file.
type Config struct {
	// Output is the directory entries are unpacked into.
	Output string `yaml:"output"`

	// Workers bounds parallel extraction. Zero uses GOMAXPROCS,
	// a negative value extracts serially.
	Workers int `yaml:"workers"`

	// Overwrite replaces files that already exist in Output.
	Overwrite bool `yaml:"overwrite"`

	// Raw lists doublestar patterns for entries stored without compression.
	// Setting Raw or Always replaces the built-in policy.
	Raw []string `yaml:"raw"`

	// Always lists patterns that are decompressed even when Raw matches.
	Always []string `yaml:"always"`

	// Include restricts unpacking to paths matching any pattern.
	Include []string `yaml:"include"`
}

func defaultConfig() Config {
	return Config{Output: "unpacked"}
}

// loadConfig reads a YAML file over the defaults. Unknown keys are rejected.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.policy().Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) customPolicy() bool {
	return len(c.Raw) > 0 || len(c.Always) > 0
}

func (c Config) policy() psarc.PatternPolicy {
	return psarc.PatternPolicy{Raw: c.Raw, Always: c.Always}
}
