package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MehulG/agent-ctrl/pkg/policy"
	"github.com/MehulG/agent-ctrl/pkg/risk"
)

// LoadServers reads and validates servers.yaml.
func LoadServers(path string) (*ServersConfig, error) {
	var cfg ServersConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid servers config %q: %w", path, err)
	}
	return &cfg, nil
}

// LoadPolicy reads and validates policy.yaml.
func LoadPolicy(path string) (*policy.Config, error) {
	var cfg policy.Config
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config %q: %w", path, err)
	}
	return &cfg, nil
}

// LoadRisk reads and validates risk.yaml.
func LoadRisk(path string) (*risk.Config, error) {
	var root risk.RootConfig
	if err := loadYAML(path, &root); err != nil {
		return nil, err
	}
	if err := root.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config %q: %w", path, err)
	}
	return &root.Risk, nil
}

// loadYAML reads a file and decodes it strictly: unknown fields are
// config mistakes, not extensions.
func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return nil
}
