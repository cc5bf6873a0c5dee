// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML configuration consumed by the
// graph-builder and policy-engine services. Both services share one file
// format; each reads only its own section plus the common rollout defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for values like "5m" or
// "168h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SourceConfig locates the release metadata object store.
type SourceConfig struct {
	// Bucket is the object store bucket holding per-stream release indexes.
	Bucket string `yaml:"bucket" validate:"required"`

	// Prefix is the object path prefix in front of "<stream>/releases.json"
	// and "<stream>/updates.json".
	Prefix string `yaml:"prefix"`

	// CredentialsFile is an optional service account key path. When empty
	// the bucket is read anonymously (public release buckets).
	CredentialsFile string `yaml:"credentials_file"`

	// RequestsPerSecond bounds scrapes against the object store across all
	// refresh loops. Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// BuilderConfig configures the graph-builder service.
type BuilderConfig struct {
	Listen          string       `yaml:"listen" validate:"required"`
	Streams         []string     `yaml:"streams" validate:"required,min=1"`
	Basearches      []string     `yaml:"basearches" validate:"required,min=1"`
	RefreshInterval Duration     `yaml:"refresh_interval"`
	FetchTimeout    Duration     `yaml:"fetch_timeout"`
	Source          SourceConfig `yaml:"source"`
}

// EngineConfig configures the policy-engine service.
type EngineConfig struct {
	Listen        string   `yaml:"listen" validate:"required"`
	Upstreams     []string `yaml:"upstreams" validate:"required,min=1,dive,url"`
	Streams       []string `yaml:"streams" validate:"required,min=1"`
	Basearches    []string `yaml:"basearches" validate:"required,min=1"`
	FetchInterval Duration `yaml:"fetch_interval"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`

	// StaleThreshold is how old a mirror entry may grow before the service
	// reports it unhealthy. Staleness is never a client-visible error; the
	// last known good graph keeps being served.
	StaleThreshold Duration `yaml:"stale_threshold"`
}

// RolloutConfig carries the rollout defaults shared by both services.
type RolloutConfig struct {
	// DefaultDuration applies to rollout ramps that do not specify their
	// own duration.
	DefaultDuration Duration `yaml:"default_duration"`
}

// Config is the full configuration file.
type Config struct {
	Builder BuilderConfig `yaml:"builder"`
	Engine  EngineConfig  `yaml:"engine"`
	Rollout RolloutConfig `yaml:"rollout"`
}

// Defaults applied when the file omits optional settings.
const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultFetchInterval   = 1 * time.Minute
	DefaultFetchTimeout    = 30 * time.Second
	DefaultStaleThreshold  = 30 * time.Minute
	DefaultRampDuration    = 7 * 24 * time.Hour
)

// Load reads, defaults, and validates a configuration file. section selects
// which service section must be complete ("builder" or "engine").
func Load(path, section string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	v := validator.New()
	switch section {
	case "builder":
		if err := v.Struct(cfg.Builder); err != nil {
			return nil, fmt.Errorf("invalid builder config: %w", err)
		}
		if err := validateScopes(cfg.Builder.Streams, cfg.Builder.Basearches); err != nil {
			return nil, err
		}
	case "engine":
		if err := v.Struct(cfg.Engine); err != nil {
			return nil, fmt.Errorf("invalid engine config: %w", err)
		}
		if err := validateScopes(cfg.Engine.Streams, cfg.Engine.Basearches); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown config section %q", section)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued optional settings.
func (c *Config) applyDefaults() {
	if c.Builder.RefreshInterval == 0 {
		c.Builder.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.Builder.FetchTimeout == 0 {
		c.Builder.FetchTimeout = Duration(DefaultFetchTimeout)
	}
	if c.Engine.FetchInterval == 0 {
		c.Engine.FetchInterval = Duration(DefaultFetchInterval)
	}
	if c.Engine.FetchTimeout == 0 {
		c.Engine.FetchTimeout = Duration(DefaultFetchTimeout)
	}
	if c.Engine.StaleThreshold == 0 {
		c.Engine.StaleThreshold = Duration(DefaultStaleThreshold)
	}
	if c.Rollout.DefaultDuration == 0 {
		c.Rollout.DefaultDuration = Duration(DefaultRampDuration)
	}
}

// Scopes expands a streams x basearches cross product into scope keys.
func Scopes(streams, basearches []string) []scope.Scope {
	scopes := make([]scope.Scope, 0, len(streams)*len(basearches))
	for _, stream := range streams {
		for _, basearch := range basearches {
			scopes = append(scopes, scope.Scope{Stream: stream, Basearch: basearch})
		}
	}
	return scopes
}

func validateScopes(streams, basearches []string) error {
	for _, s := range Scopes(streams, basearches) {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid scope in config: %w", err)
		}
	}
	return nil
}
