// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the daemon's TOML configuration: the required
// [input], [output] and [route] sections plus the ambient [logging],
// [chunk_table] and [stats] sections every deployed instance carries.
// Output sections are type-specific (an S3 output and an Elasticsearch
// output share nothing but "type" and the generic batching keys), so
// each is decoded in two passes: common fields up front, then the
// type-specific remainder deferred as a toml.Primitive and decoded
// later by the sink package that owns that shape — the same
// defer-then-decode idiom BurntSushi/toml documents for exactly this
// kind of polymorphic table.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// InputConfig is one [input.<name>] binding.
type InputConfig struct {
	URL        string `toml:"url"`
	BufferSize int    `toml:"buffer_size"`
}

// OutputSpec is one [output.<name>] entry: the fields common to every
// sink type, plus the undecoded remainder for the adapter-specific
// keys (host, bucket, region, repo, ...).
type OutputSpec struct {
	Name          string
	Type          string `toml:"type"`
	BufferMax     int    `toml:"buffer_max"`
	BatchSecs     int    `toml:"batch_secs"`
	BatchMaxSize  int64  `toml:"batch_max_size"`
	Raw           toml.Primitive
}

// RouteConfig is one [route.<name>] edge.
type RouteConfig struct {
	Input       string `toml:"input"`
	Output      string `toml:"output"`
	IfHasField  string `toml:"if_has_field"`
}

// LoggingConfig configures the daemon's structured logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// ChunkTableConfig tunes incomplete-message eviction.
type ChunkTableConfig struct {
	TTL          time.Duration `toml:"ttl"`
	ReapInterval time.Duration `toml:"reap_interval"`
	MaxEntries   int           `toml:"max_entries"`
}

// StatsConfig tunes the periodic counters log.
type StatsConfig struct {
	Interval time.Duration `toml:"interval"`
}

// Config is the fully parsed and defaulted daemon configuration.
type Config struct {
	Input      map[string]InputConfig
	Output     map[string]OutputSpec
	Route      map[string]RouteConfig
	Logging    LoggingConfig
	ChunkTable ChunkTableConfig
	Stats      StatsConfig

	meta toml.MetaData
}

// DecodeOutput decodes an output's type-specific remainder into dst,
// which should be a pointer to the sink package's own Config type.
func (c *Config) DecodeOutput(name string, dst interface{}) error {
	spec, ok := c.Output[name]
	if !ok {
		return fmt.Errorf("config: unknown output %q", name)
	}
	return c.meta.PrimitiveDecode(spec.Raw, dst)
}

type rawConfig struct {
	Input      map[string]InputConfig    `toml:"input"`
	Output     map[string]toml.Primitive `toml:"output"`
	Route      map[string]RouteConfig    `toml:"route"`
	Logging    LoggingConfig             `toml:"logging"`
	ChunkTable ChunkTableConfig          `toml:"chunk_table"`
	Stats      StatsConfig               `toml:"stats"`
}

var envPattern = regexp.MustCompile(`\$\{ENV:([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes every ${ENV:VARNAME} occurrence with the named
// environment variable's value before the TOML is parsed.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads and validates the daemon configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	data = expandEnv(data)

	var raw rawConfig
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := &Config{
		Input:      raw.Input,
		Output:     make(map[string]OutputSpec, len(raw.Output)),
		Route:      raw.Route,
		Logging:    raw.Logging,
		ChunkTable: raw.ChunkTable,
		Stats:      raw.Stats,
		meta:       meta,
	}
	for name, prim := range raw.Output {
		var spec OutputSpec
		if err := meta.PrimitiveDecode(prim, &spec); err != nil {
			return nil, fmt.Errorf("config: decoding output %q: %w", name, err)
		}
		spec.Name = name
		spec.Raw = prim
		cfg.Output[name] = spec
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Input) == 0 {
		return fmt.Errorf("at least one [input.<name>] section is required")
	}
	for name, in := range c.Input {
		if in.URL == "" {
			return fmt.Errorf("input.%s.url is required", name)
		}
		if in.BufferSize <= 0 {
			in.BufferSize = 8192
			c.Input[name] = in
		}
	}

	if len(c.Output) == 0 {
		return fmt.Errorf("at least one [output.<name>] section is required")
	}
	for name, out := range c.Output {
		if out.Type == "" {
			return fmt.Errorf("output.%s.type is required", name)
		}
		switch out.Type {
		case "s3", "es", "stdout", "postgres", "pachyderm":
		default:
			return fmt.Errorf("output.%s.type %q is not a recognized sink type", name, out.Type)
		}
		if out.BufferMax <= 0 {
			if out.Type == "postgres" {
				out.BufferMax = 1_000_000
			} else {
				out.BufferMax = 10000
			}
			c.Output[name] = out
		}
	}

	if len(c.Route) == 0 {
		return fmt.Errorf("at least one [route.<name>] section is required")
	}
	for name, r := range c.Route {
		if r.Input == "" {
			return fmt.Errorf("route.%s.input is required", name)
		}
		if r.Output == "" {
			return fmt.Errorf("route.%s.output is required", name)
		}
		if _, ok := c.Input[r.Input]; !ok {
			return fmt.Errorf("route.%s.input references unknown input %q", name, r.Input)
		}
		if _, ok := c.Output[r.Output]; !ok {
			return fmt.Errorf("route.%s.output references unknown output %q", name, r.Output)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.ChunkTable.TTL <= 0 {
		c.ChunkTable.TTL = 60 * time.Second
	}
	if c.ChunkTable.ReapInterval <= 0 {
		c.ChunkTable.ReapInterval = 10 * time.Second
	}
	if c.Stats.Interval <= 0 {
		c.Stats.Interval = 15 * time.Second
	}
	return nil
}
