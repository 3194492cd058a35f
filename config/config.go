// Package config loads and validates surgecache configuration files.
//
// Both TOML and YAML are accepted, dispatched on file extension. The loaded
// file resolves to a Plan: a global key prefix, a default profile, and
// per-model profiles. The model name "*" is a wildcard consulted before the
// default, mirroring how profiles cascade.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	surgecache "github.com/surgecache/surgecache"
)

// ProfileConfig mirrors one model profile in the file. Durations are strings
// in time.ParseDuration form.
type ProfileConfig struct {
	TTL             string   `toml:"ttl" yaml:"ttl"`
	Ops             []string `toml:"ops" yaml:"ops"`
	Lock            bool     `toml:"lock" yaml:"lock"`
	LockTimeout     string   `toml:"lock_timeout" yaml:"lock_timeout"`
	MaxConjunctions int      `toml:"max_conjunctions" yaml:"max_conjunctions"`
	BulkDegradeRows int      `toml:"bulk_degrade_rows" yaml:"bulk_degrade_rows"`
	IndexableFields []string `toml:"indexable_fields" yaml:"indexable_fields"`
}

// Config mirrors the expected file schema.
type Config struct {
	Prefix   string                   `toml:"prefix" yaml:"prefix"`
	Defaults ProfileConfig            `toml:"defaults" yaml:"defaults"`
	Models   map[string]ProfileConfig `toml:"models" yaml:"models"`
}

// Plan is the fully-resolved configuration used to build an engine.
type Plan struct {
	Prefix   string
	Defaults surgecache.Profile
	Models   map[string]surgecache.Profile
}

// Options returns the engine options the plan amounts to.
func (p Plan) Options() []surgecache.Option {
	opts := []surgecache.Option{
		surgecache.WithPrefix(p.Prefix),
		surgecache.WithDefaultProfile(p.Defaults),
	}
	if len(p.Models) > 0 {
		opts = append(opts, surgecache.WithProfiles(p.Models))
	}
	return opts
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict turns unknown-key warnings into errors.
	Strict bool
}

// Result wraps a loaded plan alongside any non-fatal warnings.
type Result struct {
	Plan     Plan
	Warnings []string
}

// Load reads, validates, and resolves a configuration file. The format is
// chosen by extension: .toml, .yaml or .yml.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		unknown, err := collectUnknownKeys(data)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		if len(unknown) > 0 {
			slices.Sort(unknown)
			message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknown, ", "))
			if opts.Strict {
				return res, errors.New(message)
			}
			res.Warnings = append(res.Warnings, message)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		if opts.Strict {
			dec.KnownFields(true)
		}
		if err := dec.Decode(&cfg); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return res, fmt.Errorf("%s: unsupported config extension %q", path, ext)
	}

	defaults, err := resolveProfile(path, "defaults", cfg.Defaults)
	if err != nil {
		return res, err
	}

	models := make(map[string]surgecache.Profile, len(cfg.Models))
	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			return res, fmt.Errorf("%s: model profile with empty name", path)
		}
		prof, err := resolveProfile(path, "models."+name, cfg.Models[name])
		if err != nil {
			return res, err
		}
		models[name] = prof
	}

	res.Plan = Plan{
		Prefix:   cfg.Prefix,
		Defaults: defaults,
		Models:   models,
	}
	return res, nil
}

func resolveProfile(path, section string, pc ProfileConfig) (surgecache.Profile, error) {
	var p surgecache.Profile

	ttl, err := resolveDuration(path, section+".ttl", pc.TTL)
	if err != nil {
		return p, err
	}
	lockTimeout, err := resolveDuration(path, section+".lock_timeout", pc.LockTimeout)
	if err != nil {
		return p, err
	}
	for _, op := range pc.Ops {
		switch op {
		case surgecache.OpFetch, surgecache.OpGet, surgecache.OpCount, surgecache.OpExists:
		default:
			return p, fmt.Errorf("%s: %s.ops: unknown operation %q", path, section, op)
		}
	}

	p = surgecache.Profile{
		TTL:             ttl,
		Ops:             pc.Ops,
		Lock:            pc.Lock,
		LockTimeout:     lockTimeout,
		MaxConjunctions: pc.MaxConjunctions,
		BulkDegradeRows: pc.BulkDegradeRows,
		IndexableFields: pc.IndexableFields,
	}
	return p, nil
}

func resolveDuration(path, field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", path, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %s must not be negative", path, field)
	}
	return d, nil
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := map[string]struct{}{
		"prefix":   {},
		"defaults": {},
		"models":   {},
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}
