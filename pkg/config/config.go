// Package config loads and validates Forseti configuration.
//
// Configuration covers the numeric tables consumed by the authority
// calculator (treatment modifiers, court-level weights, jurisdiction
// alignment, recency half-life), the redaction profiles consumed by export,
// and engine limits. It is loaded from a YAML file, with environment
// variable overrides for the engine limits, and handed to the cores as
// plain validated structures - the engine and calculator never read the
// environment themselves.
//
// Any malformed table fails Validate before the engine starts. Fail fast,
// never silently default a half-written table.
//
// Environment Variables:
//
//	FORSETI_MAX_TIMESTEPS  - step budget (default 100)
//	FORSETI_PARALLELISM    - worker cap inside a timestep (default NumCPU)
//	FORSETI_CONFIG         - path to the YAML config file
//
// Example YAML:
//
//	authority:
//	  recency_half_life: 87600h
//	  recency_floor: 0.10
//	  treatment:
//	    FOLLOWED: 1.0
//	    DISTINGUISHED: 0.7
//	    CRITICIZED: 0.45
//	    QUESTIONED: 0.3
//	    OVERRULED: 0.05
//	  court:
//	    HIGHEST: 1.0
//	    INTERMEDIATE: 0.89
//	    TRIAL: 0.78
//	  alignment:
//	    EXACT: 1.0
//	    ANCESTOR: 0.85
//	    SIBLING: 0.6
//	    FOREIGN: 0.35
//	profiles:
//	  - name: court-filing
//	    include_derivations: true
//	    truncate_len: 12
//	    fields:
//	      derivations.premises.label: hash
//	engine:
//	  max_timesteps: 200
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/forseti/pkg/authority"
	"github.com/orneryd/forseti/pkg/export"
)

// Config is the top-level Forseti configuration.
type Config struct {
	Authority AuthorityConfig `yaml:"authority"`
	Profiles  []ProfileConfig `yaml:"profiles"`
	Engine    EngineConfig    `yaml:"engine"`
}

// AuthorityConfig is the YAML form of authority.Tables.
type AuthorityConfig struct {
	RecencyHalfLife time.Duration      `yaml:"recency_half_life"`
	RecencyFloor    float64            `yaml:"recency_floor"`
	Treatment       map[string]float64 `yaml:"treatment"`
	Court           map[string]float64 `yaml:"court"`
	Alignment       map[string]float64 `yaml:"alignment"`
}

// ProfileConfig is the YAML form of an export.Profile.
type ProfileConfig struct {
	Name               string            `yaml:"name"`
	IncludeDerivations bool              `yaml:"include_derivations"`
	TruncateLen        int               `yaml:"truncate_len"`
	Fields             map[string]string `yaml:"fields"`
}

// EngineConfig holds engine limits.
type EngineConfig struct {
	MaxTimesteps int `yaml:"max_timesteps"`
	Parallelism  int `yaml:"parallelism"`
}

// Default returns the baseline configuration: default authority tables, the
// built-in export profiles only, a 100-step budget.
func Default() *Config {
	t := authority.DefaultTables()
	cfg := &Config{
		Engine: EngineConfig{MaxTimesteps: 100},
	}
	cfg.Authority = AuthorityConfig{
		RecencyHalfLife: t.RecencyHalfLife,
		RecencyFloor:    t.RecencyFloor,
		Treatment:       make(map[string]float64, len(t.Treatment)),
		Court:           make(map[string]float64, len(t.Court)),
		Alignment:       make(map[string]float64, len(t.Alignment)),
	}
	for k, v := range t.Treatment {
		cfg.Authority.Treatment[string(k)] = v
	}
	for k, v := range t.Court {
		cfg.Authority.Court[string(k)] = v
	}
	for k, v := range t.Alignment {
		cfg.Authority.Alignment[string(k)] = v
	}
	return cfg
}

// LoadFile reads a YAML config file. Missing sections fall back to
// defaults; present tables replace the default wholesale so a half-written
// table is caught by Validate rather than papered over by merging.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()
	if raw.Authority.RecencyHalfLife != 0 {
		cfg.Authority.RecencyHalfLife = raw.Authority.RecencyHalfLife
	}
	if raw.Authority.RecencyFloor != 0 {
		cfg.Authority.RecencyFloor = raw.Authority.RecencyFloor
	}
	if len(raw.Authority.Treatment) > 0 {
		cfg.Authority.Treatment = raw.Authority.Treatment
	}
	if len(raw.Authority.Court) > 0 {
		cfg.Authority.Court = raw.Authority.Court
	}
	if len(raw.Authority.Alignment) > 0 {
		cfg.Authority.Alignment = raw.Authority.Alignment
	}
	if len(raw.Profiles) > 0 {
		cfg.Profiles = raw.Profiles
	}
	if raw.Engine.MaxTimesteps != 0 {
		cfg.Engine.MaxTimesteps = raw.Engine.MaxTimesteps
	}
	if raw.Engine.Parallelism != 0 {
		cfg.Engine.Parallelism = raw.Engine.Parallelism
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromEnv returns the default configuration with environment overrides
// applied, optionally loading FORSETI_CONFIG first.
func LoadFromEnv() (*Config, error) {
	if path := os.Getenv("FORSETI_CONFIG"); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FORSETI_MAX_TIMESTEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.MaxTimesteps = n
		}
	}
	if v := os.Getenv("FORSETI_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.Parallelism = n
		}
	}
}

// Validate checks the whole configuration. All failures are fatal at load
// time - an invalid table must never reach a run.
func (c *Config) Validate() error {
	if _, err := c.AuthorityTables(); err != nil {
		return err
	}
	if _, err := c.ProfileRegistry(); err != nil {
		return err
	}
	if c.Engine.MaxTimesteps <= 0 {
		return fmt.Errorf("engine.max_timesteps must be positive, got %d", c.Engine.MaxTimesteps)
	}
	return nil
}

// AuthorityTables converts and validates the authority section.
func (c *Config) AuthorityTables() (*authority.Tables, error) {
	t := &authority.Tables{
		RecencyHalfLife: c.Authority.RecencyHalfLife,
		RecencyFloor:    c.Authority.RecencyFloor,
		Treatment:       make(map[authority.Treatment]float64, len(c.Authority.Treatment)),
		Court:           make(map[authority.CourtLevel]float64, len(c.Authority.Court)),
		Alignment:       make(map[authority.Alignment]float64, len(c.Authority.Alignment)),
	}
	for k, v := range c.Authority.Treatment {
		t.Treatment[authority.Treatment(k)] = v
	}
	for k, v := range c.Authority.Court {
		t.Court[authority.CourtLevel(k)] = v
	}
	for k, v := range c.Authority.Alignment {
		t.Alignment[authority.Alignment(k)] = v
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ProfileRegistry builds the export registry: built-ins plus every
// configured profile, validated.
func (c *Config) ProfileRegistry() (*export.Registry, error) {
	reg := export.NewRegistry()
	for _, p := range c.Profiles {
		profile := export.Profile{
			Name:               p.Name,
			IncludeDerivations: p.IncludeDerivations,
			TruncateLen:        p.TruncateLen,
		}
		if len(p.Fields) > 0 {
			profile.Fields = make(map[string]export.Action, len(p.Fields))
			for path, action := range p.Fields {
				profile.Fields[path] = export.Action(action)
			}
		}
		if err := reg.Register(profile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
