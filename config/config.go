// Package config loads Parley configuration from YAML files.
//
// A file declares the agent identity, the store backend, kickstart and
// conversation-policy defaults, and per-group overrides. Defaults and
// overrides are merged once at load time (Load → Unmarshal → validate →
// normalize) into resolved kickstart.Config and conversation.Policy values;
// nothing re-reads the file at runtime.
//
// Durations are YAML strings parsed with time.ParseDuration:
//
//	agent_id: parley-bot
//	store:
//	  driver: sqlite
//	  path: ./parley.db
//	defaults:
//	  min_interval: 15m
//	  max_interval: 2h
//	  probability_factor: 0.3
//	groups:
//	  - id: general
//	    probability_factor: 0.5
//	  - id: incidents
//	    min_interval: 5m
//	    max_messages: 200
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/kickstart"
)

// Store driver names accepted in the store section.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StoreSettings selects the coordination store backend. An empty driver means
// the in-memory store.
type StoreSettings struct {
	Driver string `yaml:"driver,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// GroupSettings is the YAML shape of kickstart tuning plus conversation
// policy. Pointer fields distinguish "absent" from an explicit zero so
// per-group overrides merge over the defaults field by field.
type GroupSettings struct {
	ID                     string   `yaml:"id,omitempty"`
	MinInterval            *string  `yaml:"min_interval,omitempty"`
	MaxInterval            *string  `yaml:"max_interval,omitempty"`
	ProbabilityFactor      *float64 `yaml:"probability_factor,omitempty"`
	MaxActiveConversations *int     `yaml:"max_active_conversations,omitempty"`
	TagAgents              *bool    `yaml:"tag_agents,omitempty"`
	MaxAgentsToTag         *int     `yaml:"max_agents_to_tag,omitempty"`
	PersistConversations   *bool    `yaml:"persist_conversations,omitempty"`
	InactivityWindow       *string  `yaml:"inactivity_window,omitempty"`
	MaxMessages            *int     `yaml:"max_messages,omitempty"`
}

// File models the YAML document as written on disk.
type File struct {
	AgentID  string          `yaml:"agent_id"`
	Store    StoreSettings   `yaml:"store,omitempty"`
	Defaults GroupSettings   `yaml:"defaults,omitempty"`
	Groups   []GroupSettings `yaml:"groups,omitempty"`
}

// Group is one fully resolved group configuration.
type Group struct {
	ID        string
	Kickstart kickstart.Config
	Policy    conversation.Policy
}

// Config is the resolved runtime configuration. Kickstart and Policy hold
// the file's defaults (applied over the package defaults) and also cover
// groups the file does not list.
type Config struct {
	AgentID   string
	Store     StoreSettings
	Kickstart kickstart.Config
	Policy    conversation.Policy
	Groups    []Group
}

// Group returns the resolved configuration for the given group id.
func (c *Config) Group(id string) (Group, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}

	return Group{}, false
}

// Load reads and resolves the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(data)
}

// Parse resolves a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	file.normalize()

	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return file.resolve()
}

func (f *File) normalize() {
	f.AgentID = strings.TrimSpace(f.AgentID)
	f.Store.Driver = strings.ToLower(strings.TrimSpace(f.Store.Driver))
	f.Store.Path = strings.TrimSpace(f.Store.Path)

	for i := range f.Groups {
		f.Groups[i].ID = strings.TrimSpace(f.Groups[i].ID)
	}
}

func (f *File) validate() error {
	if f.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}

	switch f.Store.Driver {
	case "", DriverMemory:
	case DriverSQLite:
		if f.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q", DriverMemory, DriverSQLite)
	}

	seen := map[string]bool{}

	for i, g := range f.Groups {
		if g.ID == "" {
			return fmt.Errorf("groups[%d]: id is required", i)
		}

		if seen[g.ID] {
			return fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}

		seen[g.ID] = true
	}

	return nil
}

// resolve merges package defaults, the file's defaults section and each
// group's overrides into final values.
func (f *File) resolve() (*Config, error) {
	baseCfg, basePol, err := f.Defaults.apply(kickstart.DefaultConfig(), conversation.DefaultPolicy())
	if err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if err := checkResolved(baseCfg, basePol); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	cfg := &Config{
		AgentID:   f.AgentID,
		Store:     f.Store,
		Kickstart: baseCfg,
		Policy:    basePol,
	}

	for _, g := range f.Groups {
		groupCfg, groupPol, err := g.apply(baseCfg, basePol)
		if err != nil {
			return nil, fmt.Errorf("config: group %s: %w", g.ID, err)
		}

		if err := checkResolved(groupCfg, groupPol); err != nil {
			return nil, fmt.Errorf("config: group %s: %w", g.ID, err)
		}

		cfg.Groups = append(cfg.Groups, Group{
			ID:        g.ID,
			Kickstart: groupCfg,
			Policy:    groupPol,
		})
	}

	return cfg, nil
}

// apply overlays the settings present in s onto the given base values.
func (s GroupSettings) apply(cfg kickstart.Config, pol conversation.Policy) (kickstart.Config, conversation.Policy, error) {
	if s.MinInterval != nil {
		d, err := time.ParseDuration(*s.MinInterval)
		if err != nil {
			return cfg, pol, fmt.Errorf("min_interval: %w", err)
		}

		cfg.MinInterval = d
	}

	if s.MaxInterval != nil {
		d, err := time.ParseDuration(*s.MaxInterval)
		if err != nil {
			return cfg, pol, fmt.Errorf("max_interval: %w", err)
		}

		cfg.MaxInterval = d
	}

	if s.ProbabilityFactor != nil {
		cfg.ProbabilityFactor = *s.ProbabilityFactor
	}

	if s.MaxActiveConversations != nil {
		cfg.MaxActiveConversations = *s.MaxActiveConversations
	}

	if s.TagAgents != nil {
		cfg.TagAgents = *s.TagAgents
	}

	if s.MaxAgentsToTag != nil {
		cfg.MaxAgentsToTag = *s.MaxAgentsToTag
	}

	if s.PersistConversations != nil {
		cfg.PersistConversations = *s.PersistConversations
	}

	if s.InactivityWindow != nil {
		d, err := time.ParseDuration(*s.InactivityWindow)
		if err != nil {
			return cfg, pol, fmt.Errorf("inactivity_window: %w", err)
		}

		pol.InactivityWindow = d
	}

	if s.MaxMessages != nil {
		pol.MaxMessages = *s.MaxMessages
	}

	return cfg, pol, nil
}

// checkResolved rejects merged values the scheduler would otherwise have to
// clamp silently. Configuration files should fail loudly instead.
func checkResolved(cfg kickstart.Config, pol conversation.Policy) error {
	if cfg.MinInterval < 0 {
		return fmt.Errorf("min_interval must not be negative")
	}

	if cfg.MaxInterval < cfg.MinInterval {
		return fmt.Errorf("max_interval %s is below min_interval %s", cfg.MaxInterval, cfg.MinInterval)
	}

	if cfg.ProbabilityFactor < 0 || cfg.ProbabilityFactor > 1 {
		return fmt.Errorf("probability_factor %v is outside [0,1]", cfg.ProbabilityFactor)
	}

	if cfg.MaxActiveConversations < 0 {
		return fmt.Errorf("max_active_conversations must not be negative")
	}

	if cfg.MaxAgentsToTag < 0 {
		return fmt.Errorf("max_agents_to_tag must not be negative")
	}

	if pol.InactivityWindow < 0 {
		return fmt.Errorf("inactivity_window must not be negative")
	}

	if pol.MaxMessages < 0 {
		return fmt.Errorf("max_messages must not be negative")
	}

	return nil
}
