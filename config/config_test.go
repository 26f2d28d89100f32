package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/kickstart"
)

func TestLoad(t *testing.T) {
	doc := `
agent_id: parley-bot
store:
  driver: sqlite
  path: ./parley.db
defaults:
  min_interval: 10m
  max_interval: 1h
  probability_factor: 0.5
  max_agents_to_tag: 3
  inactivity_window: 45m
groups:
  - id: general
    probability_factor: 0.9
    tag_agents: false
  - id: incidents
    min_interval: 5m
    max_messages: 200
`

	path := filepath.Join(t.TempDir(), "parley.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "parley-bot", cfg.AgentID)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "./parley.db", cfg.Store.Path)

	// Defaults section applied over the package defaults.
	assert.Equal(t, 10*time.Minute, cfg.Kickstart.MinInterval)
	assert.Equal(t, time.Hour, cfg.Kickstart.MaxInterval)
	assert.Equal(t, 0.5, cfg.Kickstart.ProbabilityFactor)
	assert.Equal(t, 3, cfg.Kickstart.MaxAgentsToTag)
	assert.Equal(t, 45*time.Minute, cfg.Policy.InactivityWindow)

	// Untouched fields keep their package defaults.
	assert.True(t, cfg.Kickstart.TagAgents)
	assert.Equal(t, kickstart.DefaultConfig().MaxActiveConversations, cfg.Kickstart.MaxActiveConversations)
	assert.Equal(t, conversation.DefaultPolicy().MaxMessages, cfg.Policy.MaxMessages)

	assert.Len(t, cfg.Groups, 2)

	general, ok := cfg.Group("general")
	assert.True(t, ok)
	assert.Equal(t, 0.9, general.Kickstart.ProbabilityFactor)
	assert.False(t, general.Kickstart.TagAgents)
	// Fields general does not override inherit the defaults section.
	assert.Equal(t, 10*time.Minute, general.Kickstart.MinInterval)
	assert.Equal(t, 45*time.Minute, general.Policy.InactivityWindow)

	incidents, ok := cfg.Group("incidents")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, incidents.Kickstart.MinInterval)
	assert.Equal(t, 200, incidents.Policy.MaxMessages)
	assert.Equal(t, 0.5, incidents.Kickstart.ProbabilityFactor)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestParse_DefaultsOnly(t *testing.T) {
	cfg, err := Parse([]byte("agent_id: solo"))
	assert.NoError(t, err)

	assert.Equal(t, "solo", cfg.AgentID)
	assert.Empty(t, cfg.Store.Driver)
	assert.Equal(t, kickstart.DefaultConfig(), cfg.Kickstart)
	assert.Equal(t, conversation.DefaultPolicy(), cfg.Policy)
	assert.Empty(t, cfg.Groups)

	_, ok := cfg.Group("general")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing agent id",
			doc:  "store:\n  driver: memory\n",
			want: "agent_id is required",
		},
		{
			name: "unknown driver",
			doc:  "agent_id: a\nstore:\n  driver: postgres\n",
			want: "store.driver",
		},
		{
			name: "sqlite without path",
			doc:  "agent_id: a\nstore:\n  driver: sqlite\n",
			want: "store.path is required",
		},
		{
			name: "bad duration",
			doc:  "agent_id: a\ndefaults:\n  min_interval: soon\n",
			want: "min_interval",
		},
		{
			name: "probability out of range",
			doc:  "agent_id: a\ndefaults:\n  probability_factor: 1.5\n",
			want: "outside [0,1]",
		},
		{
			name: "max below min",
			doc:  "agent_id: a\ndefaults:\n  min_interval: 2h\n  max_interval: 1h\n",
			want: "below min_interval",
		},
		{
			name: "group without id",
			doc:  "agent_id: a\ngroups:\n  - probability_factor: 0.2\n",
			want: "id is required",
		},
		{
			name: "duplicate group ids",
			doc:  "agent_id: a\ngroups:\n  - id: general\n  - id: general\n",
			want: "duplicate id",
		},
		{
			name: "group override out of range",
			doc:  "agent_id: a\ngroups:\n  - id: general\n    max_messages: -1\n",
			want: "group general",
		},
		{
			name: "not yaml",
			doc:  "{agent_id",
			want: "config: parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_NormalizesFields(t *testing.T) {
	cfg, err := Parse([]byte("agent_id: '  spaced  '\nstore:\n  driver: ' Memory '\ngroups:\n  - id: ' general '\n"))
	assert.NoError(t, err)

	assert.Equal(t, "spaced", cfg.AgentID)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	_, ok := cfg.Group("general")
	assert.True(t, ok)
}

func TestParse_ZeroOverridesAreExplicit(t *testing.T) {
	// An explicit zero must survive the merge rather than being mistaken
	// for an absent field.
	cfg, err := Parse([]byte("agent_id: a\ngroups:\n  - id: quiet\n    probability_factor: 0\n    max_agents_to_tag: 0\n"))
	assert.NoError(t, err)

	quiet, ok := cfg.Group("quiet")
	assert.True(t, ok)
	assert.Equal(t, 0.0, quiet.Kickstart.ProbabilityFactor)
	assert.Equal(t, 0, quiet.Kickstart.MaxAgentsToTag)
}
