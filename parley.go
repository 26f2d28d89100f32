// Package parley implements autonomous conversation coordination for agents
// sharing group channels: when to speak up, what to talk about, whom to pull
// in, and when a conversation has run its course. Most applications interact
// with this package by:
//  1. Creating a Parley via New() (optionally overriding the default in-memory store, relay, enhancer and logger)
//  2. Registering the groups the agent participates in (RegisterGroup)
//  3. Starting the kickstart loops (Start) and feeding inbound transport events (HandleMessage, HandleRosterChange)
//
// The façade delegates coordination to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable store, a real
// relay gateway and an LLM-backed enhancer.
package parley

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/hupe1980/parley/config"
	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/enhance"
	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/kickstart"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/relay"
	"github.com/hupe1980/parley/store"
	"github.com/hupe1980/parley/store/sqlite"
)

// DefaultAgentID is the coordination identity used when none is configured.
const DefaultAgentID = "parley"

// Options configures the Parley instance.
type Options struct {
	// AgentID is the identity this instance coordinates as; it appears as
	// the initiator of kickstarted conversations and is excluded from peer
	// sampling. Defaults to DefaultAgentID.
	AgentID string

	// Relay delivers outbound text and reports peer rosters. Defaults to a
	// loopback in-memory relay.
	Relay core.RelayGateway

	// Store persists conversations, participants, messages and topics.
	// Defaults to the in-memory store.
	Store core.Store

	// Enhancer refines topics and opening messages. Defaults to the
	// deterministic static enhancer.
	Enhancer core.TextEnhancer

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Policy bounds conversation lifetime (inactivity window, message cap).
	Policy conversation.Policy

	// Kickstart is the base scheduling configuration for registered groups.
	Kickstart kickstart.Config

	// Rand seeds all randomized behavior for reproducible runs. Nil seeds
	// from the clock.
	Rand *rand.Rand
}

// Parley is the high-level façade aggregating the coordination engine and its
// collaborators.
type Parley struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new Parley instance with optional overrides. Any unset
// collaborator is initialized with a local in-memory implementation.
func New(optFns ...func(o *Options)) *Parley {
	opts := Options{
		AgentID:   DefaultAgentID,
		Store:     store.NewInMemoryStore(),
		Enhancer:  enhance.NewStatic(),
		Logger:    logging.NoOpLogger{},
		Policy:    conversation.DefaultPolicy(),
		Kickstart: kickstart.DefaultConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Relay == nil {
		opts.Relay = relay.NewInMemoryRelay()
	}

	e := engine.New(opts.AgentID, opts.Relay, func(o *engine.Options) {
		o.Store = opts.Store
		o.Enhancer = opts.Enhancer
		o.Logger = opts.Logger
		o.Policy = opts.Policy
		o.Kickstart = opts.Kickstart
		o.Rand = opts.Rand
	})

	return &Parley{opts: opts, engine: e}
}

// NewFromConfig creates a Parley instance from a loaded configuration file,
// wiring the configured store backend, identity, policy and kickstart
// defaults, and registering every group the file declares. Options applied
// afterwards may override everything except the per-group registrations.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (*Parley, error) {
	st, err := storeFor(cfg.Store)
	if err != nil {
		return nil, err
	}

	fns := append([]func(o *Options){func(o *Options) {
		o.AgentID = cfg.AgentID
		o.Store = st
		o.Policy = cfg.Policy
		o.Kickstart = cfg.Kickstart
	}}, optFns...)

	p := New(fns...)

	for _, g := range cfg.Groups {
		p.engine.RegisterGroup(g.ID, func(c *kickstart.Config) {
			*c = g.Kickstart
		})
		p.engine.SetGroupPolicy(g.ID, g.Policy)
	}

	return p, nil
}

// storeFor builds the store backend a configuration file selects.
func storeFor(settings config.StoreSettings) (core.Store, error) {
	switch settings.Driver {
	case "", config.DriverMemory:
		return store.NewInMemoryStore(), nil
	case config.DriverSQLite:
		return sqlite.New(settings.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", settings.Driver)
	}
}

// RegisterGroup adds a group to the kickstart scheduler, starting from the
// configured base kickstart settings with optional per-group overrides.
func (p *Parley) RegisterGroup(groupID string, optFns ...func(cfg *kickstart.Config)) {
	p.engine.RegisterGroup(groupID, optFns...)
}

// Groups returns the registered group ids.
func (p *Parley) Groups() []string { return p.engine.Groups() }

// SetGroupPolicy overrides the conversation lifetime policy for one group;
// groups without an override keep the configured default policy.
func (p *Parley) SetGroupPolicy(groupID string, policy conversation.Policy) {
	p.engine.SetGroupPolicy(groupID, policy)
}

// RegisterCallback adds a lifecycle callback to the underlying engine.
func (p *Parley) RegisterCallback(callback engine.Callback) {
	p.engine.RegisterCallback(callback)
}

// Start launches the kickstart loops for all registered groups.
func (p *Parley) Start() { p.engine.Start() }

// Stop cancels pending kickstart timers and waits for in-flight cycles.
func (p *Parley) Stop() { p.engine.Stop() }

// ForceKickstart runs a kickstart for the group right now, bypassing the
// probability and active-cap gates. A non-empty topicName overrides topic
// selection.
func (p *Parley) ForceKickstart(ctx context.Context, groupID, topicName string) (string, error) {
	return p.engine.ForceKickstart(ctx, groupID, topicName)
}

// HandleMessage feeds one inbound group message into the coordination state,
// opening a conversation when the group has none.
func (p *Parley) HandleMessage(ctx context.Context, msg core.InboundMessage) (core.Conversation, error) {
	return p.engine.HandleMessage(ctx, msg)
}

// HandleRosterChange caches the group's new peer roster for diagnostics.
func (p *Parley) HandleRosterChange(change core.RosterChange) {
	p.engine.HandleRosterChange(change)
}

// EndConversation explicitly ends a conversation with the given reason.
func (p *Parley) EndConversation(conversationID string, reason core.EndReason) error {
	return p.engine.EndConversation(conversationID, reason)
}

// Snapshot assembles a read-only diagnostic view of the group.
func (p *Parley) Snapshot(groupID string) (core.GroupSnapshot, error) {
	return p.engine.Snapshot(groupID)
}
