// Package engine implements the orchestration layer of Parley.
//
// The Engine is the coordination hub for one agent participating in group
// conversations. It assembles the conversation state machine, the topic
// selector and the kickstart scheduler over a shared store, bridges inbound
// transport events into them, and exposes lifecycle callbacks for
// cross-cutting concerns.
//
// # Core Responsibilities
//
// Group Coordination:
//   - Per-group kickstart scheduling with configuration overrides
//   - Conversation lifecycle enforcement (inactivity window, message cap)
//   - Topic knowledge accumulation from scheduled and inbound activity
//
// Inbound Processing:
//   - Message recording with duplicate-delivery absorption
//   - Externally initiated conversations (sender becomes initiator)
//   - Tagged-participant joins and roster caching
//
// Observability:
//   - Diagnostic group snapshots (active conversation, history, topics, peers)
//   - Lifecycle callbacks for attempts, kickstarts, endings and errors
//
// # Architecture
//
//	┌──────────────────────────────────────────────────┐
//	│                 Hosting Process                  │
//	│   (relay adapter: inbound events, roster feed)   │
//	├──────────────────────────────────────────────────┤
//	│                      Engine                      │
//	│  ┌────────────┐ ┌──────────┐ ┌───────────────┐   │
//	│  │ kickstart. │ │  topic.  │ │ conversation. │   │
//	│  │ Scheduler  │ │ Selector │ │    Manager    │   │
//	│  └────────────┘ └──────────┘ └───────────────┘   │
//	├──────────────────────────────────────────────────┤
//	│          core.Store   ·   core.RelayGateway      │
//	└──────────────────────────────────────────────────┘
//
// # Usage
//
// Basic setup:
//
//	e := engine.New("parley-bot", relay,
//	    func(o *engine.Options) {
//	        o.Store = sqliteStore
//	        o.Enhancer = llmEnhancer
//	        o.Logger = logger
//	    })
//
//	e.RegisterGroup("general")
//	e.RegisterGroup("incidents", func(cfg *kickstart.Config) {
//	    cfg.ProbabilityFactor = 0.9
//	})
//
//	e.Start()
//	defer e.Stop()
//
// Feeding inbound traffic:
//
//	conv, err := e.HandleMessage(ctx, core.InboundMessage{
//	    GroupID:  "general",
//	    SenderID: "alice",
//	    Text:     "Has anyone tried the new build?",
//	})
//
// # Concurrency Model
//
// Scheduled kickstart cycles run on per-group scheduler goroutines; inbound
// handling runs on the caller's goroutine. Both paths converge on the
// store's transactional conversation creation, which is the sole
// synchronization point for the single-ACTIVE invariant. Callbacks execute
// synchronously on the triggering goroutine and their errors are logged, not
// propagated.
//
// # Error Handling
//
// Inbound failures are returned to the caller and mirrored to the OnError
// callbacks. Scheduled cycle failures are reported through logging, the
// attempt observer and callbacks; scheduling always resumes. Sentinel errors
// (core.ErrConflict, core.ErrNotFound, kickstart.ErrNoPeers) are wrapped
// with %w and matched with errors.Is.
package engine
