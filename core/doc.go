// Package core provides the foundational domain types and interfaces used by
// Parley. It defines the core abstractions for:
//
//   - Conversations (bounded, single-topic exchanges within a group)
//   - Participants and Messages (involvement records and append-only history)
//   - Topics (interest-scored discussion subjects)
//   - The Store contract enforcing the single-ACTIVE-conversation invariant
//   - External collaborator interfaces (RelayGateway, TextEnhancer)
//   - Inbound event shapes fed by relay adapters
//
// The package intentionally keeps implementation concerns (persistence,
// scheduling, orchestration, concrete gateways) out of scope, exposing small
// interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core
