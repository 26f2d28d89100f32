package core

import "context"

// RelayGateway is the outbound contract toward the external transport that
// physically delivers text into a group. Reliability, retries and
// authentication are the gateway's concern; the coordination core only sends
// text and reads the reachable peer roster. The core never mutates gateway
// connection state.
//
// SendText returns a transport-level message reference usable as a stable
// message id. Any error it returns is a transport error: the caller logs it
// and leaves already-created conversation state in place rather than rolling
// back (a human or another trigger may still continue the conversation).
type RelayGateway interface {
	SendText(ctx context.Context, groupID, text string) (string, error)
	Peers(groupID string) []string
}

// TextEnhancer is the external stylistic/content transformer applied to
// outgoing text and topic phrasing. Implementations may carry their own
// randomness or model backends but take no references into core state; calls
// are synchronous.
//
// RefineTopic and EnhanceMessage failures are treated as optional gloss going
// missing: callers fall back to the raw input. GenerateTopic is the fallback
// source when a group has no known topics, so its failure means no subject is
// available at all.
type TextEnhancer interface {
	RefineTopic(ctx context.Context, raw string) (string, error)
	EnhanceMessage(ctx context.Context, raw string) (string, error)
	GenerateTopic(ctx context.Context) (string, error)
}
