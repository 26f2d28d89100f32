// Package relay provides core.RelayGateway implementations. The in-memory
// relay is a loopback transport for tests, examples and single-process
// setups; real deployments adapt their chat transport behind the same
// interface.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
)

// Delivery is one outbound message recorded by the in-memory relay.
type Delivery struct {
	GroupID    string
	Text       string
	MessageRef string
	SentAt     time.Time
}

// InMemoryRelay is a loopback core.RelayGateway.
//
// Outbound sends are recorded per group and answered with a monotonically
// increasing message reference. Inbound traffic is simulated through Deliver,
// which forwards the message to the handler registered via OnInbound
// (typically the engine's HandleMessage). Transport failures are injected
// with FailSendsWith so callers can exercise their no-rollback paths.
type InMemoryRelay struct {
	mu         sync.RWMutex
	peers      map[string][]string
	deliveries map[string][]Delivery
	handler    func(ctx context.Context, msg core.InboundMessage) error
	sendErr    error
	seq        int
}

var _ core.RelayGateway = (*InMemoryRelay)(nil)

// NewInMemoryRelay constructs an empty loopback relay.
func NewInMemoryRelay() *InMemoryRelay {
	return &InMemoryRelay{
		peers:      make(map[string][]string),
		deliveries: make(map[string][]Delivery),
	}
}

// SetPeers replaces the reachable roster of a group.
func (r *InMemoryRelay) SetPeers(groupID string, peers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[groupID] = append([]string(nil), peers...)
}

// Peers implements core.RelayGateway, returning a copy of the group's roster.
func (r *InMemoryRelay) Peers(groupID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.peers[groupID]...)
}

// FailSendsWith injects a transport error returned by every subsequent
// SendText call. Passing nil restores normal delivery.
func (r *InMemoryRelay) FailSendsWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sendErr = err
}

// SendText implements core.RelayGateway. The delivery is recorded and a
// stable message reference is returned.
func (r *InMemoryRelay) SendText(ctx context.Context, groupID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sendErr != nil {
		return "", r.sendErr
	}

	r.seq++
	ref := fmt.Sprintf("inmem-%d", r.seq)

	r.deliveries[groupID] = append(r.deliveries[groupID], Delivery{
		GroupID:    groupID,
		Text:       text,
		MessageRef: ref,
		SentAt:     time.Now().UTC(),
	})

	return ref, nil
}

// Deliveries returns the messages sent to a group, oldest first.
func (r *InMemoryRelay) Deliveries(groupID string) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Delivery(nil), r.deliveries[groupID]...)
}

// LastDelivery returns the most recent message sent to the group, if any.
func (r *InMemoryRelay) LastDelivery(groupID string) (Delivery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.deliveries[groupID]
	if len(msgs) == 0 {
		return Delivery{}, false
	}

	return msgs[len(msgs)-1], true
}

// OnInbound registers the handler that receives traffic injected through
// Deliver. Registering replaces any previous handler.
func (r *InMemoryRelay) OnInbound(handler func(ctx context.Context, msg core.InboundMessage) error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = handler
}

// Deliver simulates a message arriving from the group and hands it to the
// registered inbound handler.
func (r *InMemoryRelay) Deliver(ctx context.Context, msg core.InboundMessage) error {
	r.mu.RLock()
	handler := r.handler
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no inbound handler registered")
	}

	return handler(ctx, msg)
}
