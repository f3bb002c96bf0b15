package epoxy

import (
	"fmt"
	"sync"
)

// Envelope is what a pending request is ultimately completed with: a
// well-formed user message, or an error carried as a parsed
// [ErrorRecord] (distinguished by the inbound headers' error_code).
type Envelope struct {
	Payload []byte
	Err     *ErrorRecord
}

// pendingSlot is the correlator's bookkeeping for one outstanding
// request. completion is buffered by one, so [correlator.complete] never
// blocks on a caller that has already abandoned the wait (e.g. via
// context cancellation).
type pendingSlot struct {
	completion chan Envelope
}

// correlator is a mapping from conversation-id to a pending-completion
// slot, with add/complete/shutdown semantics. It is safe
// for concurrent use: [correlator.add] is called from request-sending
// goroutines, [correlator.complete] from the single receive loop, and
// [correlator.shutdown] from the engine's teardown path; insertion,
// completion, and shutdown are mutually atomic under mu.
type correlator struct {
	mu      sync.Mutex
	pending map[uint64]*pendingSlot
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint64]*pendingSlot)}
}

// add inserts a pending entry for convID. A duplicate convID, or an add
// after [correlator.shutdown], is a programmer error: the conversation-id
// allocator guarantees uniqueness per connection, and the engine never
// allocates new ids once shutdown has begun.
func (c *correlator) add(convID uint64) *pendingSlot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		panic(fmt.Sprintf("epoxy: correlator.add(%d) after shutdown", convID))
	}
	if _, exists := c.pending[convID]; exists {
		panic(fmt.Sprintf("epoxy: duplicate conversation id %d", convID))
	}

	slot := &pendingSlot{completion: make(chan Envelope, 1)}
	c.pending[convID] = slot
	return slot
}

// remove drops a pending entry without completing it, used when a
// caller abandons the wait (context cancellation) before a response
// arrives. The conversation-id is burned: any late response for it is
// dropped by [Connection] as an unmatched response.
func (c *correlator) remove(convID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, convID)
}

// complete resolves and removes a pending entry, returning false if
// none was present (an unmatched response, logged and dropped by the
// caller).
func (c *correlator) complete(convID uint64, env Envelope) bool {
	c.mu.Lock()
	slot, ok := c.pending[convID]
	if ok {
		delete(c.pending, convID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	// Buffered by 1: this never blocks, and a second completion
	// attempt (which should not happen after delete, but is harmless
	// if it somehow did) would simply find the map entry gone.
	slot.completion <- env
	return true
}

// shutdown marks the correlator terminal and completes every remaining
// pending entry with a synthetic [NewTransportError].
// Subsequent [correlator.add] calls panic.
func (c *correlator) shutdown() {
	c.mu.Lock()
	remaining := c.pending
	c.pending = make(map[uint64]*pendingSlot)
	c.closed = true
	c.mu.Unlock()

	env := Envelope{Err: NewTransportError("Connection was closed before response was received")}
	for _, slot := range remaining {
		slot.completion <- env
	}
}
