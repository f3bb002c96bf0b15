package epoxy

import "sync/atomic"

// conversationIDs allocates monotonically increasing conversation ids
// for one side of a connection, stepping by 2 so client and server use
// disjoint parity classes: client allocates odd ids starting at 1,
// server allocates even ids starting at 2.
//
// Allocation is an atomic fetch-and-add of 2 on a signed 64-bit
// counter, so distinct conversations on the same connection never
// collide even when requested concurrently from multiple goroutines.
// Counters are per-connection, per-side: a conversation
// id is allocated at most once per connection by a given side.
type conversationIDs struct {
	next atomic.Int64
}

func newConversationIDs(role Role) *conversationIDs {
	c := &conversationIDs{}
	switch role {
	case RoleClient:
		c.next.Store(-1) // First Add(2) yields 1.
	case RoleServer:
		c.next.Store(0) // First Add(2) yields 2.
	}
	return c
}

// alloc allocates the next id. The second return value is false only
// when the counter has wrapped past the signed-positive range, which
// is a fatal protocol error for the connection.
func (c *conversationIDs) alloc() (uint64, bool) {
	v := c.next.Add(2)
	if v <= 0 {
		return 0, false
	}
	return uint64(v), true
}
