package hub

import "github.com/thesjq/chatroom/internal/wire"

// ID is a hub-assigned participant identifier, unique and monotonically
// increasing for the lifetime of the process. A stale ID is therefore always
// distinguishable from a new one.
type ID uint64

// Participant is the hub's handle for one live connection. The hub owns the
// handle and is the only writer of its outbound queue; the connection
// adapter only drains Events and signals disconnect through Deregister.
type Participant struct {
	id     ID
	name   string
	events chan wire.Event
}

// ID returns the hub-assigned identifier.
func (p *Participant) ID() ID { return p.id }

// Name returns the display name the participant registered with.
func (p *Participant) Name() string { return p.name }

// Events returns the outbound queue. The channel is closed when the
// participant is deregistered, evicted, or the hub shuts down; events
// arrive in the order the hub broadcast them.
func (p *Participant) Events() <-chan wire.Event {
	return p.events
}
