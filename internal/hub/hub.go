// Package hub implements the broadcast authority for one chatroom. A single
// goroutine owns the participant registry and processes every register,
// submit, and deregister through one ordered command stream, so all live
// participants observe joins, leaves, and messages in the same relative
// order without any locking.
package hub

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/wire"
)

// ErrHubClosed is returned by Register once the hub has shut down.
var ErrHubClosed = errors.New("hub: closed")

// DefaultQueueCapacity bounds a participant's outbound queue when no
// capacity is configured.
const DefaultQueueCapacity = 128

// Hub manages the participant registry and fans submitted events out to
// every other registered participant. All mutation happens on the Run
// goroutine; the exported methods only exchange commands with it.
type Hub struct {
	queueCap int
	log      *zap.Logger

	commands chan command

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the Run goroutine
	nextID       uint64
	participants map[ID]*Participant
}

// New creates a hub whose participants get outbound queues of the given
// capacity. Values below one fall back to DefaultQueueCapacity.
func New(queueCapacity int, log *zap.Logger) *Hub {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		queueCap:     queueCapacity,
		log:          log,
		commands:     make(chan command, 64),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		participants: make(map[ID]*Participant),
	}
}

type command interface {
	apply(h *Hub)
}

type registerCmd struct {
	name  string
	reply chan registerReply
}

type registerReply struct {
	participant *Participant
	roster      []wire.RosterEntry
}

type submitCmd struct {
	sender ID
	body   string
}

type deregisterCmd struct {
	id ID
}

// Register allocates the next participant identifier, announces the join to
// everyone else, and returns the new handle together with the roster
// snapshot taken at registration time. Identifiers are monotonically
// increasing and never reused for the lifetime of the hub.
func (h *Hub) Register(name string) (*Participant, []wire.RosterEntry, error) {
	reply := make(chan registerReply, 1)
	select {
	case h.commands <- registerCmd{name: name, reply: reply}:
	case <-h.ctx.Done():
		return nil, nil, ErrHubClosed
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return nil, nil, ErrHubClosed
		}
		return r.participant, r.roster, nil
	case <-h.done:
		return nil, nil, ErrHubClosed
	}
}

// Submit fans a message from the given participant out to every other
// registered participant. Submissions from departed participants, or after
// shutdown, are silently dropped.
func (h *Hub) Submit(sender ID, body string) {
	select {
	case h.commands <- submitCmd{sender: sender, body: body}:
	case <-h.ctx.Done():
	}
}

// Deregister removes the participant and broadcasts its departure. Calling
// it again for the same identifier is a no-op: identifiers are never reused,
// so a missing entry always means "already gone".
func (h *Hub) Deregister(id ID) {
	select {
	case h.commands <- deregisterCmd{id: id}:
	case <-h.ctx.Done():
	}
}

// Run processes commands until Shutdown is called. It must run in exactly
// one goroutine; it is the only code that touches the registry.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.drainPending()
			h.closeAll()
			return
		case cmd := <-h.commands:
			cmd.apply(h)
		}
	}
}

// Shutdown stops the command loop and closes every participant queue. It
// waits for Run to finish or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (cmd registerCmd) apply(h *Hub) {
	h.nextID++
	p := &Participant{
		id:     ID(h.nextID),
		name:   cmd.name,
		events: make(chan wire.Event, h.queueCap),
	}
	h.participants[p.id] = p

	roster := lo.MapToSlice(h.participants, func(id ID, p *Participant) wire.RosterEntry {
		return wire.RosterEntry{ID: uint64(id), Name: p.name}
	})
	slices.SortFunc(roster, func(a, b wire.RosterEntry) int {
		return cmp.Compare(a.ID, b.ID)
	})

	h.log.Info("participant registered",
		zap.Uint64("id", uint64(p.id)),
		zap.String("name", p.name),
		zap.Int("total", len(h.participants)))

	// The joiner sees nothing broadcast before its own registration.
	h.fanout(p.id, wire.NewJoined(uint64(p.id), p.name))

	cmd.reply <- registerReply{participant: p, roster: roster}
}

func (cmd submitCmd) apply(h *Hub) {
	p, ok := h.participants[cmd.sender]
	if !ok {
		// Sender already departed; the message dies here.
		h.log.Debug("dropping message from departed participant",
			zap.Uint64("id", uint64(cmd.sender)))
		return
	}
	ev := wire.NewMessage(uint64(p.id), p.name, cmd.body, time.Now().UTC())
	h.fanout(p.id, ev)
}

func (cmd deregisterCmd) apply(h *Hub) {
	h.remove(cmd.id, "left")
}

// fanout delivers ev to every registered participant except the sender.
// A full queue never blocks the loop: the slow participant is evicted on
// the spot and its departure broadcast to the rest.
func (h *Hub) fanout(sender ID, ev wire.Event) {
	var evicted []ID
	for id, p := range h.participants {
		if id == sender {
			continue
		}
		select {
		case p.events <- ev:
		default:
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		h.remove(id, "outbound queue overflow")
	}
}

func (h *Hub) remove(id ID, reason string) {
	p, ok := h.participants[id]
	if !ok {
		return
	}
	delete(h.participants, id)
	close(p.events)

	h.log.Info("participant removed",
		zap.Uint64("id", uint64(id)),
		zap.String("name", p.name),
		zap.String("reason", reason),
		zap.Int("total", len(h.participants)))

	h.fanout(0, wire.NewLeft(uint64(id)))
}

// drainPending answers commands that raced with shutdown so no caller is
// left waiting on a reply that will never come.
func (h *Hub) drainPending() {
	for {
		select {
		case cmd := <-h.commands:
			if reg, ok := cmd.(registerCmd); ok {
				// Reply channel is buffered; the caller sees ErrHubClosed
				// via the closed done channel if it gave up already.
				close(reg.reply)
			}
		default:
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.log.Info("closing participant queues", zap.Int("total", len(h.participants)))
	for id, p := range h.participants {
		delete(h.participants, id)
		close(p.events)
	}
}
