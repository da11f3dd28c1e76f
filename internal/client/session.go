// Package client maintains one session against a chatroom server: it dials,
// performs the hello/welcome handshake, surfaces inbound events to the
// presentation layer, and transparently reconnects with exponential backoff
// when the transport drops.
package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/config"
	"github.com/thesjq/chatroom/internal/wire"
)

// State of the session's connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("client: session closed")

// ErrSendBufferFull is returned by Send when the outbound buffer has no room.
var ErrSendBufferFull = errors.New("client: send buffer full")

// ErrInvalidMessage is returned by Send for empty or oversized bodies, which
// the server would reject anyway.
var ErrInvalidMessage = errors.New("client: empty or oversized message body")

const outboundBuffer = 32

// Session is the client-side mirror of a server connection adapter: one
// peer (the hub) instead of a registry. Events() delivers everything the
// server broadcasts, starting with the welcome for each (re)connection.
type Session struct {
	cfg  config.ClientConfig
	name string
	log  *zap.Logger

	events   chan wire.Event
	outbound chan string
	state    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	id atomic.Uint64
}

// New builds a session that will connect to cfg.Endpoint announcing the
// given display name. Run must be called to start it.
func New(cfg config.ClientConfig, displayName string, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if displayName == "" {
		displayName = cfg.DisplayName
	}
	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		name:     displayName,
		log:      log,
		events:   make(chan wire.Event, eventBuffer),
		outbound: make(chan string, outboundBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// Events returns the inbound event sequence. The channel is closed once the
// session reaches its terminal closed state.
func (s *Session) Events() <-chan wire.Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the hub-assigned identifier from the latest welcome, or zero
// before the first successful handshake.
func (s *Session) ID() uint64 {
	return s.id.Load()
}

// Send queues a message body for transmission. Queued messages that have not
// reached the transport when the connection drops are discarded.
func (s *Session) Send(body string) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if body == "" || utf8.RuneCountInString(body) > wire.MaxBodyRunes {
		return ErrInvalidMessage
	}
	select {
	case s.outbound <- body:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close moves the session to its terminal state. It is honored at the next
// suspension point; no further reconnects happen afterwards.
func (s *Session) Close() {
	s.cancel()
}

// Done is closed once Run has fully unwound.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the connect/converse/reconnect loop until Close. Call it in
// its own goroutine.
func (s *Session) Run() {
	defer func() {
		s.state.Store(int32(StateClosed))
		close(s.events)
		close(s.done)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		s.state.Store(int32(StateConnecting))

		ws, welcome, err := s.connect()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			s.log.Info("connection failed, retrying",
				zap.Duration("backoff", wait),
				zap.Error(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		s.id.Store(welcome.ID)
		s.state.Store(int32(StateConnected))
		s.log.Info("connected",
			zap.Uint64("id", welcome.ID),
			zap.String("name", welcome.Name),
			zap.Int("roster", len(welcome.Users)))

		if !s.deliver(welcome) {
			_ = ws.Close()
			return
		}

		err = s.converse(ws)
		_ = ws.Close()
		if s.ctx.Err() != nil {
			return
		}

		s.state.Store(int32(StateDisconnected))
		s.log.Warn("disconnected", zap.Error(err))
		s.discardOutbound()
	}
}

// connect dials the endpoint and performs the hello/welcome handshake.
func (s *Session) connect() (*websocket.Conn, wire.Event, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(s.ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, wire.Event{}, err
	}

	hello, err := wire.Encode(wire.NewHello(s.name))
	if err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}

	if err := ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	welcome, err := wire.Decode(data)
	if err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	if welcome.Type != wire.KindWelcome {
		_ = ws.Close()
		return nil, wire.Event{}, errors.New("client: first frame was not welcome")
	}

	// Back to blocking reads; liveness is the server's ping/pong business.
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		_ = ws.Close()
		return nil, wire.Event{}, err
	}
	return ws, welcome, nil
}

// converse runs the connected state: one goroutine reads and decodes frames,
// the main loop multiplexes inbound events, outbound messages, and
// cancellation. It returns the transport or decode error that ended the
// connection, or nil on Close.
func (s *Session) converse(ws *websocket.Conn) error {
	// connCtx releases the reader goroutine when this connection ends for
	// any reason, not only when the whole session closes.
	connCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	inbound := make(chan wire.Event)
	readErr := make(chan error, 1)

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			ev, err := wire.Decode(data)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- ev:
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case ev := <-inbound:
			if !s.deliver(ev) {
				return nil
			}

		case err := <-readErr:
			return err

		case body := <-s.outbound:
			data, err := wire.Encode(wire.NewOutgoingMessage(body))
			if err != nil {
				s.log.Error("dropping unencodable message", zap.Error(err))
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

const writeTimeout = 10 * time.Second

// deliver hands an event to the consumer, returning false when the session
// was closed instead.
func (s *Session) deliver(ev wire.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// discardOutbound drops messages that were queued but never made it onto the
// transport before the connection dropped.
func (s *Session) discardOutbound() {
	dropped := 0
	for {
		select {
		case <-s.outbound:
			dropped++
		default:
			if dropped > 0 {
				s.log.Warn("discarded unsent messages", zap.Int("count", dropped))
			}
			return
		}
	}
}
