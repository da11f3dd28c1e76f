package server

import (
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/hub"
	"github.com/thesjq/chatroom/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// DefaultDisplayName is used when a client offers no usable name.
const DefaultDisplayName = "Guest"

// connection bridges one WebSocket to the hub: the read pump decodes inbound
// frames and submits them, the write pump drains the participant's outbound
// queue back onto the transport. Either pump exiting deregisters the
// participant and unwinds the other.
type connection struct {
	srv         *Server
	ws          *websocket.Conn
	participant *hub.Participant
	limiter     *rateLimiter
	log         *zap.Logger
}

// serveConn performs the hello/welcome handshake and runs the two pumps.
func (s *Server) serveConn(ws *websocket.Conn, remoteAddr string) {
	log := s.log.With(zap.String("remote", remoteAddr))
	ws.SetReadLimit(s.cfg.MaxFrameBytes)

	name, err := readHello(ws)
	if err != nil {
		log.Warn("handshake failed", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"),
			time.Now().Add(writeTimeout))
		_ = ws.Close()
		return
	}

	participant, roster, err := s.hub.Register(name)
	if err != nil {
		log.Warn("registration rejected", zap.Error(err))
		_ = ws.Close()
		return
	}

	c := &connection{
		srv:         s,
		ws:          ws,
		participant: participant,
		limiter:     newRateLimiter(s.cfg.RateLimitBurst, s.cfg.RateLimitInterval),
		log:         log.With(zap.Uint64("participant", uint64(participant.ID()))),
	}

	if err := c.sendWelcome(roster); err != nil {
		c.log.Warn("welcome write failed", zap.Error(err))
		s.hub.Deregister(participant.ID())
		_ = ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readHello waits for the client's first frame, which must be a hello
// envelope. Names are trimmed and capped; an empty result falls back to the
// default display name.
func readHello(ws *websocket.Conn) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}

	ev, err := wire.Decode(data)
	if err != nil {
		return "", err
	}
	if ev.Type != wire.KindHello {
		return "", errors.New("first frame was not hello")
	}

	name := strings.TrimSpace(ev.Name)
	if name == "" || utf8.RuneCountInString(name) > wire.MaxNameRunes {
		name = DefaultDisplayName
	}
	return name, nil
}

func (c *connection) sendWelcome(roster []wire.RosterEntry) error {
	welcome := wire.NewWelcome(uint64(c.participant.ID()), c.participant.Name(), roster)
	data, err := wire.Encode(welcome)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readPump reads frames until the connection dies, the client idles out, or
// it sheds the peer for sending too many undecodable frames in a row.
func (c *connection) readPump() {
	defer func() {
		c.srv.hub.Deregister(c.participant.ID())
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close after read pump", zap.Error(err))
		}
	}()

	idle := c.srv.cfg.IdleTimeout
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	failures := 0
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
			c.log.Debug("set read deadline", zap.Error(err))
			return
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.log.Debug("rate limit exceeded, discarding frame")
			continue
		}

		ev, err := wire.Decode(data)
		if err != nil {
			failures++
			c.log.Warn("undecodable frame",
				zap.Int("consecutive", failures),
				zap.Error(err))
			if failures >= c.srv.cfg.DecodeFailureLimit {
				c.log.Warn("decode failure limit reached, closing connection")
				return
			}
			continue
		}
		failures = 0

		switch ev.Type {
		case wire.KindMessage:
			c.srv.hub.Submit(c.participant.ID(), ev.Body)
		default:
			// Clients have nothing else to say after the handshake.
			c.log.Debug("ignoring unexpected frame", zap.String("type", ev.Type))
		}
	}
}

// writePump drains the outbound queue onto the transport in enqueue order,
// one frame per event, and keeps the connection alive with pings. A closed
// queue means the hub removed the participant.
func (c *connection) writePump() {
	pingPeriod := c.srv.cfg.IdleTimeout * 9 / 10
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.srv.hub.Deregister(c.participant.ID())
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close after write pump", zap.Error(err))
		}
	}()

	for {
		select {
		case ev, ok := <-c.participant.Events():
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.log.Debug("set write deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := wire.Encode(ev)
			if err != nil {
				c.log.Error("dropping unencodable event", zap.Error(err))
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size",
			zap.Int64("limit", c.srv.cfg.MaxFrameBytes))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("read error", zap.Error(err))
	}
}

// isExpectedCloseError reports whether an error is part of a normal
// connection teardown and not worth surfacing.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
