// Package wire converts chat events to and from the JSON envelopes carried
// in WebSocket text frames. One frame holds exactly one envelope, tagged by
// its "type" field. Encoding and decoding are pure and stateless.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Event kinds carried in the envelope's "type" field.
const (
	KindHello   = "hello"
	KindWelcome = "welcome"
	KindJoined  = "joined"
	KindLeft    = "left"
	KindMessage = "message"
)

// Text caps, measured in Unicode code points. Frames exceeding them are
// rejected at decode time and never reach the hub.
const (
	MaxBodyRunes = 4096
	MaxNameRunes = 64
)

// RosterEntry identifies one participant in a welcome roster snapshot.
type RosterEntry struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Event is the unit of communication between clients and the hub. Which
// fields are meaningful depends on Type; constructors below build the
// well-formed shapes.
type Event struct {
	Type   string        `json:"type"`
	ID     uint64        `json:"id,omitempty"`
	Name   string        `json:"name,omitempty"`
	Body   string        `json:"body,omitempty"`
	SentAt time.Time     `json:"sent_at,omitzero"`
	Users  []RosterEntry `json:"users,omitempty"`
}

// NewHello builds the handshake frame a client sends first on a connection.
func NewHello(name string) Event {
	return Event{Type: KindHello, Name: name}
}

// NewWelcome builds the frame greeting a new participant with its assigned
// identifier and the roster at registration time.
func NewWelcome(id uint64, name string, users []RosterEntry) Event {
	return Event{Type: KindWelcome, ID: id, Name: name, Users: users}
}

// NewJoined announces a participant to the rest of the room.
func NewJoined(id uint64, name string) Event {
	return Event{Type: KindJoined, ID: id, Name: name}
}

// NewLeft announces a departure.
func NewLeft(id uint64) Event {
	return Event{Type: KindLeft, ID: id}
}

// NewMessage builds a broadcast-ready message stamped with the sender's
// identity and submission time.
func NewMessage(id uint64, name, body string, sentAt time.Time) Event {
	return Event{Type: KindMessage, ID: id, Name: name, Body: body, SentAt: sentAt}
}

// NewOutgoingMessage builds the client-authored message frame. The server
// stamps sender identity and time; anything the client puts there is ignored.
func NewOutgoingMessage(body string) Event {
	return Event{Type: KindMessage, Body: body}
}

// Decode failure reasons.
const (
	ReasonMalformed    = "malformed envelope"
	ReasonUnknownType  = "unknown event type"
	ReasonMissingField = "missing required field"
	ReasonOversized    = "text exceeds length cap"
)

// DecodeError reports why a frame was rejected. Reason is one of the Reason
// constants; Detail narrows it to a field or type name.
type DecodeError struct {
	Reason string
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "wire: " + e.Reason
	}
	return fmt.Sprintf("wire: %s: %s", e.Reason, e.Detail)
}

// Encode serializes a well-formed event into its JSON envelope. It fails only
// on events no constructor produces, such as an unset or unknown Type. The
// output is deterministic for a given event.
func Encode(ev Event) ([]byte, error) {
	switch ev.Type {
	case KindHello, KindWelcome, KindJoined, KindLeft, KindMessage:
	default:
		return nil, fmt.Errorf("wire: cannot encode event type %q", ev.Type)
	}
	return json.Marshal(ev)
}

// Decode parses and validates one envelope. Errors are always *DecodeError.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, &DecodeError{Reason: ReasonMalformed, Detail: err.Error()}
	}

	switch ev.Type {
	case KindHello:
		if ev.Name == "" {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "name"}
		}
		if utf8.RuneCountInString(ev.Name) > MaxNameRunes {
			return Event{}, &DecodeError{Reason: ReasonOversized, Detail: "name"}
		}
	case KindWelcome:
		if ev.ID == 0 {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "id"}
		}
		if ev.Name == "" {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "name"}
		}
	case KindJoined:
		if ev.ID == 0 {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "id"}
		}
		if ev.Name == "" {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "name"}
		}
	case KindLeft:
		if ev.ID == 0 {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "id"}
		}
	case KindMessage:
		if ev.Body == "" {
			return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "body"}
		}
		if utf8.RuneCountInString(ev.Body) > MaxBodyRunes {
			return Event{}, &DecodeError{Reason: ReasonOversized, Detail: "body"}
		}
		if utf8.RuneCountInString(ev.Name) > MaxNameRunes {
			return Event{}, &DecodeError{Reason: ReasonOversized, Detail: "name"}
		}
	case "":
		return Event{}, &DecodeError{Reason: ReasonMissingField, Detail: "type"}
	default:
		return Event{}, &DecodeError{Reason: ReasonUnknownType, Detail: ev.Type}
	}

	return ev, nil
}
