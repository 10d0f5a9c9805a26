// Package protocol defines the messages exchanged between duel peers.
//
// Every message kind is its own Go type implementing Message, and the payload
// shape is fixed per kind. On the wire a message is a JSON envelope
// {"type": <tag>, "payload": <kind-specific object>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/tapduel/go/internal/duel/roster"
)

// Tag is the case-sensitive wire discriminator.
type Tag string

const (
	TagHello        Tag = "HELLO"
	TagLobbyUpdate  Tag = "LOBBY_UPDATE"
	TagStartReq     Tag = "START_REQ"
	TagStartConfirm Tag = "START_CONFIRM"
	TagClick        Tag = "CLICK"
	TagGameUpdate   Tag = "GAME_UPDATE"
	TagSync         Tag = "SYNC"
	TagGameOver     Tag = "GAME_OVER"
	TagRematch      Tag = "REMATCH"
)

var (
	// ErrUnknownTag is returned by Decode for a tag outside the protocol.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrMalformed is returned by Decode when the envelope or payload cannot be read.
	ErrMalformed = errors.New("malformed message")
)

// Message is one protocol message. The set of implementations is closed.
type Message interface {
	Tag() Tag
	isMessage()
}

// Hello acknowledges a freshly opened connection.
type Hello struct{}

// LobbyUpdate is the host's full roster snapshot while not playing.
type LobbyUpdate struct {
	Peers []roster.Peer `json:"peers"`
}

// StartReq tells guests to begin the countdown. Strategy is the score
// synchronization variant the host picked for this match and MatchID lets both
// sides report the same match.
type StartReq struct {
	Strategy string `json:"strategy,omitempty"`
	MatchID  string `json:"match_id,omitempty"`
}

// StartConfirm acknowledges StartReq.
type StartConfirm struct{}

// Click is one click. In host-authoritative matches Delta is set and Total is
// ignored; in peer-optimistic matches Total carries the sender's running total.
type Click struct {
	Total  int   `json:"total,omitempty"`
	Delta  bool  `json:"delta,omitempty"`
	SentAt int64 `json:"sent_at,omitempty"`
}

// GameUpdate is the host's full score snapshot during a match.
type GameUpdate struct {
	Peers []roster.Peer `json:"peers"`
}

// Sync carries the sender's running total for periodic reconciliation.
type Sync struct {
	Total int `json:"total"`
}

// GameOver is the host's authoritative end of match. Peers is the final score
// table; receivers install it before resolving the outcome.
type GameOver struct {
	Peers []roster.Peer `json:"peers,omitempty"`
}

// Rematch requests (guest to host) or confirms (host to guests) a reset.
type Rematch struct{}

func (Hello) Tag() Tag        { return TagHello }
func (LobbyUpdate) Tag() Tag  { return TagLobbyUpdate }
func (StartReq) Tag() Tag     { return TagStartReq }
func (StartConfirm) Tag() Tag { return TagStartConfirm }
func (Click) Tag() Tag        { return TagClick }
func (GameUpdate) Tag() Tag   { return TagGameUpdate }
func (Sync) Tag() Tag         { return TagSync }
func (GameOver) Tag() Tag     { return TagGameOver }
func (Rematch) Tag() Tag      { return TagRematch }

func (Hello) isMessage()        {}
func (LobbyUpdate) isMessage()  {}
func (StartReq) isMessage()     {}
func (StartConfirm) isMessage() {}
func (Click) isMessage()        {}
func (GameUpdate) isMessage()   {}
func (Sync) isMessage()         {}
func (GameOver) isMessage()     {}
func (Rematch) isMessage()      {}

type envelope struct {
	Type    Tag             `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes m into its wire envelope.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: %w", ErrMalformed)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), err)
	}
	if string(payload) == "{}" {
		payload = nil
	}
	return json.Marshal(envelope{Type: m.Tag(), Payload: payload})
}

// MustEncode is Encode for messages that cannot fail to serialize.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a wire envelope. Unknown tags report ErrUnknownTag and
// unreadable input reports ErrMalformed; neither is fatal to a session.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var m Message
	switch env.Type {
	case TagHello:
		m = Hello{}
	case TagStartConfirm:
		m = StartConfirm{}
	case TagRematch:
		m = Rematch{}
	case TagLobbyUpdate:
		var p LobbyUpdate
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	case TagGameOver:
		var p GameOver
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	case TagGameUpdate:
		var p GameUpdate
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	case TagStartReq:
		var p StartReq
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	case TagClick:
		var p Click
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	case TagSync:
		var p Sync
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		m = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Type)
	}
	return m, nil
}

func decodePayload(env envelope, dst any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
