// Package relay is the signaling server duel peers meet through. It assigns
// peer identifiers, brokers connections between them and forwards their
// messages. It has no notion of matches or scores.
package relay

// FrameType names a relay frame.
type FrameType string

const (
	// FrameID assigns the receiving peer its identifier (in Dst).
	FrameID FrameType = "id"
	// FrameOpen asks the relay to link the sender with Dst. The relay answers
	// both ends with an open frame whose Src is the other end.
	FrameOpen FrameType = "open"
	// FrameData carries one message between linked peers.
	FrameData FrameType = "data"
	// FrameClose unlinks two peers. The relay also emits it when a peer
	// disconnects.
	FrameClose FrameType = "close"
	// FrameError reports a failed open. Src is the peer that was dialed.
	FrameError FrameType = "error"
)

// ErrUnknownPeerText is the Error of a FrameError answering an open to an
// unknown identifier.
const ErrUnknownPeerText = "unknown peer"

// Frame is the JSON unit exchanged over a relay websocket. The relay rewrites
// Src on every forwarded frame, so peers cannot impersonate each other.
type Frame struct {
	Type    FrameType `json:"type"`
	Src     string    `json:"src,omitempty"`
	Dst     string    `json:"dst,omitempty"`
	Payload []byte    `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
}
