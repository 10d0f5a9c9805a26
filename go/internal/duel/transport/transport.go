// Package transport defines the peer-to-peer data-channel abstraction the duel
// protocol runs on.
//
// A Transport gets an identifier from its signaling layer, dials remote peers by
// identifier and accepts incoming connections. Delivery is reliable and ordered
// per Connection but not ordered across connections. A Transport never retries:
// Handler.OnError signals an unrecoverable failure and the caller must start over
// with a new Transport.
package transport

import "errors"

var (
	// ErrClosed is returned when sending on or dialing from a closed endpoint.
	ErrClosed = errors.New("transport closed")

	// ErrUnknownPeer is reported through Handler.OnError when a dial targets an
	// identifier the signaling layer does not know.
	ErrUnknownPeer = errors.New("peer unavailable")

	// ErrNotReady is returned by Connect before an identifier was assigned.
	ErrNotReady = errors.New("transport not ready")

	// ErrBackpressure is returned when the outbound queue of a connection is full.
	ErrBackpressure = errors.New("send buffer full")
)

// Handler receives transport events. A transport invokes the methods of one
// Handler from a single goroutine at a time, in the order the events occurred.
type Handler interface {
	// OnReady fires once the signaling layer assigned this endpoint's identifier.
	OnReady(id string)
	// OnConnection fires when a remote peer dialed this endpoint. OnOpen for the
	// same connection follows.
	OnConnection(c Connection)
	// OnOpen fires once per connection when it is ready for messaging.
	OnOpen(c Connection)
	// OnData fires for every inbound message.
	OnData(c Connection, msg []byte)
	// OnClose fires once per connection. No events follow it for that connection.
	OnClose(c Connection)
	// OnError signals an unrecoverable session failure.
	OnError(err error)
}

// Transport is one endpoint of the peer-to-peer network.
type Transport interface {
	// Start begins identifier assignment and routes all events to h.
	Start(h Handler) error
	// ID returns the assigned identifier, or "" before OnReady.
	ID() string
	// Connect dials remoteID. The returned connection opens asynchronously.
	Connect(remoteID string) (Connection, error)
	// Close tears down every connection and the endpoint itself.
	Close() error
}

// Connection is a bidirectional message channel to one remote peer.
type Connection interface {
	// PeerID is the remote peer's identifier, stable for the connection's lifetime.
	PeerID() string
	// IsOpen reports whether the connection can carry messages. Callers check it
	// before Send.
	IsOpen() bool
	// Send queues msg for delivery. It never blocks on the remote peer.
	Send(msg []byte) error
	// Close closes the connection for both sides.
	Close() error
}
