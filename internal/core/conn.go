package core

import "context"

// CloseCode classifies why a connection is being closed. The transport layer
// maps these onto its own close semantics (WebSocket 1000/1008/1011).
type CloseCode int

const (
	// CloseNormal is a clean shutdown initiated by either side.
	CloseNormal CloseCode = iota
	// ClosePolicyViolation covers auth failures, unknown users and rooms,
	// and restricted-room denials.
	ClosePolicyViolation
	// CloseInternalError is a server-side fault scoped to this connection.
	CloseInternalError
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case ClosePolicyViolation:
		return "policy_violation"
	case CloseInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Conn is the outbound half of one live client connection: the handle the hub
// registers and the broadcast engine pushes text frames to.
type Conn interface {
	// ID identifies the connection for the lifetime of its registration.
	ID() string

	// Send delivers one UTF-8 text frame. It must honor ctx cancellation so
	// a stuck client cannot stall a room's broadcast.
	Send(ctx context.Context, text string) error

	// Close terminates the connection with a machine-readable reason code.
	// Closing an already-closed connection is a no-op.
	Close(code CloseCode, reason string) error
}

// Transport is the full bidirectional session handle owned by a ChatSession.
type Transport interface {
	Conn

	// Receive blocks for the next inbound text frame. It returns an error
	// when the peer disconnects or ctx is canceled.
	Receive(ctx context.Context) (string, error)
}
