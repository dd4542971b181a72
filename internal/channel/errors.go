package channel

import "errors"

var (
	// ErrNotConnected is returned by sends before a handshake has
	// asserted a remote actor.
	ErrNotConnected = errors.New("channel has no remote actor")

	// ErrAddressMismatch is returned by sends naming an actor other
	// than the connected peer.
	ErrAddressMismatch = errors.New("addressed actor does not match remote actor")

	// ErrClosed is returned by Open and Start on a closed channel;
	// sends on a closed channel fail with ErrNotConnected.
	// Closed is terminal; construct a new channel to retry.
	ErrClosed = errors.New("channel closed")

	// ErrAlreadyOpen is returned by a second Open on the same channel.
	ErrAlreadyOpen = errors.New("channel already opened")

	// ErrHandshakeTimeout closes a channel whose peer never answered
	// the identity exchange.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrHandshakeRejected closes a channel whose peer answered the
	// identity exchange with something unusable.
	ErrHandshakeRejected = errors.New("handshake failed")

	// ErrKeepaliveTimeout closes a channel whose peer stopped
	// answering liveness probes.
	ErrKeepaliveTimeout = errors.New("keepalive timed out")
)

// Close reasons, used in logs and metrics labels.
const (
	reasonLocal            = "local"
	reasonConnectTimeout   = "connect_timeout"
	reasonHandshakeFailure = "handshake_failure"
	reasonKeepaliveTimeout = "keepalive_timeout"
	reasonTransportError   = "transport_error"
	reasonInternalError    = "internal_error"
)
