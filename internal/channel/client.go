package channel

import (
	"errors"
	"time"

	"github.com/HaoQinLandv/Redola/internal/actor"
	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/recovery"
	"github.com/HaoQinLandv/Redola/internal/transport"
)

// ClientChannel is the connector-side channel: it dials the remote
// endpoint, sends Hello, and expects Welcome back.
type ClientChannel struct {
	core
}

// NewClient creates a channel for the local actor over the given
// connector. The connector must be exclusive to this channel.
func NewClient(local actor.Identity, conn transport.Connector, opts Options, events Events) *ClientChannel {
	c := &ClientChannel{}
	c.init(local, conn, "outbound", opts, events)
	return c
}

// Open dials the remote endpoint, blocking up to timeout (zero means
// the transport default), and schedules the handshake. Open returns
// once the transport connects; readiness is observed via the
// Connected event or OpenAndWait. A dial timeout is logged and closes
// the channel without an error; other dial failures close the channel
// and are returned.
func (c *ClientChannel) Open(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	// The handshake capture must be in place before any byte can
	// arrive, so the Welcome of a fast peer is never misrouted.
	c.sink.Store(sinkFunc(c.handshakeSink))
	c.conn.SetHandlers(transport.Handlers{
		Connected:    c.onTransportConnected,
		Disconnected: c.onTransportDisconnected,
		DataReceived: c.dispatch,
	})

	if err := c.conn.Connect(timeout); err != nil {
		if errors.Is(err, transport.ErrConnectTimeout) {
			c.logger.Warn("connect timed out",
				logging.KeyEndpoint, c.Endpoint(),
				logging.KeyError, err)
			c.closeWithReason(reasonConnectTimeout, err)
			return nil
		}
		c.closeWithReason(reasonTransportError, err)
		return err
	}
	return nil
}

// OpenAndWait opens the channel and blocks until it is Active or has
// closed, returning the failure that closed it.
func (c *ClientChannel) OpenAndWait(timeout time.Duration) error {
	if err := c.Open(timeout); err != nil {
		return err
	}
	select {
	case <-c.activeCh:
		return nil
	case <-c.closedCh:
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
}

func (c *ClientChannel) onTransportConnected() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.sessionStarted = true
	c.mu.Unlock()

	c.state.Store(int32(StateHandshaking))
	go c.handshake()
}

func (c *ClientChannel) onTransportDisconnected(err error) {
	c.logger.Warn("transport disconnected",
		logging.KeyEndpoint, c.Endpoint(),
		logging.KeyError, err)
	c.closeWithReason(reasonTransportError, err)
}

// handshake runs the connector side of the identity exchange: send
// Hello, wait (bounded) for Welcome, verify the asserted identity.
func (c *ClientChannel) handshake() {
	defer recovery.CloseOnPanic(c.logger, "channel.handshake", func() {
		c.closeWithReason(reasonInternalError, nil)
	})

	start := time.Now()

	payload, err := c.codec.Encode(c.local)
	if err != nil {
		c.failHandshake("encode_identity", err)
		return
	}
	hello := &protocol.Frame{Op: protocol.OpHello, Payload: payload}
	buf, err := hello.Encode()
	if err != nil {
		c.failHandshake("encode_frame", err)
		return
	}
	if err := c.conn.Send(buf); err != nil {
		c.failHandshake("send_hello", err)
		return
	}
	c.metrics.RecordFrameSent(protocol.OpHello.Name(), len(buf))

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case raw := <-c.handshakeCh:
		h, ok := protocol.TryDecodeHeader(raw)
		if !ok {
			c.failHandshake("bad_header", protocol.ErrInvalidFrame)
			return
		}
		if h.Op != protocol.OpWelcome {
			c.failHandshake("unexpected_opcode",
				errors.New("expected WELCOME, got "+h.Op.Name()))
			return
		}
		p, err := h.Payload(raw)
		if err != nil {
			c.failHandshake("bad_payload", err)
			return
		}
		remote, err := c.codec.Decode(p)
		if err != nil {
			c.failHandshake("bad_identity", err)
			return
		}
		c.metrics.RecordFrameReceived(protocol.OpWelcome.Name(), len(raw))
		c.becomeActive(remote, start)

	case <-timer.C:
		c.failHandshake("timeout", ErrHandshakeTimeout)

	case <-c.closedCh:
	}
}
