package channel

import (
	"errors"
	"time"

	"github.com/HaoQinLandv/Redola/internal/actor"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/recovery"
	"github.com/HaoQinLandv/Redola/internal/transport"
)

// starter is implemented by connectors wrapping an already-accepted
// connection; Start begins delivery of inbound events.
type starter interface {
	Start()
}

// ServerChannel is the acceptor-side channel: it waits for Hello on
// an accepted connection and answers Welcome. Past the handshake its
// behavior is identical to the connector side.
type ServerChannel struct {
	core
}

// NewServer creates a channel for the local actor over an accepted
// connection.
func NewServer(local actor.Identity, conn transport.Connector, opts Options, events Events) *ServerChannel {
	s := &ServerChannel{}
	s.init(local, conn, "inbound", opts, events)
	return s
}

// Start wires the channel to its accepted connection and schedules
// the handshake wait. Readiness is observed via the Connected event.
func (s *ServerChannel) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.sessionStarted = true
	s.mu.Unlock()

	s.state.Store(int32(StateHandshaking))
	s.sink.Store(sinkFunc(s.handshakeSink))
	s.conn.SetHandlers(transport.Handlers{
		Disconnected: s.onTransportDisconnected,
		DataReceived: s.dispatch,
	})
	if st, ok := s.conn.(starter); ok {
		st.Start()
	}

	go s.handshake()
	return nil
}

func (s *ServerChannel) onTransportDisconnected(err error) {
	s.closeWithReason(reasonTransportError, err)
}

// handshake runs the acceptor side of the identity exchange: wait
// (bounded) for Hello, verify the asserted identity, answer Welcome.
func (s *ServerChannel) handshake() {
	defer recovery.CloseOnPanic(s.logger, "channel.serverHandshake", func() {
		s.closeWithReason(reasonInternalError, nil)
	})

	start := time.Now()

	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case raw := <-s.handshakeCh:
		h, ok := protocol.TryDecodeHeader(raw)
		if !ok {
			s.failHandshake("bad_header", protocol.ErrInvalidFrame)
			return
		}
		if h.Op != protocol.OpHello {
			s.failHandshake("unexpected_opcode",
				errors.New("expected HELLO, got "+h.Op.Name()))
			return
		}
		p, err := h.Payload(raw)
		if err != nil {
			s.failHandshake("bad_payload", err)
			return
		}
		remote, err := s.codec.Decode(p)
		if err != nil {
			s.failHandshake("bad_identity", err)
			return
		}
		s.metrics.RecordFrameReceived(protocol.OpHello.Name(), len(raw))

		payload, err := s.codec.Encode(s.local)
		if err != nil {
			s.failHandshake("encode_identity", err)
			return
		}
		welcome := &protocol.Frame{Op: protocol.OpWelcome, Payload: payload}
		buf, err := welcome.Encode()
		if err != nil {
			s.failHandshake("encode_frame", err)
			return
		}
		if err := s.conn.Send(buf); err != nil {
			s.failHandshake("send_welcome", err)
			return
		}
		s.metrics.RecordFrameSent(protocol.OpWelcome.Name(), len(buf))

		s.becomeActive(remote, start)

	case <-timer.C:
		s.failHandshake("timeout", ErrHandshakeTimeout)

	case <-s.closedCh:
	}
}
