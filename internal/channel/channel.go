// Package channel implements the Redola actor messaging channel: a
// long-lived framed session over a byte-stream transport with an
// identity handshake, bidirectional keep-alive and addressed sends.
package channel

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HaoQinLandv/Redola/internal/actor"
	"github.com/HaoQinLandv/Redola/internal/keepalive"
	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/metrics"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/recovery"
	"github.com/HaoQinLandv/Redola/internal/transport"
)

// State represents the lifecycle state of a channel.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Default timer values.
const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultKeepaliveTimeout  = 10 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
)

// Options configures a channel. The zero value gets defaults applied.
type Options struct {
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	HandshakeTimeout  time.Duration
	IdentityCodec     actor.Codec
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.KeepaliveTimeout <= 0 {
		o.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.IdentityCodec == nil {
		o.IdentityCodec = actor.NewJSONCodec()
	}
	if o.Logger == nil {
		o.Logger = logging.NopLogger()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default()
	}
}

// Events receive channel notifications. Handlers run on transport and
// timer goroutines; they must not block indefinitely. DataReceived
// delivers the entire inbound buffer, header included; consumers parse
// past the header with the same codec.
type Events struct {
	Connected    func(endpoint string, remote actor.Identity)
	Disconnected func(endpoint string, remote actor.Identity)
	DataReceived func(endpoint string, remote actor.Identity, p []byte)
}

type sinkFunc func(p []byte)

// core holds the session state shared by the connector- and
// acceptor-side channels: inbound dispatch, keep-alive, addressed
// sends and teardown. The handshake direction is the only difference
// between the two.
type core struct {
	local     actor.Identity
	conn      transport.Connector
	opts      Options
	events    Events
	logger    *slog.Logger
	codec     actor.Codec
	metrics   *metrics.Metrics
	direction string // metrics label: outbound / inbound

	state atomic.Int32

	mu             sync.Mutex
	remote         actor.Identity
	handshaked     bool
	opened         bool
	closed         bool
	sessionStarted bool
	closeErr       error
	timeoutTimer   *time.Timer

	// sink is the single inbound dispatcher: the handshake capture
	// until the identity exchange completes, the steady-state
	// dispatcher afterwards, a no-op after close.
	sink atomic.Value // sinkFunc

	tracker *keepalive.Tracker
	kaGuard sync.Mutex // TryLock: concurrent ticks collapse
	kaStop  chan struct{}

	handshakeCh    chan []byte
	handshakeTaken atomic.Bool // the first inbound buffer went to handshakeCh
	activeCh       chan struct{}
	closedCh       chan struct{}

	pingSentAt atomic.Int64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
}

func (c *core) init(local actor.Identity, conn transport.Connector, direction string, opts Options, events Events) {
	opts.applyDefaults()
	c.local = local
	c.conn = conn
	c.opts = opts
	c.events = events
	c.logger = opts.Logger
	c.codec = opts.IdentityCodec
	c.metrics = opts.Metrics
	c.direction = direction
	c.tracker = keepalive.NewTracker(opts.KeepaliveInterval)
	c.handshakeCh = make(chan []byte, 1)
	c.activeCh = make(chan struct{})
	c.closedCh = make(chan struct{})
	c.sink.Store(sinkFunc(func([]byte) {}))
}

// State returns the current lifecycle state.
func (c *core) State() State {
	return State(c.state.Load())
}

// Active reports whether the channel is transport-connected and
// handshaked.
func (c *core) Active() bool {
	c.mu.Lock()
	handshaked := c.handshaked
	c.mu.Unlock()
	return handshaked && c.conn.IsConnected()
}

// IsHandshaked reports whether the identity exchange has completed.
func (c *core) IsHandshaked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaked
}

// LocalActor returns the local endpoint identity.
func (c *core) LocalActor() actor.Identity {
	return c.local
}

// RemoteActor returns the peer's asserted identity, if handshaked.
func (c *core) RemoteActor() (actor.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.handshaked
}

// Endpoint returns the remote transport endpoint.
func (c *core) Endpoint() string {
	return c.conn.Endpoint()
}

// KeepaliveInterval returns the probe ticker period.
func (c *core) KeepaliveInterval() time.Duration {
	return c.opts.KeepaliveInterval
}

// KeepaliveTimeout returns the probe response deadline.
func (c *core) KeepaliveTimeout() time.Duration {
	return c.opts.KeepaliveTimeout
}

// BytesSent returns the total application bytes handed to the transport.
func (c *core) BytesSent() uint64 {
	return c.bytesOut.Load()
}

// BytesReceived returns the total bytes delivered by the transport
// while the channel is active; handshake frames are not counted.
func (c *core) BytesReceived() uint64 {
	return c.bytesIn.Load()
}

// Done returns a channel closed when this channel reaches Closed.
func (c *core) Done() <-chan struct{} {
	return c.closedCh
}

// dispatch routes an inbound buffer through the current sink.
func (c *core) dispatch(p []byte) {
	c.sink.Load().(sinkFunc)(p)
}

// handshakeSink captures the first inbound buffer for the waiting
// handshake. A frame arriving right behind the handshake response is
// held on the reader goroutine until the sink swap resolves, then
// re-dispatched, so no application frame is lost in the window
// between the response and the swap.
func (c *core) handshakeSink(p []byte) {
	buf := append([]byte(nil), p...)
	if c.handshakeTaken.CompareAndSwap(false, true) {
		c.handshakeCh <- buf
		return
	}
	select {
	case <-c.activeCh:
		c.dispatch(buf)
	case <-c.closedCh:
	}
}

// steadySink is the active-state dispatcher: control frames are
// consumed by the channel, everything else reaches the consumer with
// the full wire image.
func (c *core) steadySink(p []byte) {
	c.tracker.OnDataReceived()
	c.bytesIn.Add(uint64(len(p)))

	h, ok := protocol.TryDecodeHeader(p)
	label := "RAW"
	if ok {
		label = h.Op.Name()
	}
	c.metrics.RecordFrameReceived(label, len(p))

	switch {
	case ok && h.Op == protocol.OpPing:
		c.metrics.KeepalivesRecv.Inc()
		c.sendControl(protocol.OpPong)
	case ok && h.Op == protocol.OpPong:
		c.disarmTimeout()
		if sentAt := c.pingSentAt.Swap(0); sentAt > 0 {
			c.metrics.KeepaliveRTT.Observe(time.Since(time.Unix(0, sentAt)).Seconds())
		}
	default:
		c.mu.Lock()
		remote := c.remote
		c.mu.Unlock()
		if c.events.DataReceived != nil {
			c.events.DataReceived(c.Endpoint(), remote, p)
		}
	}
}

// sendControl emits a payloadless control frame.
func (c *core) sendControl(op protocol.OpCode) {
	f := &protocol.Frame{Op: op}
	buf, err := f.Encode()
	if err != nil {
		return
	}
	if err := c.conn.Send(buf); err != nil {
		c.logger.Warn("control frame send failed",
			logging.KeyOpcode, op.Name(),
			logging.KeyError, err)
		return
	}
	c.tracker.OnDataSent()
	c.metrics.RecordFrameSent(op.Name(), len(buf))
}

// becomeActive installs the peer identity and transitions the session
// into the steady state. Called exactly once per channel, by the
// handshake path.
func (c *core) becomeActive(remote actor.Identity, handshakeStart time.Time) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.remote = remote
	c.handshaked = true
	c.sink.Store(sinkFunc(c.steadySink))
	c.state.Store(int32(StateActive))
	c.tracker.Start()
	kaStop := make(chan struct{})
	c.kaStop = kaStop
	c.mu.Unlock()

	go c.keepaliveLoop(kaStop)

	c.metrics.RecordChannelOpen(c.direction, time.Since(handshakeStart).Seconds())
	c.logger.Info("channel active",
		logging.KeyActor, c.local.Key(),
		logging.KeyRemote, remote.Key(),
		logging.KeyEndpoint, c.Endpoint(),
		logging.KeyDuration, time.Since(handshakeStart))

	close(c.activeCh)
	if c.events.Connected != nil {
		c.events.Connected(c.Endpoint(), remote)
	}
}

// failHandshake records a handshake failure and tears the channel down.
func (c *core) failHandshake(errorType string, err error) {
	c.logger.Warn("handshake failed",
		logging.KeyActor, c.local.Key(),
		logging.KeyEndpoint, c.Endpoint(),
		logging.KeyError, err)
	c.metrics.RecordHandshakeError(errorType)
	switch errorType {
	case "bad_header", "unexpected_opcode", "bad_payload", "bad_identity":
		err = fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
	}
	c.closeWithReason(reasonHandshakeFailure, err)
}

// keepaliveLoop drives the interval ticker for one session.
func (c *core) keepaliveLoop(stop <-chan struct{}) {
	defer recovery.CloseOnPanic(c.logger, "channel.keepaliveLoop", func() {
		c.closeWithReason(reasonInternalError, nil)
	})

	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.onKeepalive()
		}
	}
}

// onKeepalive handles one interval tick. The TryLock guard drops
// ticks that arrive while a previous one is still executing.
func (c *core) onKeepalive() {
	if !c.kaGuard.TryLock() {
		return
	}
	defer c.kaGuard.Unlock()

	if c.State() != StateActive {
		return
	}

	c.mu.Lock()
	remote := c.remote
	handshaked := c.handshaked
	c.mu.Unlock()
	if !handshaked {
		return
	}

	// Loopback suppression: a channel wired to itself never probes.
	if c.local.Equal(remote) {
		return
	}

	if !c.tracker.ShouldSendKeepalive() {
		return
	}

	f := &protocol.Frame{Op: protocol.OpPing}
	buf, err := f.Encode()
	if err != nil {
		c.closeWithReason(reasonInternalError, err)
		return
	}
	if err := c.conn.Send(buf); err != nil {
		c.logger.Warn("keepalive send failed",
			logging.KeyRemote, remote.Key(),
			logging.KeyError, err)
		c.closeWithReason(reasonTransportError, err)
		return
	}

	c.pingSentAt.Store(time.Now().UnixNano())
	c.metrics.KeepalivesSent.Inc()
	c.metrics.RecordFrameSent(protocol.OpPing.Name(), len(buf))
	c.tracker.OnDataSent()
	c.armTimeout()
	c.tracker.Reset()
}

// armTimeout starts (or restarts) the probe response deadline.
// Re-arming resets the deadline; arming after close is a no-op.
func (c *core) armTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
	}
	c.timeoutTimer = time.AfterFunc(c.opts.KeepaliveTimeout, c.onKeepaliveTimeout)
}

// disarmTimeout cancels the probe response deadline. Safe to call at
// any time, including after close.
func (c *core) disarmTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
	}
}

func (c *core) onKeepaliveTimeout() {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()

	c.logger.Warn("keepalive response overdue, closing",
		logging.KeyRemote, remote.Key(),
		logging.KeyEndpoint, c.Endpoint())
	c.metrics.KeepaliveTimeouts.Inc()
	c.closeWithReason(reasonKeepaliveTimeout, ErrKeepaliveTimeout)
}

// precheck enforces the addressing contract shared by every send
// shape. It returns nil when the send may proceed, otherwise
// ErrNotConnected or a wrapped ErrAddressMismatch.
func (c *core) precheck(actorType, actorName string, typeOnly bool) error {
	c.mu.Lock()
	remote := c.remote
	handshaked := c.handshaked
	c.mu.Unlock()

	if !handshaked {
		c.metrics.RecordSendReject("not_connected")
		return ErrNotConnected
	}
	if typeOnly {
		if actorType != remote.Type {
			c.metrics.RecordSendReject("address_mismatch")
			return fmt.Errorf("%w: want type %q, peer is %q", ErrAddressMismatch, actorType, remote.Key())
		}
		return nil
	}
	if key := actor.New(actorType, actorName).Key(); key != remote.Key() {
		c.metrics.RecordSendReject("address_mismatch")
		return fmt.Errorf("%w: want %q, peer is %q", ErrAddressMismatch, key, remote.Key())
	}
	return nil
}

// deliver hands caller-framed bytes to the transport and does the
// bookkeeping every successful send shares.
func (c *core) deliver(p []byte) error {
	if err := c.conn.Send(p); err != nil {
		return err
	}
	c.recordSent(p)
	return nil
}

func (c *core) recordSent(p []byte) {
	c.tracker.OnDataSent()
	c.bytesOut.Add(uint64(len(p)))
	label := "RAW"
	if h, ok := protocol.TryDecodeHeader(p); ok {
		label = h.Op.Name()
	}
	c.metrics.RecordFrameSent(label, len(p))
}

// Send writes caller-framed bytes to the named actor instance. The
// (type, name) pair must match the remote actor exactly.
func (c *core) Send(actorType, actorName string, p []byte) error {
	if err := c.precheck(actorType, actorName, false); err != nil {
		return err
	}
	return c.deliver(p)
}

// SendToType writes caller-framed bytes to any instance of the given
// actor type.
func (c *core) SendToType(actorType string, p []byte) error {
	if err := c.precheck(actorType, "", true); err != nil {
		return err
	}
	return c.deliver(p)
}

// BeginSend is the non-blocking variant of Send. Precondition
// failures are returned synchronously; the write outcome reaches the
// optional done callback.
func (c *core) BeginSend(actorType, actorName string, p []byte, done func(error)) error {
	if err := c.precheck(actorType, actorName, false); err != nil {
		return err
	}
	c.beginDeliver(p, done)
	return nil
}

// BeginSendToType is the non-blocking variant of SendToType.
func (c *core) BeginSendToType(actorType string, p []byte, done func(error)) error {
	if err := c.precheck(actorType, "", true); err != nil {
		return err
	}
	c.beginDeliver(p, done)
	return nil
}

func (c *core) beginDeliver(p []byte, done func(error)) {
	c.conn.BeginSend(p, func(err error) {
		if err == nil {
			c.recordSent(p)
		}
		if done != nil {
			done(err)
		}
	})
}

// Close drives the channel to Closed: timers disposed, transport
// handlers detached, the connection torn down, Disconnected emitted
// once. Safe to call from any goroutine, repeatedly.
func (c *core) Close() error {
	c.closeWithReason(reasonLocal, nil)
	return nil
}

func (c *core) closeWithReason(reason string, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause != nil {
		c.closeErr = cause
	} else {
		c.closeErr = ErrClosed
	}
	lastRemote := c.remote
	wasHandshaked := c.handshaked
	hadSession := c.sessionStarted

	// Timer handles are released first, whatever the transport does
	// below.
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
		c.timeoutTimer = nil
	}
	if c.kaStop != nil {
		close(c.kaStop)
		c.kaStop = nil
	}
	c.tracker.Stop()
	c.state.Store(int32(StateClosed))
	c.sink.Store(sinkFunc(func([]byte) {}))
	c.mu.Unlock()

	c.conn.SetHandlers(transport.Handlers{})
	if c.conn.IsConnected() {
		_ = c.conn.Disconnect()
	}

	close(c.closedCh)

	if wasHandshaked {
		c.metrics.RecordChannelClose(reason)
	}
	c.logger.Info("channel closed",
		logging.KeyActor, c.local.Key(),
		logging.KeyEndpoint, c.Endpoint(),
		logging.KeyReason, reason)

	if hadSession && c.events.Disconnected != nil {
		c.events.Disconnected(c.Endpoint(), lastRemote)
	}

	// Observers of the Disconnected event saw the last identity;
	// only now is it cleared.
	c.mu.Lock()
	c.remote = actor.Identity{}
	c.handshaked = false
	c.mu.Unlock()
}
