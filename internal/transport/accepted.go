package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/recovery"
)

// AcceptedConn adapts an already-accepted TCP connection to the
// Connector interface for acceptor-side channels. Inbound delivery
// does not begin until Start, so the owner can install handlers
// without racing the first frame.
type AcceptedConn struct {
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	hmu      sync.RWMutex
	handlers Handlers

	startOnce sync.Once
}

// NewAcceptedConn wraps an accepted connection.
func NewAcceptedConn(conn net.Conn, logger *slog.Logger) *AcceptedConn {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &AcceptedConn{conn: conn, logger: logger}
}

// Start begins the reader loop. Call after SetHandlers.
func (c *AcceptedConn) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// Endpoint returns the remote address of the accepted connection.
func (c *AcceptedConn) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Type returns the transport type.
func (c *AcceptedConn) Type() Type {
	return TypeTCP
}

// SetHandlers installs the event handlers.
func (c *AcceptedConn) SetHandlers(h Handlers) {
	c.hmu.Lock()
	c.handlers = h
	c.hmu.Unlock()
}

func (c *AcceptedConn) snapshotHandlers() Handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

// IsConnected reports whether the connection is still up.
func (c *AcceptedConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Connect is invalid on an accepted connection.
func (c *AcceptedConn) Connect(timeout time.Duration) error {
	return ErrAlreadyConnected
}

// Disconnect tears the connection down without firing Disconnected.
func (c *AcceptedConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes one pre-framed buffer. Writes are serialized.
func (c *AcceptedConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if c.closed {
		return ErrClosed
	}
	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("tcp send: %w", err)
	}
	return nil
}

// BeginSend writes on a separate goroutine and reports via done.
func (c *AcceptedConn) BeginSend(p []byte, done func(error)) {
	go func() {
		defer recovery.LogPanic(c.logger, "transport.accepted.BeginSend")
		err := c.Send(p)
		if done != nil {
			done(err)
		}
	}()
}

func (c *AcceptedConn) readLoop() {
	defer recovery.LogPanic(c.logger, "transport.accepted.readLoop")

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	fr := protocol.NewFrameReader(conn)
	for {
		raw, err := fr.ReadRaw()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			c.mu.Unlock()

			conn.Close()
			if !wasClosed {
				if h := c.snapshotHandlers(); h.Disconnected != nil {
					h.Disconnected(err)
				}
			}
			return
		}

		if h := c.snapshotHandlers(); h.DataReceived != nil {
			h.DataReceived(raw)
		}
	}
}
