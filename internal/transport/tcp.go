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

// TCPConnector implements Connector over a raw TCP byte stream.
// Frames are length-prefixed on the wire; the reader goroutine
// reassembles them so every DataReceived event carries exactly one
// complete frame.
type TCPConnector struct {
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex // guards conn, gen, and serializes writes
	conn net.Conn
	gen  uint64 // bumped on every connect/disconnect

	hmu      sync.RWMutex
	handlers Handlers
}

// NewTCPConnector creates a connector for the given "host:port"
// endpoint. A nil logger is replaced with a silent one.
func NewTCPConnector(endpoint string, logger *slog.Logger) *TCPConnector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &TCPConnector{endpoint: endpoint, logger: logger}
}

// Endpoint returns the remote endpoint.
func (c *TCPConnector) Endpoint() string {
	return c.endpoint
}

// Type returns the transport type.
func (c *TCPConnector) Type() Type {
	return TypeTCP
}

// SetHandlers installs the event handlers.
func (c *TCPConnector) SetHandlers(h Handlers) {
	c.hmu.Lock()
	c.handlers = h
	c.hmu.Unlock()
}

func (c *TCPConnector) snapshotHandlers() Handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

// IsConnected reports whether a connection is up.
func (c *TCPConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the endpoint, blocking up to timeout.
func (c *TCPConnector) Connect(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", c.endpoint, timeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, c.endpoint, timeout)
		}
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Debug("tcp connected",
		logging.KeyEndpoint, c.endpoint,
		logging.KeyLocalAddr, conn.LocalAddr().String())

	if h := c.snapshotHandlers(); h.Connected != nil {
		h.Connected()
	}

	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears the connection down without firing Disconnected.
func (c *TCPConnector) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes one pre-framed buffer. Writes are serialized.
func (c *TCPConnector) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("tcp send: %w", err)
	}
	return nil
}

// BeginSend writes on a separate goroutine and reports via done.
func (c *TCPConnector) BeginSend(p []byte, done func(error)) {
	go func() {
		defer recovery.LogPanic(c.logger, "transport.tcp.BeginSend")
		err := c.Send(p)
		if done != nil {
			done(err)
		}
	}()
}

// readLoop reassembles frames off conn until it dies. gen ties the
// loop to one connect; a stale loop never fires events or clears the
// connection state of its successor.
func (c *TCPConnector) readLoop(conn net.Conn, gen uint64) {
	defer recovery.LogPanic(c.logger, "transport.tcp.readLoop")

	fr := protocol.NewFrameReader(conn)
	for {
		raw, err := fr.ReadRaw()
		if err != nil {
			c.mu.Lock()
			current := c.gen == gen
			if current {
				c.conn = nil
				c.gen++
			}
			c.mu.Unlock()

			conn.Close()
			if current {
				c.logger.Debug("tcp connection lost",
					logging.KeyEndpoint, c.endpoint,
					logging.KeyError, err)
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
