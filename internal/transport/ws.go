package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/recovery"
)

// WebSocket transport constants.
const (
	wsDefaultPath  = "/redola"
	wsSubprotocol  = "redola/1"
	wsMaxFrameSize = protocol.MaxFrameSize
)

// WSConnector implements Connector over a WebSocket connection. The
// message boundary is the frame boundary, so no reassembly is needed:
// one binary message in, one DataReceived buffer out.
type WSConnector struct {
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	gen  uint64

	hmu      sync.RWMutex
	handlers Handlers
}

// NewWSConnector creates a connector for the given endpoint. The
// endpoint may be a "host:port" pair or a full ws:// / wss:// URL.
func NewWSConnector(endpoint string, logger *slog.Logger) *WSConnector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WSConnector{endpoint: endpoint, logger: logger}
}

// Endpoint returns the remote endpoint.
func (c *WSConnector) Endpoint() string {
	return c.endpoint
}

// Type returns the transport type.
func (c *WSConnector) Type() Type {
	return TypeWebSocket
}

// SetHandlers installs the event handlers.
func (c *WSConnector) SetHandlers(h Handlers) {
	c.hmu.Lock()
	c.handlers = h
	c.hmu.Unlock()
}

func (c *WSConnector) snapshotHandlers() Handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

// IsConnected reports whether a connection is up.
func (c *WSConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the endpoint, blocking up to timeout.
func (c *WSConnector) Connect(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, websocketURL(c.endpoint), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, c.endpoint, timeout)
		}
		return fmt.Errorf("websocket dial %s: %w", c.endpoint, err)
	}
	conn.SetReadLimit(wsMaxFrameSize)

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "duplicate connect")
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Debug("websocket connected", logging.KeyEndpoint, c.endpoint)

	if h := c.snapshotHandlers(); h.Connected != nil {
		h.Connected()
	}

	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears the connection down without firing Disconnected.
func (c *WSConnector) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "closed")
}

// Send writes one frame as a single binary message.
func (c *WSConnector) Send(p []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

// BeginSend writes on a separate goroutine and reports via done.
func (c *WSConnector) BeginSend(p []byte, done func(error)) {
	go func() {
		defer recovery.LogPanic(c.logger, "transport.ws.BeginSend")
		err := c.Send(p)
		if done != nil {
			done(err)
		}
	}()
}

func (c *WSConnector) readLoop(conn *websocket.Conn, gen uint64) {
	defer recovery.LogPanic(c.logger, "transport.ws.readLoop")

	for {
		msgType, p, err := conn.Read(context.Background())
		if err == nil && msgType != websocket.MessageBinary {
			err = fmt.Errorf("unexpected message type %v", msgType)
		}
		if err != nil {
			c.mu.Lock()
			current := c.gen == gen
			if current {
				c.conn = nil
				c.gen++
			}
			c.mu.Unlock()

			conn.Close(websocket.StatusProtocolError, "read failed")
			if current {
				c.logger.Debug("websocket connection lost",
					logging.KeyEndpoint, c.endpoint,
					logging.KeyError, err)
				if h := c.snapshotHandlers(); h.Disconnected != nil {
					h.Disconnected(err)
				}
			}
			return
		}

		if h := c.snapshotHandlers(); h.DataReceived != nil {
			h.DataReceived(p)
		}
	}
}

// websocketURL normalizes an endpoint into a WebSocket URL.
func websocketURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + wsDefaultPath
}
