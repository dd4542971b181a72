package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/transport"
)

// mockConnector is an in-memory Connector whose inbound side is
// driven by the test.
type mockConnector struct {
	endpoint string

	mu         sync.Mutex
	connected  bool
	handlers   transport.Handlers
	sent       [][]byte
	connectErr error
	sendErr    error
}

func newMockConnector() *mockConnector {
	return &mockConnector{endpoint: "127.0.0.1:19090"}
}

func (m *mockConnector) Endpoint() string { return m.endpoint }

func (m *mockConnector) Type() transport.Type { return transport.TypeTCP }

func (m *mockConnector) SetHandlers(h transport.Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

func (m *mockConnector) snapshot() transport.Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *mockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockConnector) Connect(timeout time.Duration) error {
	m.mu.Lock()
	if m.connectErr != nil {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.connected = true
	m.mu.Unlock()

	if h := m.snapshot(); h.Connected != nil {
		h.Connected()
	}
	return nil
}

func (m *mockConnector) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *mockConnector) Send(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if !m.connected {
		return transport.ErrNotConnected
	}
	m.sent = append(m.sent, append([]byte(nil), p...))
	return nil
}

func (m *mockConnector) BeginSend(p []byte, done func(error)) {
	err := m.Send(p)
	if done != nil {
		done(err)
	}
}

// sentFrames returns the decoded frames handed to the transport.
func (m *mockConnector) sentFrames() []*protocol.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*protocol.Frame, 0, len(m.sent))
	for _, buf := range m.sent {
		if f, err := protocol.Decode(buf); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockConnector) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// countOp counts sent frames carrying the opcode.
func (m *mockConnector) countOp(op protocol.OpCode) int {
	n := 0
	for _, f := range m.sentFrames() {
		if f.Op == op {
			n++
		}
	}
	return n
}

// waitOp polls until at least n frames with the opcode were sent.
func (m *mockConnector) waitOp(op protocol.OpCode, n int, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if m.countOp(op) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return m.countOp(op) >= n
}

// inject delivers a frame to the connector's DataReceived handler the
// way a transport reader would.
func (m *mockConnector) inject(f *protocol.Frame) {
	buf, err := f.Encode()
	if err != nil {
		panic(err)
	}
	m.injectRaw(buf)
}

func (m *mockConnector) injectRaw(p []byte) {
	if h := m.snapshot(); h.DataReceived != nil {
		h.DataReceived(p)
	}
}

// transportTimeout builds the error a connector returns on a dial
// timeout.
func transportTimeout() error {
	return fmt.Errorf("%w: mock", transport.ErrConnectTimeout)
}

// dropConnection simulates an unsolicited transport disconnect.
func (m *mockConnector) dropConnection(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	if h := m.snapshot(); h.Disconnected != nil {
		h.Disconnected(err)
	}
}
