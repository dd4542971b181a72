package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/HaoQinLandv/Redola/internal/protocol"
)

// startEchoListener accepts one TCP connection and echoes every frame
// back verbatim. Returns the listen address.
func startEchoListener(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fr := protocol.NewFrameReader(conn)
		for {
			raw, err := fr.ReadRaw()
			if err != nil {
				return
			}
			if _, err := conn.Write(raw); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestTCPConnectorSendReceive(t *testing.T) {
	addr := startEchoListener(t)

	c := NewTCPConnector(addr, nil)

	var mu sync.Mutex
	var received [][]byte
	connected := make(chan struct{})

	c.SetHandlers(Handlers{
		Connected: func() { close(connected) },
		DataReceived: func(p []byte) {
			mu.Lock()
			received = append(received, append([]byte(nil), p...))
			mu.Unlock()
		},
	})

	if c.IsConnected() {
		t.Error("new connector should not be connected")
	}
	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("Connected handler not fired")
	}
	if !c.IsConnected() {
		t.Error("connector should report connected")
	}

	f := &protocol.Frame{Op: protocol.OpData, Payload: []byte("echo me")}
	buf, _ := f.Encode()
	if err := c.Send(buf); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame echoed back")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	got := received[0]
	mu.Unlock()

	decoded, err := protocol.Decode(got)
	if err != nil {
		t.Fatalf("received buffer does not decode: %v", err)
	}
	if decoded.Op != protocol.OpData || string(decoded.Payload) != "echo me" {
		t.Errorf("echoed frame = %s %q", decoded.Op.Name(), decoded.Payload)
	}
}

func TestTCPConnectorDoubleConnect(t *testing.T) {
	addr := startEchoListener(t)

	c := NewTCPConnector(addr, nil)
	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(2 * time.Second); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestTCPConnectorSendWhenDisconnected(t *testing.T) {
	c := NewTCPConnector("127.0.0.1:1", nil)
	if err := c.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send on fresh connector = %v, want ErrNotConnected", err)
	}
}

func TestTCPConnectorPeerCloseFiresDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := NewTCPConnector(ln.Addr().String(), nil)
	disconnected := make(chan error, 1)
	c.SetHandlers(Handlers{
		Disconnected: func(err error) { disconnected <- err },
	})

	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(time.Second):
		t.Fatal("no connection accepted")
	}

	select {
	case err := <-disconnected:
		if err == nil {
			t.Error("Disconnected should carry the read error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected handler not fired after peer close")
	}
	if c.IsConnected() {
		t.Error("connector should report disconnected")
	}
}

func TestTCPConnectorLocalDisconnectIsSilent(t *testing.T) {
	addr := startEchoListener(t)

	c := NewTCPConnector(addr, nil)
	disconnected := make(chan error, 1)
	c.SetHandlers(Handlers{
		Disconnected: func(err error) { disconnected <- err },
	})

	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("repeated Disconnect failed: %v", err)
	}

	select {
	case <-disconnected:
		t.Error("local Disconnect must not fire the Disconnected handler")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTCPConnectorBeginSend(t *testing.T) {
	addr := startEchoListener(t)

	c := NewTCPConnector(addr, nil)
	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	f := &protocol.Frame{Op: protocol.OpPing}
	buf, _ := f.Encode()

	done := make(chan error, 1)
	c.BeginSend(buf, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("BeginSend completion = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BeginSend completion not invoked")
	}
}

func TestNewFactory(t *testing.T) {
	if c, err := New(TypeTCP, "127.0.0.1:1", nil); err != nil || c.Type() != TypeTCP {
		t.Errorf("New(tcp) = %v, %v", c, err)
	}
	if c, err := New("", "127.0.0.1:1", nil); err != nil || c.Type() != TypeTCP {
		t.Errorf("New(default) = %v, %v", c, err)
	}
	if c, err := New(TypeWebSocket, "127.0.0.1:1", nil); err != nil || c.Type() != TypeWebSocket {
		t.Errorf("New(ws) = %v, %v", c, err)
	}
	if _, err := New("carrier-pigeon", "x", nil); err == nil {
		t.Error("New should reject unknown transport types")
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"example.com:9000":       "ws://example.com:9000/redola",
		"ws://example.com/x":     "ws://example.com/x",
		"wss://example.com:9000": "wss://example.com:9000",
	}
	for in, want := range cases {
		if got := websocketURL(in); got != want {
			t.Errorf("websocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
