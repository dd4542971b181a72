package channel

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/HaoQinLandv/Redola/internal/actor"
	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/recovery"
	"github.com/HaoQinLandv/Redola/internal/transport"
)

// Acceptor listens for inbound connections and runs one ServerChannel
// per accepted connection.
type Acceptor struct {
	local  actor.Identity
	addr   string
	opts   Options
	events Events
	logger *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	channels map[*ServerChannel]struct{}

	wg sync.WaitGroup
}

// NewAcceptor creates an acceptor for the local actor on addr.
func NewAcceptor(local actor.Identity, addr string, opts Options, events Events) *Acceptor {
	opts.applyDefaults()
	return &Acceptor{
		local:    local,
		addr:     addr,
		opts:     opts,
		events:   events,
		logger:   opts.Logger,
		channels: make(map[*ServerChannel]struct{}),
	}
}

// Open starts listening and accepting.
func (a *Acceptor) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.ln != nil {
		return ErrAlreadyOpen
	}

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	a.ln = ln

	a.logger.Info("acceptor listening",
		logging.KeyActor, a.local.Key(),
		logging.KeyLocalAddr, ln.Addr().String())

	a.wg.Add(1)
	go a.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or nil before Open.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// ChannelCount returns the number of live server channels.
func (a *Acceptor) ChannelCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.channels)
}

// Channels returns the live server channels.
func (a *Acceptor) Channels() []*ServerChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*ServerChannel, 0, len(a.channels))
	for sc := range a.channels {
		out = append(out, sc)
	}
	return out
}

func (a *Acceptor) acceptLoop(ln net.Listener) {
	defer a.wg.Done()
	defer recovery.LogPanic(a.logger, "channel.acceptLoop")

	for {
		conn, err := ln.Accept()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				a.logger.Warn("accept failed", logging.KeyError, err)
			}
			return
		}

		a.handleConn(conn)
	}
}

func (a *Acceptor) handleConn(conn net.Conn) {
	ac := transport.NewAcceptedConn(conn, a.logger)

	var sc *ServerChannel
	events := Events{
		Connected:    a.events.Connected,
		DataReceived: a.events.DataReceived,
		Disconnected: func(endpoint string, remote actor.Identity) {
			a.mu.Lock()
			delete(a.channels, sc)
			a.mu.Unlock()
			if a.events.Disconnected != nil {
				a.events.Disconnected(endpoint, remote)
			}
		},
	}
	sc = NewServer(a.local, ac, a.opts, events)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.channels[sc] = struct{}{}
	a.mu.Unlock()

	if err := sc.Start(); err != nil {
		a.logger.Warn("server channel start failed", logging.KeyError, err)
		a.mu.Lock()
		delete(a.channels, sc)
		a.mu.Unlock()
		conn.Close()
	}
}

// Close stops listening and closes every live channel.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ln := a.ln
	chans := make([]*ServerChannel, 0, len(a.channels))
	for sc := range a.channels {
		chans = append(chans, sc)
	}
	a.channels = make(map[*ServerChannel]struct{})
	a.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, sc := range chans {
		sc.Close()
	}

	a.wg.Wait()
	return nil
}
