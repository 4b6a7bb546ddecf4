// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts inbound TCP connections on a single address. It
// is the only transport relaybroker ships: producers and consumers are
// always local or same-LAN processes, so there is no NAT traversal or
// signaling concern to solve.
type TCPListener struct {
	listener net.Listener

	closeOnce sync.Once
}

// NewTCPListener creates a TCP transport listener on the specified
// address (e.g., ":8765" or "127.0.0.1:8765"). Use ":0" for a random
// available port, which testutil.Listener does for tests.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// NewTCPListenerFrom wraps an already-open net.Listener, letting tests
// supply a listener bound with testutil.Listener instead of parsing an
// address string.
func NewTCPListenerFrom(listener net.Listener) *TCPListener {
	return &TCPListener{listener: listener}
}

// Serve accepts connections until ctx is cancelled or Close is called,
// dispatching each to handler in its own goroutine. Serve itself never
// blocks on a handler; a slow or wedged connection cannot stop new
// connections from being accepted.
func (l *TCPListener) Serve(ctx context.Context, handler ConnHandler) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handler(ctx, conn)
		}()
	}
}

// Address returns the TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the TCP listener. Safe to call more than once.
func (l *TCPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.listener.Close()
	})
	return err
}

// TCPDialer opens TCP connections to a broker.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means no standalone timeout — only the context
	// deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}
