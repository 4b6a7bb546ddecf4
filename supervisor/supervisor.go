// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/transport"
)

// probeTimeout bounds how long AcquireOrSpawn waits for an existing
// broker to answer before deciding to spawn one.
const probeTimeout = 200 * time.Millisecond

// Ownership records whether this process spawned the broker it is
// using, or merely attached to one already running.
type Ownership int

const (
	Attached Ownership = iota
	Owner
)

func (o Ownership) String() string {
	if o == Owner {
		return "owner"
	}
	return "attached"
}

// Handle is the result of AcquireOrSpawn. Shutdown is always safe to
// call; it only has an effect when Ownership is Owner, per spec
// section 4.4's "only an owner stops the broker on shutdown".
type Handle struct {
	Ownership Ownership
	address   string

	stop   context.CancelFunc
	closer func()
	done   <-chan struct{}
}

// Address returns the broker's listen address, whether attached or owned.
func (h *Handle) Address() string {
	return h.address
}

// Shutdown stops the broker if this handle owns it, and waits for the
// serve loop to exit. A no-op for an attached handle.
func (h *Handle) Shutdown() {
	if h.Ownership != Owner {
		return
	}
	h.stop()
	h.closer()
	<-h.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func attachedHandle(address string) *Handle {
	return &Handle{
		Ownership: Attached,
		address:   address,
		stop:      func() {},
		closer:    func() {},
		done:      closedChan,
	}
}

// spawnLock is the in-process soft lock from spec section 4.4: it
// prevents two goroutines in the same process from racing to spawn a
// broker on the same port. The cross-process race is resolved by the
// listen bind itself failing for the loser, who then falls back to
// attaching.
type spawnLock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	starting bool
}

func newSpawnLock() *spawnLock {
	l := &spawnLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *spawnLock) acquire() {
	l.mu.Lock()
	for l.starting {
		l.cond.Wait()
	}
	l.starting = true
	l.mu.Unlock()
}

func (l *spawnLock) release() {
	l.mu.Lock()
	l.starting = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

var globalSpawnLock = newSpawnLock()

// AcquireOrSpawn implements spec section 4.4: probe the broker's
// address, attach if something answers, otherwise spawn an in-process
// broker and install signal handlers that stop it on interrupt or
// termination.
func AcquireOrSpawn(ctx context.Context, cfg config.Config, clk clock.Clock, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if probe(ctx, cfg.ListenAddress) {
		logger.Debug("attached to existing broker", "address", cfg.ListenAddress)
		return attachedHandle(cfg.ListenAddress), nil
	}

	globalSpawnLock.acquire()
	defer globalSpawnLock.release()

	// Another goroutine in this process may have finished spawning
	// while we waited for the lock.
	if probe(ctx, cfg.ListenAddress) {
		logger.Debug("attached to broker spawned by a concurrent caller", "address", cfg.ListenAddress)
		return attachedHandle(cfg.ListenAddress), nil
	}

	listener, err := transport.NewTCPListener(cfg.ListenAddress)
	if err != nil {
		// A different process won the bind race between our probe and
		// now; fall back to attaching to it.
		if probe(ctx, cfg.ListenAddress) {
			logger.Debug("lost the spawn race, attaching instead", "address", cfg.ListenAddress)
			return attachedHandle(cfg.ListenAddress), nil
		}
		return nil, fmt.Errorf("spawning broker on %s: %w", cfg.ListenAddress, err)
	}

	server := broker.NewServer(cfg, clk, logger)
	serveCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(serveCtx, listener); err != nil {
			logger.Error("owned broker's serve loop exited", "error", err)
		}
	}()

	logger.Info("spawned broker", "address", listener.Address())
	return &Handle{
		Ownership: Owner,
		address:   listener.Address(),
		stop:      stop,
		closer:    func() { listener.Close() },
		done:      done,
	}, nil
}

// probe reports whether something is already listening at address.
func probe(ctx context.Context, address string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
