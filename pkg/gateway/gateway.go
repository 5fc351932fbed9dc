// Package gateway wires the chain client, peer pool, retrieval
// pipeline, data cache, and rate limiter into a running service: it
// owns the component lifecycle (start/stop) and exposes an HTTP surface
// over them.
//
// The lifecycle is a mutex-guarded struct transitioning Stopped ->
// Starting -> Running -> Stopping -> Stopped, with a cancelable context
// carried for the lifetime of the run and a done channel Stop waits on.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ar-io/ar-io-node-sub005/pkg/chain"
	"github.com/ar-io/ar-io-node-sub005/pkg/datacache"
	"github.com/ar-io/ar-io-node-sub005/pkg/gwlog"
	"github.com/ar-io/ar-io-node-sub005/pkg/peer"
	"github.com/ar-io/ar-io-node-sub005/pkg/ratelimit"
	"github.com/ar-io/ar-io-node-sub005/pkg/retrieval"
)

// shutdownGrace bounds how long an in-flight request gets to finish
// once the gateway's context is canceled.
const shutdownGrace = 5 * time.Second

// State is the gateway's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config wires every component this gateway serves requests from.
type Config struct {
	Chain      *chain.Client
	Peers      *peer.Manager
	Retrieval  *retrieval.Pipeline
	DataCache  *datacache.Cache
	RateLimit  ratelimit.Limiter
	Fanout     int
	ListenAddr string
}

// Gateway holds the running service's lifecycle state and component
// wiring; its HTTP handlers serve id routes through the data cache and
// chunk-offset routes through the retrieval pipeline.
type Gateway struct {
	mu    sync.RWMutex
	state State
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Gateway {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 3
	}
	return &Gateway{state: StateStopped, cfg: cfg, done: make(chan struct{})}
}

func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Start transitions the gateway to Running and begins serving the HTTP
// surface on cfg.ListenAddr. It waits 50ms for an early server error
// (such as a failed bind) and otherwise returns nil; it does not confirm
// that the listener is accepting. The server itself runs until ctx is
// canceled or Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateRunning || g.state == StateStarting {
		g.mu.Unlock()
		return fmt.Errorf("gateway: already %s", g.state)
	}
	g.state = StateStarting
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.mu.Unlock()

	srv := newServer(g.cfg)
	errCh := make(chan error, 1)
	go func() {
		defer close(g.done)
		errCh <- srv.run(g.ctx, g.cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		g.mu.Lock()
		g.state = StateStopped
		g.mu.Unlock()
		return fmt.Errorf("gateway: server exited early: %w", err)
	case <-time.After(50 * time.Millisecond):
	}

	g.mu.Lock()
	g.state = StateRunning
	g.mu.Unlock()

	gwlog.FromContext(ctx).Info().Str("addr", g.cfg.ListenAddr).Msg("gateway started")
	return nil
}

// Stop cancels the running server and waits for it to exit, or for ctx
// to expire first.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateStopped {
		g.mu.Unlock()
		return fmt.Errorf("gateway: already stopped")
	}
	g.state = StateStopping
	cancel := g.cancel
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-g.done:
	case <-ctx.Done():
		return fmt.Errorf("gateway: timeout waiting for shutdown")
	}

	g.mu.Lock()
	g.state = StateStopped
	g.mu.Unlock()
	return nil
}
