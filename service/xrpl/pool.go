package xrpl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sablefin/mintd/service/metrics"
)

// DialFunc opens a session to a single endpoint. The production dialer wraps
// Dial; tests substitute fakes.
type DialFunc func(ctx context.Context, endpoint string, network Network) (Session, error)

const (
	// DefaultMaxIdle is how long a session may sit unused before the pool
	// discards it instead of handing it out.
	DefaultMaxIdle = 5 * time.Minute

	// healthCheckTimeout bounds the liveness probe on acquire.
	healthCheckTimeout = 5 * time.Second
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Endpoints maps each network to its candidate endpoints, tried in
	// order on connect failure.
	Endpoints map[Network][]string

	// MaxIdle is the idle window after which a session is discarded.
	// Defaults to DefaultMaxIdle.
	MaxIdle time.Duration

	// Dial overrides the production dialer. Nil means Dial over WebSocket.
	Dial DialFunc

	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger
}

// Pool owns at most one live session per network. It is the only owner of
// session lifetime: callers acquire, never close. Concurrent acquires for
// the same network while a dial is in flight share that single dial.
type Pool struct {
	endpoints map[Network][]string
	maxIdle   time.Duration
	dial      DialFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	conns    map[Network]Session
	closed   bool
	inflight singleflight.Group

	sweepDone chan struct{}
	sweepStop sync.Once
}

// NewPool creates a connection pool. Call StartSweeper to enable background
// eviction of idle sessions, and Shutdown when done.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, endpoint string, network Network) (Session, error) {
			return Dial(ctx, endpoint, network, cfg.Metrics, cfg.Logger)
		}
	}
	return &Pool{
		endpoints: cfg.Endpoints,
		maxIdle:   cfg.MaxIdle,
		dial:      dial,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		conns:     make(map[Network]Session),
		sweepDone: make(chan struct{}),
	}
}

// Acquire returns a live session for the network. The returned session has
// passed a liveness check within the idle window at the moment of return.
// Connect and health-check failures are not retried here beyond the
// endpoint candidate list; the caller decides whether to retry.
func (p *Pool) Acquire(ctx context.Context, network Network) (Session, error) {
	endpoints, ok := p.endpoints[network]
	if !ok || len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrSessionClosed
	}
	cached := p.conns[network]
	p.mu.Unlock()

	if cached != nil {
		if p.verify(ctx, cached) {
			if p.metrics != nil {
				p.metrics.RecordPoolAcquire(string(network), "cached")
			}
			return cached, nil
		}
		p.discard(network, cached)
	}

	// Share a single in-flight dial per network across concurrent callers.
	v, err, _ := p.inflight.Do(string(network), func() (any, error) {
		return p.connect(ctx, network, endpoints)
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPoolAcquire(string(network), "error")
		}
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordPoolAcquire(string(network), "dialed")
	}
	return v.(Session), nil
}

// verify checks that a cached session is alive, healthy, and inside the
// idle window.
func (p *Pool) verify(ctx context.Context, s Session) bool {
	if !s.Alive() {
		return false
	}
	if time.Since(s.LastUsed()) > p.maxIdle {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	info, err := s.ServerInfo(probeCtx)
	if err != nil || !info.Healthy() {
		if p.metrics != nil {
			p.metrics.RecordHealthCheckFailure()
		}
		return false
	}
	return true
}

// connect tries the candidate endpoints in order and returns the first
// session that dials and passes its health check. It surfaces failure only
// once every candidate is exhausted.
func (p *Pool) connect(ctx context.Context, network Network, endpoints []string) (Session, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		s, err := p.dial(ctx, endpoint, network)
		if err != nil {
			p.logger.WarnContext(ctx, "endpoint dial failed, trying next candidate",
				"network", network,
				"endpoint", endpoint,
				"error", err,
			)
			lastErr = err
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		info, err := s.ServerInfo(probeCtx)
		cancel()
		if err != nil || !info.Healthy() {
			if err == nil {
				err = fmt.Errorf("endpoint %s unhealthy: server_state %q", endpoint, info.Info.ServerState)
			}
			p.logger.WarnContext(ctx, "endpoint failed health check, trying next candidate",
				"network", network,
				"endpoint", endpoint,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.RecordHealthCheckFailure()
			}
			s.Close()
			lastErr = err
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			s.Close()
			return nil, ErrSessionClosed
		}
		// A session may have been stored by a sweep race; replace it.
		if old := p.conns[network]; old != nil && old != s {
			old.Close()
		}
		p.conns[network] = s
		open := len(p.conns)
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.SetPoolOpenConnections(open)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: network %s: %v", ErrNoEndpointReachable, network, lastErr)
}

// discard drops a session from the pool if it is still the cached one, then
// closes it.
func (p *Pool) discard(network Network, s Session) {
	p.mu.Lock()
	if p.conns[network] == s {
		delete(p.conns, network)
	}
	open := len(p.conns)
	p.mu.Unlock()
	s.Close()
	if p.metrics != nil {
		p.metrics.SetPoolOpenConnections(open)
	}
	p.logger.Debug("discarded stale session", "network", network)
}

// StartSweeper launches the background sweep that closes sessions idle
// beyond the threshold across all networks. It returns immediately.
func (p *Pool) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.sweepDone:
				return
			case <-ticker.C:
				p.sweepIdle()
			}
		}
	}()
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var stale []struct {
		network Network
		s       Session
	}
	for network, s := range p.conns {
		if !s.Alive() || time.Since(s.LastUsed()) > p.maxIdle {
			stale = append(stale, struct {
				network Network
				s       Session
			}{network, s})
			delete(p.conns, network)
		}
	}
	open := len(p.conns)
	p.mu.Unlock()

	for _, e := range stale {
		e.s.Close()
		p.logger.Debug("swept idle session", "network", e.network)
	}
	if p.metrics != nil && len(stale) > 0 {
		p.metrics.SetPoolOpenConnections(open)
	}
}

// Shutdown stops the sweeper, closes every open session, and clears the
// in-flight dial map. The pool is unusable afterwards.
func (p *Pool) Shutdown() {
	p.sweepStop.Do(func() { close(p.sweepDone) })

	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = make(map[Network]Session)
	p.mu.Unlock()

	for network, s := range conns {
		s.Close()
		p.inflight.Forget(string(network))
	}
	if p.metrics != nil {
		p.metrics.SetPoolOpenConnections(0)
	}
	p.logger.Info("connection pool shut down", "closed", len(conns))
}
