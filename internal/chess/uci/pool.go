package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("engine pool closed")

// Launcher starts one ready session for the given options.
type Launcher func(ctx context.Context, opt Options) (*Session, error)

type PoolConfig struct {
	BinaryPath string
	// PerKeyCapacity caps live sessions per option set.
	PerKeyCapacity int
	SessionOptions []SessionOption
	// Launcher overrides process launching; BinaryPath is ignored when set.
	Launcher Launcher
	Logger   *zap.Logger
}

// Pool groups sessions by option set. A session belongs to at most one
// Lease at a time and goes back to the pool quiet: no search running and
// its output drained behind a ready barrier.
type Pool struct {
	launch   Launcher
	capacity int
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	groups map[Options]*group
}

// group holds the sessions of one option set. slots has one token per live
// or launching session.
type group struct {
	opt   Options
	slots chan struct{}

	mu      sync.Mutex
	idle    []*Session
	changed chan struct{}
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	launch := cfg.Launcher
	if launch == nil {
		if cfg.BinaryPath == "" {
			return nil, fmt.Errorf("%w: binary path required", ErrEngineUnavailable)
		}
		if _, err := os.Stat(cfg.BinaryPath); err != nil {
			return nil, fmt.Errorf("%w: stockfish binary check: %v", ErrEngineUnavailable, err)
		}
		path, sessionOpts := cfg.BinaryPath, cfg.SessionOptions
		launch = func(ctx context.Context, opt Options) (*Session, error) {
			return NewSession(ctx, path, opt, sessionOpts...)
		}
	}

	capacity := cfg.PerKeyCapacity
	if capacity <= 0 {
		capacity = min(max(runtime.NumCPU(), 2), 4)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		launch:   launch,
		capacity: capacity,
		logger:   logger,
		groups:   make(map[Options]*group),
	}, nil
}

// Lease is exclusive use of one pooled session until Return.
type Lease struct {
	pool    *Pool
	g       *group
	session *Session
	once    sync.Once
}

func (l *Lease) Session() *Session { return l.session }

// Return hands the session back. A nil err stops any search and waits for
// the engine to acknowledge a ready barrier first; a session that fails
// that, or returns with an error, is closed instead of reused. Calls after
// the first are no-ops.
func (l *Lease) Return(err error) {
	l.once.Do(func() {
		if err == nil {
			err = quiesce(l.session)
		}
		l.pool.put(l.g, l.session, err)
	})
}

func quiesce(s *Session) error {
	if st := s.State(); st.Unusable {
		return st.Err
	}
	s.Stop()
	return s.EnsureReady(context.Background())
}

// Acquire leases a session for opt, reusing an idle one when possible. At
// capacity it waits for a return or for ctx.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Lease, error) {
	g, err := p.group(opt)
	if err != nil {
		return nil, err
	}

	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}
		s, changed := g.take()
		if s != nil {
			if s.State().Unusable {
				p.retire(g, s)
				continue
			}
			return &Lease{pool: p, g: g, session: s}, nil
		}

		select {
		case g.slots <- struct{}{}:
			s, err := p.launch(ctx, opt)
			if err != nil {
				<-g.slots
				g.notify()
				return nil, err
			}
			p.logger.Debug("engine session launched",
				zap.Int("threads", opt.Threads),
				zap.Int("multipv", opt.MultiPV),
				zap.Int("live", len(g.slots)))
			return &Lease{pool: p, g: g, session: s}, nil
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) group(opt Options) (*group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	g, ok := p.groups[opt]
	if !ok {
		g = &group{
			opt:     opt,
			slots:   make(chan struct{}, p.capacity),
			changed: make(chan struct{}),
		}
		p.groups[opt] = g
	}
	return g, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) put(g *group, s *Session, err error) {
	if err != nil {
		p.logger.Debug("engine session retired", zap.Error(err))
		p.retire(g, s)
		return
	}
	// closed is checked under g.mu so Close cannot miss the append.
	g.mu.Lock()
	if p.isClosed() {
		g.mu.Unlock()
		p.retire(g, s)
		return
	}
	g.idle = append(g.idle, s)
	g.mu.Unlock()
	g.notify()
}

func (p *Pool) retire(g *group, s *Session) {
	_ = s.Close()
	<-g.slots
	g.notify()
}

// Close shuts down idle sessions. Leased sessions are closed when returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	groups := make([]*group, 0, len(p.groups))
	for _, g := range p.groups {
		groups = append(groups, g)
	}
	p.mu.Unlock()

	var errs []error
	for _, g := range groups {
		g.mu.Lock()
		idle := g.idle
		g.idle = nil
		g.mu.Unlock()
		for _, s := range idle {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			<-g.slots
		}
		g.notify()
	}
	return errors.Join(errs...)
}

// take pops the most recently returned session. With none idle it returns
// the channel closed on the next return or retirement.
func (g *group) take() (*Session, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.idle); n > 0 {
		s := g.idle[n-1]
		g.idle = g.idle[:n-1]
		return s, nil
	}
	return nil, g.changed
}

func (g *group) notify() {
	g.mu.Lock()
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}
