package uci

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	Session Config
	// MaxProcesses caps concurrently running engine processes.
	MaxProcesses int
}

// Pool limits how many engine processes run at once. Each Acquire spawns a
// fresh session that lives for one request; Release always tears it down.
type Pool struct {
	cfg   Config
	slots chan struct{}
	log   *zap.Logger

	mu     sync.Mutex
	live   map[*Session]struct{}
	closed bool
}

// NewPool resolves the engine binary once. A missing binary is a
// construction error.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Session.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	resolved, err := exec.LookPath(cfg.Session.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	sessionCfg := cfg.Session.withDefaults()
	sessionCfg.BinaryPath = resolved

	capacity := cfg.MaxProcesses
	if capacity <= 0 {
		capacity = defaultMaxProcesses()
	}

	return &Pool{
		cfg:   sessionCfg,
		slots: make(chan struct{}, capacity),
		log:   sessionCfg.Logger,
		live:  make(map[*Session]struct{}),
	}, nil
}

func (p *Pool) BinaryPath() string {
	return p.cfg.BinaryPath
}

func (p *Pool) Depth() int {
	return p.cfg.Depth
}

// Capacity is the maximum number of concurrent sessions.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// Live reports how many sessions are currently checked out.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Acquire waits for a free slot and starts a new session in it.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		<-p.slots
		return nil, ErrPoolClosed
	}

	session, err := NewSession(ctx, p.cfg)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = session.Close()
		<-p.slots
		return nil, ErrPoolClosed
	}
	p.live[session] = struct{}{}
	p.mu.Unlock()
	return session, nil
}

// Release terminates the session and frees its slot. err is the outcome of
// the work done with the session and is only logged.
func (p *Pool) Release(session *Session, err error) {
	if session == nil {
		return
	}
	p.mu.Lock()
	_, tracked := p.live[session]
	delete(p.live, session)
	p.mu.Unlock()

	if err != nil {
		p.log.Debug("engine_session_release", zap.Int("pid", session.PID()), zap.Error(err))
	}
	if cerr := session.Close(); cerr != nil {
		p.log.Warn("engine_session_close", zap.Int("pid", session.PID()), zap.Error(cerr))
	}
	if tracked {
		<-p.slots
	}
}

// Close terminates every checked-out session. Later Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*Session, 0, len(p.live))
	for s := range p.live {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func defaultMaxProcesses() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
