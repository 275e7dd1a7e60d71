package uci

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/blundrbot/internal/chess/uci/ucitest"
)

func TestNewPoolRejectsMissingBinary(t *testing.T) {
	if _, err := NewPool(PoolConfig{Session: Config{BinaryPath: "/nonexistent/stockfish"}}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
	if _, err := NewPool(PoolConfig{}); err == nil {
		t.Fatalf("expected error for empty binary path")
	}
}

func TestPoolLimitsProcesses(t *testing.T) {
	spawned := trackSpawns(t)
	p, err := NewPool(PoolConfig{Session: stubConfig(ucitest.ModeMaterial), MaxProcesses: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()
	if p.Capacity() != 1 || p.Depth() != DefaultDepth {
		t.Fatalf("capacity=%d depth=%d", p.Capacity(), p.Depth())
	}

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Live() != 1 {
		t.Fatalf("live = %d", p.Live())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire = %v, want deadline exceeded", err)
	}

	p.Release(s, nil)
	if p.Live() != 0 {
		t.Fatalf("live after release = %d", p.Live())
	}
	if s.State() != StateTerminated {
		t.Fatalf("released session state = %s", s.State())
	}

	s2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if s2 == s {
		t.Fatalf("expected a fresh session per acquire")
	}
	p.Release(s2, errors.New("request failed"))
	assertReaped(t, spawned())
}

func TestPoolCloseTerminatesLiveSessions(t *testing.T) {
	spawned := trackSpawns(t)
	p, err := NewPool(PoolConfig{Session: stubConfig(ucitest.ModeMaterial), MaxProcesses: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Alive() {
		t.Fatalf("session survived pool close")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire after close = %v", err)
	}
	p.Release(s, nil)
	assertReaped(t, spawned())
}

func TestPoolHandshakeFailureFreesSlot(t *testing.T) {
	cfg := stubConfig(ucitest.ModeBadHandshake)
	cfg.ShutdownTimeout = 200 * time.Millisecond
	p, err := NewPool(PoolConfig{Session: cfg, MaxProcesses: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()
	for i := 0; i < 2; i++ {
		if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrHandshake) {
			t.Fatalf("Acquire #%d = %v, want ErrHandshake", i, err)
		}
	}
}
