package uci

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/park285/blundrbot/internal/chess/uci/ucitest"
)

func TestMain(m *testing.M) {
	if code, ok := ucitest.Main(); ok {
		os.Exit(code)
	}
	os.Exit(m.Run())
}

func stubConfig(mode string) Config {
	return Config{
		BinaryPath:      ucitest.Binary(),
		Env:             ucitest.Env(mode),
		StartupTimeout:  3 * time.Second,
		ReadTimeout:     3 * time.Second,
		ShutdownTimeout: time.Second,
		StopGrace:       time.Second,
	}
}

// trackSpawns records every session started during the test.
func trackSpawns(t *testing.T) func() []*Session {
	t.Helper()
	var (
		mu      sync.Mutex
		spawned []*Session
	)
	prev := onStart
	onStart = func(s *Session) {
		mu.Lock()
		spawned = append(spawned, s)
		mu.Unlock()
	}
	t.Cleanup(func() { onStart = prev })
	return func() []*Session {
		mu.Lock()
		defer mu.Unlock()
		return append([]*Session(nil), spawned...)
	}
}

func assertReaped(t *testing.T, sessions []*Session) {
	t.Helper()
	if len(sessions) == 0 {
		t.Fatalf("no engine process was spawned")
	}
	for _, s := range sessions {
		if s.Alive() {
			t.Fatalf("engine pid %d still running", s.PID())
		}
		if processRunning(s.PID()) {
			t.Fatalf("engine pid %d not reaped", s.PID())
		}
	}
}

func TestSessionEvaluate(t *testing.T) {
	spawned := trackSpawns(t)
	ctx := context.Background()
	s, err := NewSession(ctx, stubConfig(ucitest.ModeMaterial))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s", s.State())
	}

	res, err := s.Evaluate(ctx, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	if err != nil {
		t.Fatalf("Evaluate start: %v", err)
	}
	if !res.Score.Valid || res.Score.IsMate || res.Score.CP != 0 || res.Score.Depth != 12 {
		t.Fatalf("unexpected start score: %+v", res.Score)
	}
	if res.BestMove == "" {
		t.Fatalf("expected a bestmove")
	}

	// black to move, white is a queen up
	res, err = s.Evaluate(ctx, "rnb1kbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR b KQkq - 0 1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Score.CP != -900 {
		t.Fatalf("cp = %d, want -900", res.Score.CP)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state after close = %s", s.State())
	}
	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/8/4K3 w - - 0 1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Evaluate after close = %v", err)
	}
	assertReaped(t, spawned())
}

func TestSessionReportsMate(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, stubConfig(ucitest.ModeMaterial))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	res, err := s.Evaluate(ctx, "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Score.IsMate || res.Score.Mate != 0 {
		t.Fatalf("expected mate 0, got %+v", res.Score)
	}
}

func TestSessionHandshakeFailures(t *testing.T) {
	cases := []struct {
		mode string
		want error
	}{
		{ucitest.ModeBadHandshake, ErrHandshake},
		{ucitest.ModeCrash, ErrEngineExited},
		{ucitest.ModeSilent, context.DeadlineExceeded},
	}
	for _, tc := range cases {
		spawned := trackSpawns(t)
		cfg := stubConfig(tc.mode)
		cfg.StartupTimeout = 300 * time.Millisecond
		cfg.ShutdownTimeout = 300 * time.Millisecond
		s, err := NewSession(context.Background(), cfg)
		if err == nil {
			s.Close()
			t.Fatalf("%s: expected handshake error", tc.mode)
		}
		if !errors.Is(err, ErrHandshake) || !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.mode, err, tc.want)
		}
		assertReaped(t, spawned())
	}
}

func TestSessionMissingBinary(t *testing.T) {
	_, err := NewSession(context.Background(), Config{BinaryPath: "/nonexistent/blundr-engine"})
	if err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestEvaluateTimeoutKeepsSession(t *testing.T) {
	cfg := stubConfig(ucitest.ModeHangOnce)
	cfg.ReadTimeout = 200 * time.Millisecond
	ctx := context.Background()
	s, err := NewSession(ctx, cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, ErrNoScore) {
		t.Fatalf("first Evaluate = %v, want ErrNoScore", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state after timeout = %s", s.State())
	}
	res, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if res.Score.CP != 100 {
		t.Fatalf("cp = %d, want 100", res.Score.CP)
	}
}

func TestEvaluateUnresponsiveEngineFails(t *testing.T) {
	spawned := trackSpawns(t)
	cfg := stubConfig(ucitest.ModeDeaf)
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.StopGrace = 200 * time.Millisecond
	ctx := context.Background()
	s, err := NewSession(ctx, cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, ErrUnresponsive) {
		t.Fatalf("Evaluate = %v, want ErrUnresponsive", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Evaluate on failed session = %v", err)
	}
	s.Close()
	assertReaped(t, spawned())
}

func TestEvaluateWithoutScore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, stubConfig(ucitest.ModeNoScore))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()
	res, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1")
	if !errors.Is(err, ErrNoScore) {
		t.Fatalf("Evaluate = %v, want ErrNoScore", err)
	}
	if res.BestMove != "e2e4" || s.State() != StateReady {
		t.Fatalf("unexpected result %+v state %s", res, s.State())
	}
}

func TestEvaluateEngineCrash(t *testing.T) {
	spawned := trackSpawns(t)
	ctx := context.Background()
	s, err := NewSession(ctx, stubConfig(ucitest.ModeCrashSearch))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, ErrEngineExited) {
		t.Fatalf("Evaluate = %v, want ErrEngineExited", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %s", s.State())
	}
	s.Close()
	assertReaped(t, spawned())
}

func TestCloseKillsEngineIgnoringQuit(t *testing.T) {
	spawned := trackSpawns(t)
	cfg := stubConfig(ucitest.ModeIgnoreQuit)
	cfg.ShutdownTimeout = 200 * time.Millisecond
	s, err := NewSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	start := time.Now()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if time.Since(start) < cfg.ShutdownTimeout {
		t.Fatalf("Close returned before the shutdown timeout")
	}
	assertReaped(t, spawned())
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEvaluateCallerCancel(t *testing.T) {
	cfg := stubConfig(ucitest.ModeHang)
	s, err := NewSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := s.Evaluate(ctx, "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Evaluate = %v, want deadline exceeded", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s", s.State())
	}
}

func TestTerminatedStateIsAbsorbing(t *testing.T) {
	var s Session
	s.setState(StateReady)
	s.setState(StateTerminated)
	for _, st := range []State{StateReady, StateEvaluating, StateFailed} {
		s.setState(st)
		if s.State() != StateTerminated {
			t.Fatalf("setState(%s) left terminated: %s", st, s.State())
		}
	}
}

func TestCloseDuringEvaluateStaysTerminated(t *testing.T) {
	spawned := trackSpawns(t)
	s, err := NewSession(context.Background(), stubConfig(ucitest.ModeHang))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Evaluate(context.Background(), "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1")
		errCh <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateEvaluating {
		if time.Now().After(deadline) {
			t.Fatalf("search never started, state %s", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("Evaluate succeeded on a closed session")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Evaluate did not return after Close")
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %s, want terminated", s.State())
	}
	assertReaped(t, spawned())
}
