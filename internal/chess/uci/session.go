package uci

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDepth           = 12
	defaultStartupTimeout  = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultShutdownTimeout = time.Second
	defaultStopGrace       = 2 * time.Second
	defaultHashMB          = 16
	lineBuffer             = 256
	maxLineBytes           = 1 << 20
)

// onStart observes every spawned session; tests use it to track processes.
var onStart = func(*Session) {}

var (
	// ErrHandshake means the engine never reached uciok/readyok. Fatal.
	ErrHandshake = errors.New("uci handshake failed")
	// ErrEngineExited means the process closed its output. Fatal.
	ErrEngineExited = errors.New("engine exited")
	// ErrUnresponsive means the engine ignored stop after a timeout. Fatal.
	ErrUnresponsive = errors.New("engine unresponsive")
	ErrSessionClosed = errors.New("session closed")
	// ErrNoScore means one position produced no usable score. The session
	// stays usable.
	ErrNoScore = errors.New("no score")
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateEvaluating
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateEvaluating:
		return "evaluating"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options are sent once after the handshake and never acknowledged.
type Options struct {
	Threads int
	HashMB  int
}

type Config struct {
	BinaryPath string
	Args       []string
	// Env is appended to the parent environment.
	Env     []string
	Options Options
	// Depth is the fixed search depth for every position.
	Depth int
	// StartupTimeout bounds the uci/uciok and isready/readyok exchange.
	StartupTimeout time.Duration
	// ReadTimeout is the overall deadline for one position's search.
	ReadTimeout time.Duration
	// ShutdownTimeout bounds the wait for exit after quit before kill.
	ShutdownTimeout time.Duration
	// StopGrace bounds the wait for bestmove after a timed out search is
	// stopped.
	StopGrace time.Duration
	Logger    *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.Options.Threads <= 0 {
		c.Options.Threads = 1
	}
	if c.Options.HashMB <= 0 {
		c.Options.HashMB = defaultHashMB
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// SearchResult is the outcome of one fixed-depth search. Score is relative
// to the side to move in the searched position, as the engine reports it.
type SearchResult struct {
	Score    Score
	BestMove string
	Lines    int
	Elapsed  time.Duration
}

// Session supervises one engine process. Searches are serialized: UCI has no
// request ids, so only one position may be in flight.
type Session struct {
	cfg Config
	log *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	exited  chan struct{}
	waitErr error
	done    chan struct{}

	state atomic.Int32

	mu        sync.Mutex
	search    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSession spawns the engine and completes the handshake. On any failure
// the process is torn down before returning.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, errors.New("engine binary path required")
	}

	cmd := exec.Command(cfg.BinaryPath, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	// Wait closes pipes it creates, so stdout is an explicit pipe the
	// reader goroutine owns until EOF.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	logger := cfg.Logger.With(zap.String("engine", cfg.BinaryPath))
	cmd.Stderr = &stderrLogger{log: logger}

	s := &Session{
		cfg:    cfg,
		log:    logger,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, lineBuffer),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		s.state.Store(int32(StateTerminated))
		return nil, fmt.Errorf("start engine: %w", err)
	}
	pw.Close()
	s.log = logger.With(zap.Int("pid", cmd.Process.Pid))
	s.state.Store(int32(StateStarting))

	go s.readLoop(pr)
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()
	onStart(s)

	if err := s.handshake(ctx); err != nil {
		s.setState(StateFailed)
		_ = s.Close()
		return nil, err
	}
	s.setState(StateReady)
	s.log.Debug("engine_ready")
	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// setState moves to st unless the session is already terminated; an
// evaluation that outlives Close must not revive the reported state.
func (s *Session) setState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) == StateTerminated {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Alive reports whether the process has not yet exited.
func (s *Session) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	if err := s.send("uci"); err != nil {
		return fmt.Errorf("%w: send uci: %v", ErrHandshake, err)
	}
	for {
		line, err := s.nextLine(hctx)
		if err != nil {
			return fmt.Errorf("%w: wait uciok: %w", ErrHandshake, err)
		}
		if line == "uciok" {
			break
		}
		if isErrorLine(line) {
			return fmt.Errorf("%w: %s", ErrHandshake, line)
		}
	}

	for _, cmd := range []string{
		fmt.Sprintf("setoption name Threads value %d", s.cfg.Options.Threads),
		fmt.Sprintf("setoption name Hash value %d", s.cfg.Options.HashMB),
		"setoption name MultiPV value 1",
		"ucinewgame",
		"isready",
	} {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
	}
	for {
		line, err := s.nextLine(hctx)
		if err != nil {
			return fmt.Errorf("%w: wait readyok: %w", ErrHandshake, err)
		}
		if line == "readyok" {
			return nil
		}
	}
}

// Evaluate searches fen to the configured depth and returns the last score
// reported before bestmove. A search that runs past ReadTimeout is stopped
// and reported as ErrNoScore; the session remains usable if the engine
// acknowledges the stop.
func (s *Session) Evaluate(ctx context.Context, fen string) (SearchResult, error) {
	s.search.Lock()
	defer s.search.Unlock()

	if st := s.State(); st != StateReady {
		return SearchResult{}, fmt.Errorf("%w: %s", ErrSessionClosed, st)
	}
	if !s.Alive() {
		return SearchResult{}, s.fail(ErrEngineExited)
	}
	s.setState(StateEvaluating)
	start := time.Now()

	if err := s.send("position fen " + fen); err != nil {
		return SearchResult{}, s.fail(fmt.Errorf("%w: send position: %v", ErrEngineExited, err))
	}
	if err := s.send(fmt.Sprintf("go depth %d", s.cfg.Depth)); err != nil {
		return SearchResult{}, s.fail(fmt.Errorf("%w: send go: %v", ErrEngineExited, err))
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var res SearchResult
	for {
		line, err := s.nextLine(sctx)
		if err != nil {
			if errors.Is(err, ErrEngineExited) {
				return res, s.fail(err)
			}
			return res, s.abandon(ctx, fen, err)
		}
		res.Lines++
		if strings.HasPrefix(line, "info ") {
			if sc, ok := ParseScore(line); ok {
				res.Score = sc
			}
			continue
		}
		if strings.HasPrefix(line, "bestmove") {
			if f := strings.Fields(line); len(f) >= 2 {
				res.BestMove = f[1]
			}
			res.Elapsed = time.Since(start)
			s.setState(StateReady)
			if !res.Score.Valid {
				return res, fmt.Errorf("%w: %s", ErrNoScore, fen)
			}
			return res, nil
		}
	}
}

// abandon stops a search that ran out of time and drains to bestmove so the
// next command starts on a clean stream.
func (s *Session) abandon(ctx context.Context, fen string, cause error) error {
	s.log.Warn("engine_search_timeout", zap.String("fen", fen), zap.Duration("timeout", s.cfg.ReadTimeout), zap.Error(cause))
	if err := s.send("stop"); err != nil {
		return s.fail(fmt.Errorf("%w: send stop: %v", ErrEngineExited, err))
	}

	dctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopGrace)
	defer cancel()
	for {
		line, err := s.nextLine(dctx)
		if err != nil {
			if errors.Is(err, ErrEngineExited) {
				return s.fail(err)
			}
			return s.fail(fmt.Errorf("%w: no bestmove after stop", ErrUnresponsive))
		}
		if strings.HasPrefix(line, "bestmove") {
			break
		}
	}
	s.setState(StateReady)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: search timed out", ErrNoScore)
}

func (s *Session) fail(err error) error {
	s.setState(StateFailed)
	s.log.Warn("engine_session_failed", zap.Error(err))
	return err
}

// Close sends quit, waits ShutdownTimeout for the process to exit, then
// kills it. The process is always reaped before Close returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Session) shutdown() error {
	defer close(s.done)
	defer s.setState(StateTerminated)

	if s.Alive() {
		_ = s.send("quit")
	}
	s.mu.Lock()
	_ = s.stdin.Close()
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-s.exited:
		s.log.Debug("engine_exited", zap.NamedError("wait", s.waitErr))
		return nil
	case <-timer.C:
	}

	s.log.Warn("engine_kill", zap.Duration("after", s.cfg.ShutdownTimeout))
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		<-s.exited
		return fmt.Errorf("kill engine: %w", err)
	}
	<-s.exited
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg+"\n")
	return err
}

func (s *Session) nextLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", ErrEngineExited
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) readLoop(r io.ReadCloser) {
	defer close(s.lines)
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
}

func isErrorLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "error")
}

// stderrLogger forwards engine stderr to the logger line by line.
type stderrLogger struct {
	log *zap.Logger
	buf []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			w.log.Debug("engine_stderr", zap.String("line", line))
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
