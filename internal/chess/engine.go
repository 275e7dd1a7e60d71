package chess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/blundrbot/internal/chess/uci"
	"github.com/park285/blundrbot/internal/position"
	"github.com/park285/blundrbot/internal/service/cache"
)

type Backend string

const (
	BackendMaterial Backend = "material"
	BackendUCI      Backend = "uci"
)

// ParseBackend accepts the configured backend names.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "material", "builtin":
		return BackendMaterial, nil
	case "uci", "stockfish", "engine":
		return BackendUCI, nil
	}
	return "", fmt.Errorf("unknown engine backend %q", s)
}

// ErrEngineUnavailable wraps spawn, handshake and session failures when no
// fallback is allowed.
var ErrEngineUnavailable = errors.New("engine unavailable")

const scoreCacheVersion = "v1"

type Options struct {
	Backend Backend
	// Pool is required for BackendUCI.
	Pool     *uci.Pool
	PoolSize int
	// Workers bounds parallel scoring with the built-in evaluator.
	Workers int
	// Fallback switches to the built-in evaluator when the engine fails.
	Fallback bool
	Cache    *cache.CacheService
	CacheTTL time.Duration
	Logger   *zap.Logger
}

type Engine struct {
	opts   Options
	log    *zap.Logger
	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Backend == "" {
		opts.Backend = BackendMaterial
	}
	if opts.Backend == BackendUCI && opts.Pool == nil {
		return nil, fmt.Errorf("uci backend requires an engine pool")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		opts: opts,
		log:  opts.Logger,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (e *Engine) Backend() Backend {
	return e.opts.Backend
}

type WorstMoveRequest struct {
	FEN         string
	RecentMoves []string
	// History lists earlier positions of the game, oldest first.
	History  []string
	PoolSize int
}

type WorstMoveResult struct {
	Move  string
	SAN   string
	Score int
	// Scored is false when the move was drawn without any score.
	Scored bool
	// NoMove is set for terminal positions; Status then describes the input.
	NoMove   bool
	Status   position.GameStatus
	FENAfter string
	Backend  Backend
	// Fallback is set when the engine failed and the built-in evaluator
	// answered instead.
	Fallback bool
	// Random is set when every candidate was unscored.
	Random   bool
	Forced   bool
	Filtered bool
	CacheHit bool
	Pool     []Candidate
	Duration time.Duration
}

// WorstMove parses req.FEN, selects a near-worst move and reports the game
// status after it is played.
func (e *Engine) WorstMove(ctx context.Context, req WorstMoveRequest) (WorstMoveResult, error) {
	start := time.Now()

	pos, err := position.FromFEN(req.FEN)
	if err != nil {
		return WorstMoveResult{}, err
	}
	if len(req.History) > 0 {
		if err := pos.WithHistory(req.History); err != nil {
			return WorstMoveResult{}, err
		}
	}

	res := WorstMoveResult{Backend: e.opts.Backend}
	moves := pos.LegalMoves()
	if len(moves) == 0 {
		res.NoMove = true
		res.Status = pos.Status()
		res.FENAfter = pos.FEN()
		res.Duration = time.Since(start)
		return res, nil
	}

	poolSize := req.PoolSize
	if poolSize <= 0 {
		poolSize = e.opts.PoolSize
	}
	selOpts := SelectOptions{
		PoolSize:    poolSize,
		RecentMoves: req.RecentMoves,
		Workers:     e.opts.Workers,
		Rand:        e.random(),
	}

	var sel Selection
	switch {
	case len(moves) == 1:
		sel, err = SelectWorst(ctx, pos, MaterialEvaluator{}, selOpts)
	default:
		sel, res.Backend, res.CacheHit, err = e.selectScored(ctx, pos, req.History, selOpts)
		res.Fallback = res.Backend != e.opts.Backend
	}
	if err != nil {
		return WorstMoveResult{}, err
	}

	res.Move = sel.UCI
	res.SAN = sel.SAN
	res.Score = sel.Score
	res.Scored = !sel.Unscored
	res.Random = sel.Fallback
	res.Forced = sel.Forced
	res.Filtered = sel.Filtered
	res.Pool = sel.Pool

	if err := pos.Push(sel.Move); err != nil {
		return WorstMoveResult{}, fmt.Errorf("apply %s: %w", sel.UCI, err)
	}
	res.Status = pos.Status()
	res.FENAfter = pos.FEN()
	_, _ = pos.Pop()

	if res.Random {
		e.log.Warn("worst_move_unscored", zap.String("fen", req.FEN), zap.String("backend", string(res.Backend)), zap.String("move", res.Move))
	}
	res.Duration = time.Since(start)
	return res, nil
}

// selectScored scores with the configured backend, consulting the cache
// first. It reports which backend actually produced the table.
func (e *Engine) selectScored(ctx context.Context, pos *position.Position, history []string, opts SelectOptions) (Selection, Backend, bool, error) {
	backend := e.opts.Backend
	if table, ok := e.cachedTable(ctx, backend, pos, history); ok {
		sel, err := ChooseFromTable(pos, table, opts)
		return sel, backend, true, err
	}

	var (
		table ScoreTable
		err   error
	)
	if backend == BackendUCI {
		table, err = e.scoreWithEngine(ctx, pos)
		if err != nil {
			if ctx.Err() != nil {
				return Selection{}, backend, false, ctx.Err()
			}
			if !e.opts.Fallback {
				return Selection{}, backend, false, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
			}
			e.log.Warn("engine_fallback", zap.String("fen", pos.FEN()), zap.Error(err))
			backend = BackendMaterial
			if cached, ok := e.cachedTable(ctx, backend, pos, history); ok {
				sel, err := ChooseFromTable(pos, cached, opts)
				return sel, backend, true, err
			}
		}
	}
	if backend == BackendMaterial {
		table, err = ScoreMoves(ctx, pos, MaterialEvaluator{}, opts.Workers)
		if err != nil {
			return Selection{}, backend, false, err
		}
	}

	e.storeTable(ctx, backend, pos, history, table)
	sel, err := ChooseFromTable(pos, table, opts)
	return sel, backend, false, err
}

func (e *Engine) scoreWithEngine(ctx context.Context, pos *position.Position) (ScoreTable, error) {
	session, err := e.opts.Pool.Acquire(ctx)
	if err != nil {
		return ScoreTable{}, err
	}
	var releaseErr error
	defer func() {
		e.opts.Pool.Release(session, releaseErr)
	}()

	table, err := ScoreMoves(ctx, pos, NewEngineScorer(session), 1)
	if err != nil {
		releaseErr = err
		return ScoreTable{}, err
	}
	return table, nil
}

func (e *Engine) depth() int {
	if e.opts.Backend == BackendUCI && e.opts.Pool != nil {
		return e.opts.Pool.Depth()
	}
	return 1
}

func (e *Engine) cacheKey(backend Backend, pos *position.Position, history []string) string {
	h := sha256.New()
	h.Write([]byte(string(backend)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(e.depth())))
	h.Write([]byte{0})
	h.Write([]byte(pos.FEN()))
	for _, fen := range history {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(fen)))
	}
	return "worst:" + scoreCacheVersion + ":" + hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) cachedTable(ctx context.Context, backend Backend, pos *position.Position, history []string) (ScoreTable, bool) {
	if e.opts.Cache == nil {
		return ScoreTable{}, false
	}
	var table ScoreTable
	ok, err := e.opts.Cache.Get(ctx, e.cacheKey(backend, pos, history), &table)
	if err != nil {
		e.log.Warn("score_cache_get", zap.Error(err))
		return ScoreTable{}, false
	}
	if !ok || len(table.Legal()) == 0 {
		return ScoreTable{}, false
	}
	return table, true
}

func (e *Engine) storeTable(ctx context.Context, backend Backend, pos *position.Position, history []string, table ScoreTable) {
	// an unscored candidate may only reflect a transient engine timeout
	if e.opts.Cache == nil || len(table.Scored) == 0 || len(table.Unscored) > 0 {
		return
	}
	if err := e.opts.Cache.Set(ctx, e.cacheKey(backend, pos, history), table, e.opts.CacheTTL); err != nil {
		e.log.Warn("score_cache_set", zap.Error(err))
	}
}

func (e *Engine) random() *rand.Rand {
	e.randMu.Lock()
	seed := e.rand.Int63()
	e.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func (e *Engine) SetRandomSeed(seed int64) {
	e.randMu.Lock()
	e.rand = rand.New(rand.NewSource(seed))
	e.randMu.Unlock()
}

func (e *Engine) Close() error {
	if e.opts.Pool == nil {
		return nil
	}
	return e.opts.Pool.Close()
}
