package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/sync/errgroup"

	"github.com/park285/blundrbot/internal/position"
)

const DefaultPoolSize = 5

// ErrNoLegalMoves is returned for terminal positions. It is an outcome, not
// a failure.
var ErrNoLegalMoves = errors.New("no legal moves")

// Candidate is a scored legal move in coordinate form.
type Candidate struct {
	Move  string `json:"move"`
	SAN   string `json:"san"`
	Score int    `json:"score"`
}

// ScoreTable is the result of scoring every legal move of a position once.
// Unscored lists moves the scorer skipped.
type ScoreTable struct {
	Scored   []Candidate `json:"scored"`
	Unscored []Candidate `json:"unscored,omitempty"`
}

// Legal returns every move in the table, scored or not.
func (t ScoreTable) Legal() []Candidate {
	out := make([]Candidate, 0, len(t.Scored)+len(t.Unscored))
	out = append(out, t.Scored...)
	return append(out, t.Unscored...)
}

type SelectOptions struct {
	PoolSize    int
	RecentMoves []string
	// Workers bounds parallel scoring; it only applies to scorers that
	// report themselves concurrency safe.
	Workers int
	Rand    *rand.Rand
}

// Selection is the chosen move plus how it was reached.
type Selection struct {
	Move     nchess.Move
	UCI      string
	SAN      string
	Score    int
	Unscored bool
	// Forced is set when only one legal move existed.
	Forced bool
	// Fallback is set when no candidate could be scored and the move was
	// drawn uniformly from all legal moves.
	Fallback bool
	Pool     []Candidate
	Filtered bool
	Table    ScoreTable
}

// SelectWorst picks a near-worst legal move for the side to move. pos is
// restored before returning.
func SelectWorst(ctx context.Context, pos *position.Position, scorer Scorer, opts SelectOptions) (Selection, error) {
	moves := pos.LegalMoves()
	if len(moves) == 0 {
		return Selection{}, ErrNoLegalMoves
	}
	if len(moves) == 1 {
		m := moves[0]
		c := Candidate{Move: pos.UCI(m), SAN: pos.SAN(m)}
		return Selection{
			Move:   m,
			UCI:    c.Move,
			SAN:    c.SAN,
			Forced: true,
			Pool:   []Candidate{c},
			Table:  ScoreTable{Scored: []Candidate{c}},
		}, nil
	}

	table, err := ScoreMoves(ctx, pos, scorer, opts.Workers)
	if err != nil {
		return Selection{}, err
	}
	return ChooseFromTable(pos, table, opts)
}

// ChooseFromTable ranks an already scored table and draws from its worst
// pool. It is split from SelectWorst so cached tables skip scoring.
func ChooseFromTable(pos *position.Position, table ScoreTable, opts SelectOptions) (Selection, error) {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	legal := table.Legal()
	if len(legal) == 0 {
		return Selection{}, ErrNoLegalMoves
	}

	var (
		chosen Candidate
		sel    Selection
	)
	if len(table.Scored) == 0 {
		chosen = legal[r.Intn(len(legal))]
		sel.Fallback = true
		sel.Unscored = true
		sel.Pool = legal
	} else {
		ranked := RankWorst(table.Scored, pos.Turn())
		pool := WorstPool(ranked, opts.PoolSize)
		var filtered bool
		chosen, filtered = PickFromPool(pool, opts.RecentMoves, r)
		sel.Pool = pool
		sel.Filtered = filtered
		sel.Score = chosen.Score
	}

	m, err := pos.FindMove(chosen.Move)
	if err != nil {
		return Selection{}, fmt.Errorf("resolve chosen move: %w", err)
	}
	sel.Move = m
	sel.UCI = chosen.Move
	sel.SAN = chosen.SAN
	sel.Table = table
	return sel, nil
}

// ScoreMoves applies each legal move, scores the result and undoes it.
// Candidates that fail with ErrUnscored are listed separately; any other
// scorer error aborts.
func ScoreMoves(ctx context.Context, pos *position.Position, scorer Scorer, workers int) (ScoreTable, error) {
	moves := pos.LegalMoves()
	results := make([]scoreResult, len(moves))

	if cs, ok := scorer.(ConcurrentScorer); ok && cs.ConcurrencySafe() && workers > 1 && len(moves) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range moves {
			work := pos.Clone()
			g.Go(func() error {
				res, err := scoreOne(gctx, work, moves[i], scorer)
				results[i] = res
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return ScoreTable{}, err
		}
	} else {
		for i, m := range moves {
			if err := ctx.Err(); err != nil {
				return ScoreTable{}, err
			}
			res, err := scoreOne(ctx, pos, m, scorer)
			if err != nil {
				return ScoreTable{}, err
			}
			results[i] = res
		}
	}

	var table ScoreTable
	for _, res := range results {
		if res.ok {
			table.Scored = append(table.Scored, res.cand)
		} else {
			table.Unscored = append(table.Unscored, res.cand)
		}
	}
	return table, nil
}

type scoreResult struct {
	cand Candidate
	ok   bool
}

func scoreOne(ctx context.Context, pos *position.Position, m nchess.Move, scorer Scorer) (scoreResult, error) {
	cand := Candidate{Move: pos.UCI(m), SAN: pos.SAN(m)}
	if err := pos.Push(m); err != nil {
		return scoreResult{}, err
	}
	score, err := scorer.Score(ctx, pos)
	if _, perr := pos.Pop(); perr != nil && err == nil {
		err = perr
	}
	if errors.Is(err, ErrUnscored) {
		return scoreResult{cand: cand}, nil
	}
	if err != nil {
		return scoreResult{}, fmt.Errorf("score %s: %w", cand.Move, err)
	}
	cand.Score = score
	return scoreResult{cand: cand, ok: true}, nil
}

// RankWorst orders candidates worst-first for the side to move. Ties keep
// move generation order.
func RankWorst(cands []Candidate, turn nchess.Color) []Candidate {
	out := append([]Candidate(nil), cands...)
	if turn == nchess.White {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	}
	return out
}

// WorstPool returns the first size entries of a ranked list.
func WorstPool(ranked []Candidate, size int) []Candidate {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if size > len(ranked) {
		size = len(ranked)
	}
	return ranked[:size]
}

// PickFromPool draws uniformly from pool entries not in recent; when every
// entry was recently played it draws from the whole pool. The flag reports
// whether the recent-move filter was applied.
func PickFromPool(pool []Candidate, recent []string, r *rand.Rand) (Candidate, bool) {
	if len(recent) > 0 {
		seen := make(map[string]struct{}, len(recent))
		for _, mv := range recent {
			seen[strings.ToLower(strings.TrimSpace(mv))] = struct{}{}
		}
		fresh := make([]Candidate, 0, len(pool))
		for _, c := range pool {
			if _, ok := seen[strings.ToLower(c.Move)]; !ok {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) > 0 {
			return fresh[r.Intn(len(fresh))], true
		}
	}
	return pool[r.Intn(len(pool))], false
}
