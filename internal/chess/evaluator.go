package chess

import (
	"context"
	"errors"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blundrbot/internal/position"
)

// Scores are absolute: positive favors White, negative favors Black.
const (
	MateScore    = 100000
	CheckPenalty = 5
)

// ErrUnscored marks a single candidate a scorer could not evaluate. The
// selector skips such candidates instead of ranking them.
var ErrUnscored = errors.New("position unscored")

// Scorer evaluates the position reached after a candidate move.
type Scorer interface {
	Score(ctx context.Context, pos *position.Position) (int, error)
}

// ConcurrentScorer is implemented by scorers that may be called from several
// goroutines at once, each with its own position.
type ConcurrentScorer interface {
	Scorer
	ConcurrencySafe() bool
}

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   1,
	nchess.Knight: 3,
	nchess.Bishop: 3,
	nchess.Rook:   5,
	nchess.Queen:  9,
	nchess.King:   0,
}

// MaterialEvaluator is the built-in one-ply evaluator.
type MaterialEvaluator struct{}

func (MaterialEvaluator) Score(_ context.Context, pos *position.Position) (int, error) {
	return Evaluate(pos), nil
}

func (MaterialEvaluator) ConcurrencySafe() bool { return true }

// Evaluate scores pos from White's point of view.
func Evaluate(pos *position.Position) int {
	turn := pos.Turn()
	if pos.IsCheckmate() {
		if turn == nchess.White {
			return -MateScore
		}
		return MateScore
	}
	if pos.IsStalemate() || pos.IsInsufficientMaterial() || pos.IsFiftyMoves() || pos.IsRepetition() {
		return 0
	}

	score := 0
	for _, pc := range pos.Board().SquareMap() {
		v := pieceValues[pc.Type()]
		if pc.Color() == nchess.White {
			score += v
		} else {
			score -= v
		}
	}

	if pos.InCheck() {
		if turn == nchess.White {
			score -= CheckPenalty
		} else {
			score += CheckPenalty
		}
	}
	return score
}
