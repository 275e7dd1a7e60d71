package chess

import (
	"context"
	"errors"
	"fmt"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blundrbot/internal/chess/uci"
	"github.com/park285/blundrbot/internal/position"
)

// EngineScorer scores positions with a single UCI session. It must not be
// shared between goroutines.
type EngineScorer struct {
	session *uci.Session
}

func NewEngineScorer(session *uci.Session) *EngineScorer {
	return &EngineScorer{session: session}
}

// Score resolves terminal positions locally and asks the engine otherwise.
// A position the engine could not score yields ErrUnscored; session-level
// failures are returned as is.
func (e *EngineScorer) Score(ctx context.Context, pos *position.Position) (int, error) {
	switch pos.Status() {
	case position.StatusCheckmate:
		if pos.Turn() == nchess.White {
			return -MateScore, nil
		}
		return MateScore, nil
	case position.StatusStalemate, position.StatusInsufficientMaterial, position.StatusFiftyMoves, position.StatusRepetition:
		return 0, nil
	}

	res, err := e.session.Evaluate(ctx, pos.FEN())
	if errors.Is(err, uci.ErrNoScore) {
		return 0, fmt.Errorf("%w: %v", ErrUnscored, err)
	}
	if err != nil {
		return 0, err
	}
	return AbsoluteScore(res.Score, pos.Turn()), nil
}

// AbsoluteScore converts an engine score, relative to the side to move, to
// the White-positive convention. A positive mate count means the side to
// move delivers mate.
func AbsoluteScore(sc uci.Score, turn nchess.Color) int {
	sign := 1
	if turn == nchess.Black {
		sign = -1
	}
	if sc.IsMate {
		if sc.Mate > 0 {
			return sign * MateScore
		}
		return -sign * MateScore
	}
	return sign * sc.CP
}
