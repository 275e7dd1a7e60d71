// Package selfplay drives a game in which the worst-move service plays both
// sides, feeding back its own recent moves and the position history.
package selfplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/park285/blundrbot/internal/msgcat"
	"github.com/park285/blundrbot/pkg/blundrdto"
)

// RecentWindow is how many of a side's own moves are sent back as
// recent_moves.
const RecentWindow = 5

// Mover is satisfied by both the HTTP client and the websocket stream.
type Mover interface {
	WorstMove(ctx context.Context, req blundrdto.WorstMoveRequest) (*blundrdto.WorstMoveResponse, error)
}

type Options struct {
	StartFEN string
	MaxPlies int
	PoolSize int
	Catalog  *msgcat.Catalog
	Out      io.Writer
}

type Result struct {
	Plies      int
	FinalFEN   string
	GameStatus string
	Moves      []string
	// Finished is false when MaxPlies ran out first.
	Finished bool
}

func Play(ctx context.Context, m Mover, opts Options) (*Result, error) {
	if opts.StartFEN == "" {
		return nil, errors.New("start fen required")
	}
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	res := &Result{FinalFEN: opts.StartFEN}
	recent := map[string][]string{}
	var history []string
	fen := opts.StartFEN

	for opts.MaxPlies <= 0 || res.Plies < opts.MaxPlies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		side := sideToMove(fen)
		resp, err := m.WorstMove(ctx, blundrdto.WorstMoveRequest{
			FEN:         fen,
			RecentMoves: recent[side],
			History:     history,
			PoolSize:    opts.PoolSize,
		})
		if err != nil {
			return res, fmt.Errorf("ply %d: %w", res.Plies+1, err)
		}
		res.GameStatus = resp.GameStatus

		if resp.Status == blundrdto.StatusNoMoves {
			res.Finished = true
			// side to move is the one mated or stalemated
			return res, finish(opts, res, side == "b")
		}
		if resp.FENAfter == "" {
			return res, fmt.Errorf("ply %d: response without fen_after", res.Plies+1)
		}

		res.Plies++
		move := resp.MoveValue()
		res.Moves = append(res.Moves, move)
		line, err := opts.Catalog.Render("cli.move", map[string]any{
			"Ply": res.Plies, "Side": sideName(side), "SAN": resp.SANValue(), "Move": move,
			"Score": resp.Score, "Fallback": resp.Fallback,
		})
		if err != nil {
			return res, err
		}
		fmt.Fprintln(opts.Out, line)

		history = append(history, fen)
		recent[side] = lastN(append(recent[side], move), RecentWindow)
		fen = resp.FENAfter
		res.FinalFEN = fen

		if resp.GameOver {
			res.Finished = true
			return res, finish(opts, res, side == "w")
		}
	}
	return res, nil
}

// finish prints the result line. Outcomes are worded for White.
func finish(opts Options, res *Result, whiteWon bool) error {
	msg := opts.Catalog.GameOver(res.GameStatus, whiteWon)
	line, err := opts.Catalog.Render("cli.result", map[string]any{"Plies": res.Plies, "Message": msg})
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.Out, line)
	return nil
}

func sideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return "b"
	}
	return "w"
}

func sideName(side string) string {
	if side == "b" {
		return "black"
	}
	return "white"
}

func lastN(moves []string, n int) []string {
	if len(moves) <= n {
		return moves
	}
	return append([]string(nil), moves[len(moves)-n:]...)
}
