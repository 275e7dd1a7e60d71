// Package position wraps the rules library with a push/pop working position.
package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrInvalidFEN   = errors.New("invalid FEN")
	ErrIllegalMove  = errors.New("illegal move")
	ErrEmptyHistory = errors.New("no move to undo")
)

// Position is a mutable working copy of a board state. The rules library's
// positions are immutable, so Push/Pop walk a stack of snapshots and Pop
// restores the previous snapshot exactly.
//
// A Position is not safe for concurrent use; Clone it per goroutine.
type Position struct {
	stack []*nchess.Position
	moves []nchess.Move
	// prior holds repetition keys of positions reached before the root.
	prior []string
}

// FromFEN parses fen into a new working position.
func FromFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFEN)
	}
	if len(strings.Fields(fen)) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields", ErrInvalidFEN)
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	game := nchess.NewGame(opt)
	root := game.Position()
	if root == nil {
		return nil, ErrInvalidFEN
	}
	if err := validateKings(root.Board()); err != nil {
		return nil, err
	}
	return &Position{stack: []*nchess.Position{root}}, nil
}

// Start returns the standard initial position.
func Start() *Position {
	p, err := FromFEN(StartFEN)
	if err != nil {
		panic(err)
	}
	return p
}

func validateKings(b *nchess.Board) error {
	var white, black int
	for _, pc := range b.SquareMap() {
		if pc.Type() != nchess.King {
			continue
		}
		if pc.Color() == nchess.White {
			white++
		} else {
			black++
		}
	}
	if white != 1 || black != 1 {
		return fmt.Errorf("%w: each side needs exactly one king", ErrInvalidFEN)
	}
	return nil
}

// WithHistory seeds positions that occurred before the root, oldest first,
// so threefold repetition can be detected across requests. Entries that do
// not parse are rejected.
func (p *Position) WithHistory(fens []string) error {
	prior := make([]string, 0, len(fens))
	for i, fen := range fens {
		h, err := FromFEN(fen)
		if err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
		prior = append(prior, repetitionKey(h.FEN()))
	}
	p.prior = prior
	return nil
}

func (p *Position) current() *nchess.Position {
	return p.stack[len(p.stack)-1]
}

// FEN returns the canonical FEN of the current state.
func (p *Position) FEN() string {
	return p.current().String()
}

func (p *Position) Turn() nchess.Color {
	return p.current().Turn()
}

func (p *Position) Board() *nchess.Board {
	return p.current().Board()
}

// Ply reports how many moves have been pushed above the root.
func (p *Position) Ply() int {
	return len(p.moves)
}

// LegalMoves lists every legal move from the current state.
func (p *Position) LegalMoves() []nchess.Move {
	return p.current().ValidMoves()
}

// Push applies m, which must be legal in the current state. The rules
// library applies any move it is given, so legality is checked here.
func (p *Position) Push(m nchess.Move) error {
	if !p.isLegal(m) {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m.String())
	}
	next := p.current().Update(&m)
	p.stack = append(p.stack, next)
	p.moves = append(p.moves, m)
	return nil
}

func (p *Position) isLegal(m nchess.Move) bool {
	for _, lm := range p.LegalMoves() {
		if lm.S1() == m.S1() && lm.S2() == m.S2() && lm.Promo() == m.Promo() {
			return true
		}
	}
	return false
}

// Pop undoes the last pushed move.
func (p *Position) Pop() (nchess.Move, error) {
	if len(p.moves) == 0 {
		return nchess.Move{}, ErrEmptyHistory
	}
	last := p.moves[len(p.moves)-1]
	p.moves = p.moves[:len(p.moves)-1]
	p.stack[len(p.stack)-1] = nil
	p.stack = p.stack[:len(p.stack)-1]
	return last, nil
}

// Clone copies the stack; snapshots are immutable and shared.
func (p *Position) Clone() *Position {
	return &Position{
		stack: append([]*nchess.Position(nil), p.stack...),
		moves: append([]nchess.Move(nil), p.moves...),
		prior: append([]string(nil), p.prior...),
	}
}

// FindMove resolves a coordinate move such as "e2e4" or "e7e8q".
func (p *Position) FindMove(uci string) (nchess.Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range p.LegalMoves() {
		if p.UCI(m) == uci {
			return m, nil
		}
	}
	return nchess.Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

// UCI encodes m in coordinate form relative to the current state.
func (p *Position) UCI(m nchess.Move) string {
	return strings.ToLower(nchess.UCINotation{}.Encode(p.current(), &m))
}

// SAN encodes m in standard algebraic notation relative to the current state.
func (p *Position) SAN(m nchess.Move) string {
	return nchess.AlgebraicNotation{}.Encode(p.current(), &m)
}

// HalfMoveClock is the fifty-move counter of the current state.
func (p *Position) HalfMoveClock() int {
	return p.current().HalfMoveClock()
}

// Count returns how many pieces of the given type and color are on the board.
func (p *Position) Count(pt nchess.PieceType, c nchess.Color) int {
	n := 0
	for _, pc := range p.Board().SquareMap() {
		if pc.Type() == pt && pc.Color() == c {
			n++
		}
	}
	return n
}

// repetitionKey drops the move clocks so positions compare by placement,
// side to move, castling rights and en passant square.
func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
