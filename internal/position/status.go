package position

import nchess "github.com/corentings/chess/v2"

// GameStatus classifies a position. Values match the public API.
type GameStatus string

const (
	StatusCheckmate            GameStatus = "checkmate"
	StatusStalemate            GameStatus = "stalemate"
	StatusInsufficientMaterial GameStatus = "insufficient_material"
	StatusFiftyMoves           GameStatus = "fifty_moves"
	StatusRepetition           GameStatus = "repetition"
	StatusCheck                GameStatus = "check"
	StatusOngoing              GameStatus = "ongoing"
)

// Terminal reports whether the game is over in this status.
func (s GameStatus) Terminal() bool {
	switch s {
	case StatusCheck, StatusOngoing, "":
		return false
	}
	return true
}

func opponent(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	b := p.Board()
	turn := p.Turn()
	sq, ok := kingSquare(b, turn)
	if !ok {
		return false
	}
	return attacked(b, sq, opponent(turn))
}

func (p *Position) IsCheckmate() bool {
	return len(p.LegalMoves()) == 0 && p.InCheck()
}

func (p *Position) IsStalemate() bool {
	return len(p.LegalMoves()) == 0 && !p.InCheck()
}

// IsFiftyMoves reports a half-move clock of at least one hundred.
func (p *Position) IsFiftyMoves() bool {
	return p.HalfMoveClock() >= 100
}

// IsRepetition reports whether the current position has occurred at least
// three times, counting seeded history and pushed moves.
func (p *Position) IsRepetition() bool {
	key := repetitionKey(p.FEN())
	seen := 0
	for _, k := range p.prior {
		if k == key {
			seen++
		}
	}
	for _, pos := range p.stack {
		if repetitionKey(pos.String()) == key {
			seen++
		}
	}
	return seen >= 3
}

// IsInsufficientMaterial reports whether neither side can possibly mate.
func (p *Position) IsInsufficientMaterial() bool {
	return p.insufficient(nchess.White) && p.insufficient(nchess.Black)
}

// insufficient reports whether c alone cannot deliver mate.
func (p *Position) insufficient(c nchess.Color) bool {
	b := p.Board()
	var own, other struct {
		pawns, knights, bishops, rooks, queens, total int
	}
	lightBishops, darkBishops := 0, 0
	for sq, pc := range b.SquareMap() {
		side := &own
		if pc.Color() != c {
			side = &other
		}
		switch pc.Type() {
		case nchess.Pawn:
			side.pawns++
		case nchess.Knight:
			side.knights++
		case nchess.Bishop:
			side.bishops++
			if (int(sq.File())+int(sq.Rank()))%2 == 0 {
				darkBishops++
			} else {
				lightBishops++
			}
		case nchess.Rook:
			side.rooks++
		case nchess.Queen:
			side.queens++
		}
		if pc.Type() != nchess.King {
			side.total++
		}
	}

	if own.pawns > 0 || own.rooks > 0 || own.queens > 0 {
		return false
	}
	if own.knights > 0 {
		// a lone knight can only mate with help from blocking opponent pieces
		return own.total <= 1 && other.total == other.queens
	}
	if own.bishops > 0 {
		sameColor := lightBishops == 0 || darkBishops == 0
		return sameColor && other.pawns == 0 && other.knights == 0
	}
	return true
}

// Status classifies the current position in fixed priority order.
func (p *Position) Status() GameStatus {
	switch {
	case p.IsCheckmate():
		return StatusCheckmate
	case p.IsStalemate():
		return StatusStalemate
	case p.IsInsufficientMaterial():
		return StatusInsufficientMaterial
	case p.IsFiftyMoves():
		return StatusFiftyMoves
	case p.IsRepetition():
		return StatusRepetition
	case p.InCheck():
		return StatusCheck
	}
	return StatusOngoing
}
