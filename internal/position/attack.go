package position

import nchess "github.com/corentings/chess/v2"

var (
	knightJumps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays    = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays  = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func pieceAt(b *nchess.Board, file, rank int) (nchess.Piece, bool) {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return nchess.NoPiece, false
	}
	return b.Piece(nchess.NewSquare(nchess.File(file), nchess.Rank(rank))), true
}

func kingSquare(b *nchess.Board, c nchess.Color) (nchess.Square, bool) {
	for sq, pc := range b.SquareMap() {
		if pc.Type() == nchess.King && pc.Color() == c {
			return sq, true
		}
	}
	return nchess.NoSquare, false
}

// attacked reports whether any piece of color by attacks sq.
func attacked(b *nchess.Board, sq nchess.Square, by nchess.Color) bool {
	f, r := int(sq.File()), int(sq.Rank())

	for _, d := range knightJumps {
		if pc, ok := pieceAt(b, f+d[0], r+d[1]); ok && pc.Color() == by && pc.Type() == nchess.Knight {
			return true
		}
	}
	for _, d := range kingSteps {
		if pc, ok := pieceAt(b, f+d[0], r+d[1]); ok && pc.Color() == by && pc.Type() == nchess.King {
			return true
		}
	}

	// a white pawn attacks upward, so look one rank below the target
	pawnRank := r - 1
	if by == nchess.Black {
		pawnRank = r + 1
	}
	for _, df := range [2]int{-1, 1} {
		if pc, ok := pieceAt(b, f+df, pawnRank); ok && pc.Color() == by && pc.Type() == nchess.Pawn {
			return true
		}
	}

	if slides(b, f, r, rookRays[:], by, nchess.Rook) || slides(b, f, r, bishopRays[:], by, nchess.Bishop) {
		return true
	}
	return false
}

func slides(b *nchess.Board, f, r int, rays [][2]int, by nchess.Color, slider nchess.PieceType) bool {
	for _, d := range rays {
		for step := 1; ; step++ {
			pc, ok := pieceAt(b, f+d[0]*step, r+d[1]*step)
			if !ok {
				break
			}
			if pc == nchess.NoPiece {
				continue
			}
			if pc.Color() == by && (pc.Type() == slider || pc.Type() == nchess.Queen) {
				return true
			}
			break
		}
	}
	return false
}
