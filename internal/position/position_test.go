package position

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func mustFEN(t *testing.T, fen string) *Position {
	t.Helper()
	p, err := FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN(%q): %v", fen, err)
	}
	return p
}

func TestFromFENRejectsGarbage(t *testing.T) {
	for _, fen := range []string{"", "not a fen", "8/8/8/8/8/8/8/8 w - - 0 1"} {
		if _, err := FromFEN(fen); !errors.Is(err, ErrInvalidFEN) {
			t.Fatalf("FromFEN(%q) = %v, want ErrInvalidFEN", fen, err)
		}
	}
}

func TestPushPopRestoresFEN(t *testing.T) {
	p := Start()
	before := p.FEN()
	for _, m := range p.LegalMoves() {
		if err := p.Push(m); err != nil {
			t.Fatalf("Push %s: %v", m.String(), err)
		}
		if p.FEN() == before {
			t.Fatalf("Push %s did not change the position", m.String())
		}
		if _, err := p.Pop(); err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got := p.FEN(); got != before {
			t.Fatalf("after push/pop %s: got %q want %q", m.String(), got, before)
		}
	}
	if _, err := p.Pop(); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("Pop at root = %v, want ErrEmptyHistory", err)
	}
}

func TestPushRejectsIllegalMove(t *testing.T) {
	afterE4 := mustFEN(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	blackMove, err := afterE4.FindMove("e7e5")
	if err != nil {
		t.Fatalf("FindMove: %v", err)
	}
	p := Start()
	before := p.FEN()
	if err := p.Push(blackMove); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("Push of a black move at the start = %v, want ErrIllegalMove", err)
	}
	if p.FEN() != before || p.Ply() != 0 {
		t.Fatalf("rejected push changed the position: %q", p.FEN())
	}
}

func TestHalfMoveClock(t *testing.T) {
	p := mustFEN(t, "4k3/4p3/8/8/8/8/4P3/4K1N1 w - - 7 20")
	if got := p.HalfMoveClock(); got != 7 {
		t.Fatalf("HalfMoveClock = %d, want 7", got)
	}
	knight, err := p.FindMove("g1f3")
	if err != nil {
		t.Fatalf("FindMove: %v", err)
	}
	if err := p.Push(knight); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := p.HalfMoveClock(); got != 8 {
		t.Fatalf("after a knight move HalfMoveClock = %d, want 8", got)
	}
	pawn, err := p.FindMove("e7e5")
	if err != nil {
		t.Fatalf("FindMove: %v", err)
	}
	if err := p.Push(pawn); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := p.HalfMoveClock(); got != 0 {
		t.Fatalf("after a pawn move HalfMoveClock = %d, want 0", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := Start()
	c := p.Clone()
	m, err := c.FindMove("e2e4")
	if err != nil {
		t.Fatalf("FindMove: %v", err)
	}
	if err := c.Push(m); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if p.FEN() == c.FEN() {
		t.Fatalf("clone shares state with original")
	}
	if p.Turn() != nchess.White || c.Turn() != nchess.Black {
		t.Fatalf("unexpected turns: %v %v", p.Turn(), c.Turn())
	}
}

func TestNotation(t *testing.T) {
	p := Start()
	m, err := p.FindMove("g1f3")
	if err != nil {
		t.Fatalf("FindMove: %v", err)
	}
	if got := p.UCI(m); got != "g1f3" {
		t.Fatalf("UCI = %q", got)
	}
	if got := p.SAN(m); got != "Nf3" {
		t.Fatalf("SAN = %q", got)
	}
	if _, err := p.FindMove("e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("FindMove(e2e5) = %v", err)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		fen  string
		want GameStatus
	}{
		{"start", StartFEN, StatusOngoing},
		{"fools mate", "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3", StatusCheckmate},
		{"stalemate", "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", StatusStalemate},
		{"bare kings", "8/8/8/4k3/8/8/8/4K3 w - - 0 1", StatusInsufficientMaterial},
		{"king and knight", "8/8/8/4k3/8/8/8/4KN2 w - - 0 1", StatusInsufficientMaterial},
		{"bishops on both colors", "8/8/8/4k3/8/8/8/2B1KB2 w - - 0 1", StatusOngoing},
		{"bishops on dark squares", "8/8/8/4k3/8/8/1B6/2B1K3 w - - 0 1", StatusInsufficientMaterial},
		{"king and rook", "8/8/8/4k3/8/8/8/4K2R w - - 0 1", StatusOngoing},
		{"fifty moves", "8/8/8/4k3/8/8/4P3/4K3 w - - 100 80", StatusFiftyMoves},
		{"check", "4k3/8/8/8/8/8/8/4R1K1 b - - 0 1", StatusCheck},
	}
	for _, tc := range cases {
		p := mustFEN(t, tc.fen)
		if got := p.Status(); got != tc.want {
			t.Fatalf("%s: Status() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRepetitionAcrossPushes(t *testing.T) {
	p := Start()
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	for round := 0; round < 2; round++ {
		for _, uci := range shuffle {
			m, err := p.FindMove(uci)
			if err != nil {
				t.Fatalf("FindMove(%s): %v", uci, err)
			}
			if err := p.Push(m); err != nil {
				t.Fatalf("Push(%s): %v", uci, err)
			}
		}
	}
	if !p.IsRepetition() {
		t.Fatalf("expected threefold repetition after two shuffles")
	}
	if got := p.Status(); got != StatusRepetition {
		t.Fatalf("Status() = %q", got)
	}
}

func TestRepetitionFromHistory(t *testing.T) {
	p := Start()
	if err := p.WithHistory([]string{StartFEN, "rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R b KQkq - 1 1", StartFEN}); err != nil {
		t.Fatalf("WithHistory: %v", err)
	}
	if !p.IsRepetition() {
		t.Fatalf("expected repetition from seeded history")
	}
	if err := p.WithHistory([]string{"bogus"}); err == nil {
		t.Fatalf("expected error for invalid history entry")
	}
}

func TestCount(t *testing.T) {
	p := Start()
	if got := p.Count(nchess.Pawn, nchess.White); got != 8 {
		t.Fatalf("white pawns = %d", got)
	}
	if got := p.Count(nchess.Queen, nchess.Black); got != 1 {
		t.Fatalf("black queens = %d", got)
	}
}
