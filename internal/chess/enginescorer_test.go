package chess

import (
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blundrbot/internal/chess/uci"
)

func TestAbsoluteScore(t *testing.T) {
	cases := []struct {
		name  string
		score uci.Score
		turn  nchess.Color
		want  int
	}{
		{"white to move ahead", uci.Score{Valid: true, CP: 120}, nchess.White, 120},
		{"black to move ahead", uci.Score{Valid: true, CP: 120}, nchess.Black, -120},
		{"black to move behind", uci.Score{Valid: true, CP: -80}, nchess.Black, 80},
		{"white mates", uci.Score{Valid: true, IsMate: true, Mate: 2}, nchess.White, MateScore},
		{"black mates", uci.Score{Valid: true, IsMate: true, Mate: 1}, nchess.Black, -MateScore},
		{"white is mated", uci.Score{Valid: true, IsMate: true, Mate: -3}, nchess.White, -MateScore},
		{"black is mated", uci.Score{Valid: true, IsMate: true, Mate: 0}, nchess.Black, MateScore},
	}
	for _, tc := range cases {
		if got := AbsoluteScore(tc.score, tc.turn); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}
