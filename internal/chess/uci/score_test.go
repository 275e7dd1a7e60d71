package uci

import "testing"

func TestParseScore(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		want Score
	}{
		{"info depth 12 seldepth 18 multipv 1 score cp -35 nodes 12345 nps 1 pv e7e5 g1f3", true, Score{Valid: true, CP: -35, Depth: 12}},
		{"info depth 9 score mate 3 pv d1h5", true, Score{Valid: true, IsMate: true, Mate: 3, Depth: 9}},
		{"info depth 9 score mate -2 pv g8f6", true, Score{Valid: true, IsMate: true, Mate: -2, Depth: 9}},
		{"info depth 0 score mate 0", true, Score{Valid: true, IsMate: true, Mate: 0}},
		{"info depth 5 score cp 20 lowerbound pv e2e4", true, Score{Valid: true, CP: 20, Depth: 5, Bound: "lowerbound"}},
		{"info string NNUE evaluation using nn.nnue score cp 9", false, Score{}},
		{"info depth 3 currmove e2e4 currmovenumber 1", false, Score{}},
		{"info depth 3 score cp", false, Score{}},
		{"info depth 3 score wdl 1 2 3", false, Score{}},
		{"bestmove e2e4", false, Score{}},
	}
	for _, tc := range cases {
		got, ok := ParseScore(tc.line)
		if ok != tc.ok {
			t.Fatalf("ParseScore(%q) ok = %v", tc.line, ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseScore(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}
