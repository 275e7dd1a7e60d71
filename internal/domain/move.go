package domain

import "time"

// MoveRecord is one served worst-move answer.
type MoveRecord struct {
	ID          int64
	RequestID   string
	FEN         string
	Move        string
	SAN         string
	Score       int
	Scored      bool
	GameStatus  string
	Backend     string
	Fallback    bool
	RecentMoves []string
	Latency     time.Duration
	CreatedAt   time.Time
}

type MoveStats struct {
	Total      int64
	Fallbacks  int64
	Unscored   int64
	ByBackend  map[string]int64
	ByStatus   map[string]int64
	AvgLatency time.Duration
}
