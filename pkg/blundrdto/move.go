package blundrdto

import "time"

const (
	StatusSuccess = "success"
	StatusNoMoves = "no_moves"
)

// WorstMoveRequest is the body of POST /worst-move and of each /ws frame.
type WorstMoveRequest struct {
	FEN         string   `json:"fen"`
	RecentMoves []string `json:"recent_moves,omitempty"`
	// History lists earlier positions of the game, oldest first.
	History  []string `json:"history,omitempty"`
	PoolSize int      `json:"pool_size,omitempty"`
}

type WorstMoveResponse struct {
	Move       *string `json:"move"`
	SAN        *string `json:"san"`
	Score      int     `json:"score"`
	GameOver   bool    `json:"game_over"`
	Status     string  `json:"status"`
	GameStatus string  `json:"game_status"`
	Message    string  `json:"message,omitempty"`
	Backend    string  `json:"backend,omitempty"`
	Scored     bool    `json:"scored"`
	Fallback   bool    `json:"fallback"`
	FENAfter   string  `json:"fen_after,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
}

// MoveValue returns the move or "" for terminal positions.
func (r WorstMoveResponse) MoveValue() string {
	if r.Move == nil {
		return ""
	}
	return *r.Move
}

func (r WorstMoveResponse) SANValue() string {
	if r.SAN == nil {
		return ""
	}
	return *r.SAN
}

type ServedMove struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	FEN         string    `json:"fen"`
	Move        string    `json:"move"`
	SAN         string    `json:"san"`
	Score       int       `json:"score"`
	Scored      bool      `json:"scored"`
	GameStatus  string    `json:"game_status"`
	Backend     string    `json:"backend"`
	Fallback    bool      `json:"fallback"`
	RecentMoves []string  `json:"recent_moves"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

type MoveStats struct {
	Total        int64            `json:"total"`
	Fallbacks    int64            `json:"fallbacks"`
	Unscored     int64            `json:"unscored"`
	ByBackend    map[string]int64 `json:"by_backend"`
	ByStatus     map[string]int64 `json:"by_status"`
	AvgLatencyMS int64            `json:"avg_latency_ms"`
}

type RecentMovesResponse struct {
	Moves []ServedMove `json:"moves"`
	Stats *MoveStats   `json:"stats,omitempty"`
}
