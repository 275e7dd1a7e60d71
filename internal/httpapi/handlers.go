package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/blundrbot/internal/chess"
	"github.com/park285/blundrbot/internal/domain"
	"github.com/park285/blundrbot/internal/position"
	"github.com/park285/blundrbot/internal/render"
	"github.com/park285/blundrbot/pkg/blundrdto"
)

const (
	maxPoolSize    = 256
	maxRecentLimit = 100
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, blundrdto.Banner{
		Status:  "ok",
		Message: s.catalog.Text("banner.message", "BlundrBot API is running"),
		Endpoints: map[string]string{
			"POST /worst-move":  "Get the worst move for a given FEN position",
			"GET /board.png":    "Render a position, optionally highlighting a move",
			"GET /moves/recent": "Recently served moves",
			"GET /ws":           "Worst-move requests over a websocket",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := blundrdto.Health{Status: "ok", Backend: string(s.engine.Backend())}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			h.Cache = "error"
		} else {
			h.Cache = "ok"
		}
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleWorstMove(c *gin.Context) {
	var req blundrdto.WorstMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	resp, status, err := s.worstMove(c.Request.Context(), requestIDFrom(c), req)
	if err != nil {
		_ = c.Error(err)
		abortDetail(c, status, errorDetail(status, err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// worstMove runs one request through the engine and logs the served move.
// On error it returns the HTTP status to report.
func (s *Server) worstMove(parent context.Context, reqID string, req blundrdto.WorstMoveRequest) (blundrdto.WorstMoveResponse, int, error) {
	if err := validate(req); err != nil {
		return blundrdto.WorstMoveResponse{}, http.StatusBadRequest, err
	}
	ctx, cancel := s.requestContext(parent)
	defer cancel()

	res, err := s.engine.WorstMove(ctx, chess.WorstMoveRequest{
		FEN:         strings.TrimSpace(req.FEN),
		RecentMoves: req.RecentMoves,
		History:     req.History,
		PoolSize:    req.PoolSize,
	})
	if err != nil {
		return blundrdto.WorstMoveResponse{}, statusFor(err), err
	}

	resp := blundrdto.WorstMoveResponse{
		Score:      res.Score,
		GameStatus: string(res.Status),
		Message:    s.catalog.Status(string(res.Status)),
		Backend:    string(res.Backend),
		Scored:     res.Scored,
		Fallback:   res.Fallback,
		FENAfter:   res.FENAfter,
		RequestID:  reqID,
	}
	if res.NoMove {
		resp.Status = blundrdto.StatusNoMoves
		resp.GameOver = true
		resp.Score = 0
		return resp, http.StatusOK, nil
	}
	move, san := res.Move, res.SAN
	resp.Move, resp.SAN = &move, &san
	resp.Status = blundrdto.StatusSuccess
	resp.GameOver = res.Status.Terminal()

	s.logMove(ctx, reqID, req, res)
	return resp, http.StatusOK, nil
}

func (s *Server) logMove(ctx context.Context, reqID string, req blundrdto.WorstMoveRequest, res chess.WorstMoveResult) {
	if s.repo == nil {
		return
	}
	rec := &domain.MoveRecord{
		RequestID:   reqID,
		FEN:         strings.TrimSpace(req.FEN),
		Move:        res.Move,
		SAN:         res.SAN,
		Score:       res.Score,
		Scored:      res.Scored,
		GameStatus:  string(res.Status),
		Backend:     string(res.Backend),
		Fallback:    res.Fallback,
		RecentMoves: req.RecentMoves,
		Latency:     res.Duration,
	}
	if _, err := s.repo.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warn("movelog_insert", zap.String("request_id", reqID), zap.Error(err))
	}
}

func validate(req blundrdto.WorstMoveRequest) error {
	if strings.TrimSpace(req.FEN) == "" {
		return errors.New("fen is required")
	}
	if req.PoolSize < 0 || req.PoolSize > maxPoolSize {
		return fmt.Errorf("pool_size must be between 1 and %d", maxPoolSize)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, position.ErrInvalidFEN), errors.Is(err, position.ErrIllegalMove):
		return http.StatusBadRequest
	case errors.Is(err, chess.ErrEngineUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorDetail(status int, err error) string {
	switch {
	case errors.Is(err, position.ErrInvalidFEN):
		return fenDetail(err)
	case status == http.StatusBadRequest:
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Engine timed out"
	case status == http.StatusServiceUnavailable:
		return "Engine unavailable"
	}
	return "Internal Server Error"
}

func fenDetail(err error) string {
	return "Invalid FEN: " + strings.Replace(err.Error(), position.ErrInvalidFEN.Error()+": ", "", 1)
}

func (s *Server) handleBoard(c *gin.Context) {
	fen := strings.TrimSpace(c.DefaultQuery("fen", position.StartFEN))
	pos, err := position.FromFEN(fen)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, fenDetail(err))
		return
	}

	var opts render.RenderOptions
	opts.Flip, _ = strconv.ParseBool(c.DefaultQuery("flip", "false"))
	if uci := strings.TrimSpace(c.Query("move")); uci != "" {
		m, err := pos.FindMove(uci)
		if err != nil {
			abortDetail(c, http.StatusBadRequest, err.Error())
			return
		}
		opts.Caption = pos.SAN(m)
		if err := pos.Push(m); err != nil {
			abortDetail(c, http.StatusBadRequest, err.Error())
			return
		}
		if opts.Highlight, err = render.HighlightFromUCI(uci); err != nil {
			abortDetail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx, cancel := s.requestContext(c.Request.Context())
	defer cancel()
	png, err := s.renderer.RenderPNG(ctx, pos.Board(), opts)
	if err != nil {
		_ = c.Error(err)
		abortDetail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleRecent(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, blundrdto.RecentMovesResponse{Moves: []blundrdto.ServedMove{}})
		return
	}
	limit := 20
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRecentLimit {
			abortDetail(c, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRecentLimit))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	recs, err := s.repo.Recent(ctx, limit)
	if err != nil {
		_ = c.Error(err)
		abortDetail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	resp := blundrdto.RecentMovesResponse{Moves: make([]blundrdto.ServedMove, 0, len(recs))}
	for _, r := range recs {
		resp.Moves = append(resp.Moves, blundrdto.ServedMove{
			ID:          r.ID,
			RequestID:   r.RequestID,
			FEN:         r.FEN,
			Move:        r.Move,
			SAN:         r.SAN,
			Score:       r.Score,
			Scored:      r.Scored,
			GameStatus:  r.GameStatus,
			Backend:     r.Backend,
			Fallback:    r.Fallback,
			RecentMoves: r.RecentMoves,
			LatencyMS:   r.Latency.Milliseconds(),
			CreatedAt:   r.CreatedAt,
		})
	}
	if stats, err := s.repo.Stats(ctx); err == nil {
		resp.Stats = &blundrdto.MoveStats{
			Total:        stats.Total,
			Fallbacks:    stats.Fallbacks,
			Unscored:     stats.Unscored,
			ByBackend:    stats.ByBackend,
			ByStatus:     stats.ByStatus,
			AvgLatencyMS: stats.AvgLatency.Milliseconds(),
		}
	} else {
		s.log.Warn("movelog_stats", zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}
