package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/blundrbot/internal/chess"
	"github.com/park285/blundrbot/internal/chess/uci"
	"github.com/park285/blundrbot/internal/config"
	"github.com/park285/blundrbot/internal/movelog"
	"github.com/park285/blundrbot/internal/position"
	"github.com/park285/blundrbot/pkg/blundrdto"
)

const foolsMate = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"

func newTestServer(t *testing.T) (*Server, movelog.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine, err := chess.NewEngine(chess.Options{Backend: chess.BackendMaterial})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	repo := movelog.NewMemoryRepository(100)
	srv, err := NewServer(Deps{Engine: engine, Repo: repo}, Config{AllowedOrigins: config.DefaultAllowedOrigins})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, repo
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestRootBanner(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv.Router(), http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	b := decodeBody[blundrdto.Banner](t, w)
	if b.Status != "ok" || b.Endpoints["POST /worst-move"] == "" {
		t.Fatalf("unexpected banner %+v", b)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv.Router(), http.MethodGet, "/healthz", nil)
	h := decodeBody[blundrdto.Health](t, w)
	if w.Code != http.StatusOK || h.Status != "ok" || h.Backend != "material" {
		t.Fatalf("unexpected health %d %+v", w.Code, h)
	}
}

func TestWorstMoveSuccess(t *testing.T) {
	srv, repo := newTestServer(t)
	w := do(t, srv.Router(), http.MethodPost, "/worst-move", blundrdto.WorstMoveRequest{FEN: position.StartFEN, RecentMoves: []string{"a2a3"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody[blundrdto.WorstMoveResponse](t, w)
	if resp.Status != blundrdto.StatusSuccess || resp.MoveValue() == "" || resp.SANValue() == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.GameOver || resp.GameStatus != "ongoing" || resp.Message != "Your turn" || resp.Score != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RequestID == "" || w.Header().Get(requestIDHeader) != resp.RequestID {
		t.Fatalf("request id mismatch: header %q body %q", w.Header().Get(requestIDHeader), resp.RequestID)
	}

	recs, _ := repo.Recent(context.Background(), 10)
	if len(recs) != 1 || recs[0].RequestID != resp.RequestID || recs[0].Move != resp.MoveValue() {
		t.Fatalf("move not logged: %+v", recs)
	}
}

func TestWorstMoveNoMoves(t *testing.T) {
	srv, repo := newTestServer(t)
	w := do(t, srv.Router(), http.MethodPost, "/worst-move", blundrdto.WorstMoveRequest{FEN: foolsMate})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"move":null`) {
		t.Fatalf("move should be null: %s", w.Body.String())
	}
	resp := decodeBody[blundrdto.WorstMoveResponse](t, w)
	if resp.Status != blundrdto.StatusNoMoves || !resp.GameOver || resp.GameStatus != "checkmate" || resp.Message != "Checkmate! Game over." {
		t.Fatalf("unexpected response %+v", resp)
	}
	if recs, _ := repo.Recent(context.Background(), 10); len(recs) != 0 {
		t.Fatalf("terminal answers are not logged")
	}
}

func TestWorstMoveBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	cases := []struct {
		name   string
		body   any
		prefix string
	}{
		{"invalid fen", blundrdto.WorstMoveRequest{FEN: "not a fen"}, "Invalid FEN"},
		{"missing fen", map[string]string{}, "fen is required"},
		{"no kings", blundrdto.WorstMoveRequest{FEN: "8/8/8/8/8/8/8/8 w - - 0 1"}, "Invalid FEN"},
		{"bad history", blundrdto.WorstMoveRequest{FEN: position.StartFEN, History: []string{"x"}}, "Invalid FEN"},
		{"pool size", blundrdto.WorstMoveRequest{FEN: position.StartFEN, PoolSize: -1}, "pool_size"},
		{"wrong type", map[string]any{"fen": 12}, "Invalid request body"},
	}
	for _, tc := range cases {
		w := do(t, router, http.MethodPost, "/worst-move", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.name, w.Code)
		}
		e := decodeBody[blundrdto.ErrorResponse](t, w)
		if !strings.HasPrefix(e.Detail, tc.prefix) {
			t.Fatalf("%s: detail = %q", tc.name, e.Detail)
		}
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("%w: %w", chess.ErrEngineUnavailable, uci.ErrHandshake), http.StatusServiceUnavailable, "Engine unavailable"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "Engine timed out"},
		{fmt.Errorf("%w: e2e5", position.ErrIllegalMove), http.StatusBadRequest, "illegal move: e2e5"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tc := range cases {
		status := statusFor(tc.err)
		if status != tc.status || errorDetail(status, tc.err) != tc.detail {
			t.Fatalf("%v: got %d %q", tc.err, status, errorDetail(status, tc.err))
		}
	}
}

func TestBoardPNG(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	w := do(t, router, http.MethodGet, "/board.png?move=e2e4&flip=true", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d type=%q", w.Code, w.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Fatalf("decode png: %v", err)
	}

	if w := do(t, router, http.MethodGet, "/board.png?move=e2e5", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("illegal move status = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/board.png?fen=garbage", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad fen status = %d", w.Code)
	}
}

func TestRecentMoves(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	for i := 0; i < 3; i++ {
		if w := do(t, router, http.MethodPost, "/worst-move", blundrdto.WorstMoveRequest{FEN: position.StartFEN}); w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}
	w := do(t, router, http.MethodGet, "/moves/recent?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[blundrdto.RecentMovesResponse](t, w)
	if len(resp.Moves) != 2 || resp.Stats == nil || resp.Stats.Total != 3 || resp.Stats.ByBackend["material"] != 3 {
		t.Fatalf("unexpected recent %+v", resp)
	}
	if w := do(t, router, http.MethodGet, "/moves/recent?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	for origin, allowed := range map[string]bool{"http://localhost:3000": true, "https://evil.example": false} {
		req := httptest.NewRequest(http.MethodOptions, "/worst-move", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		got := w.Header().Get("Access-Control-Allow-Origin")
		if allowed && got != origin {
			t.Fatalf("origin %s not allowed: %q (status %d)", origin, got, w.Code)
		}
		if !allowed && got != "" {
			t.Fatalf("origin %s unexpectedly allowed", origin)
		}
	}
}

func TestEmptyOriginsUseDefaults(t *testing.T) {
	engine, err := chess.NewEngine(chess.Options{Backend: chess.BackendMaterial})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	srv, err := NewServer(Deps{Engine: engine}, Config{AllowedOrigins: []string{}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	router := srv.Router()
	req := httptest.NewRequest(http.MethodOptions, "/worst-move", nil)
	req.Header.Set("Origin", config.DefaultAllowedOrigins[0])
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != config.DefaultAllowedOrigins[0] {
		t.Fatalf("default origin not allowed: %q", got)
	}
}

func TestNotFoundDetail(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv.Router(), http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound || decodeBody[blundrdto.ErrorResponse](t, w).Detail != "Not Found" {
		t.Fatalf("unexpected 404 %d %s", w.Code, w.Body.String())
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, blundrdto.WorstMoveRequest{FEN: position.StartFEN}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ok wsReply
	if err := wsjson.Read(ctx, conn, &ok); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ok.Status != blundrdto.StatusSuccess || ok.MoveValue() == "" || ok.Detail != "" {
		t.Fatalf("unexpected reply %+v", ok)
	}

	if err := wsjson.Write(ctx, conn, blundrdto.WorstMoveRequest{FEN: "bad"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var bad wsReply
	if err := wsjson.Read(ctx, conn, &bad); err != nil {
		t.Fatalf("read: %v", err)
	}
	if bad.Code != http.StatusBadRequest || !strings.HasPrefix(bad.Detail, "Invalid FEN") {
		t.Fatalf("unexpected error reply %+v", bad)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}
