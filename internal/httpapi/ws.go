package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/blundrbot/pkg/blundrdto"
)

const wsIdleTimeout = 2 * time.Minute

// wsReply carries either a result or an error detail for one frame.
type wsReply struct {
	blundrdto.WorstMoveResponse
	Detail string `json:"detail,omitempty"`
	Code   int    `json:"code,omitempty"`
}

// handleWS answers each JSON text frame with one reply frame, in order.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  originPatterns(s.cfg.AllowedOrigins),
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("ws_accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	connID := requestIDFrom(c)
	ctx := c.Request.Context()
	s.log.Info("ws_connected", zap.String("conn_id", connID))

	for {
		readCtx, cancel := context.WithTimeout(ctx, wsIdleTimeout)
		var req blundrdto.WorstMoveRequest
		err := wsjson.Read(readCtx, conn, &req)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Info("ws_closed", zap.String("conn_id", connID))
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				_ = conn.Close(websocket.StatusNormalClosure, "idle")
				return
			}
			// wsjson closes the connection itself on undecodable frames
			s.log.Debug("ws_read", zap.String("conn_id", connID), zap.Error(err))
			return
		}

		reqID := uuid.NewString()
		resp, code, err := s.worstMove(ctx, reqID, req)
		reply := wsReply{WorstMoveResponse: resp}
		if err != nil {
			reply = wsReply{Detail: errorDetail(code, err), Code: code}
			reply.RequestID = reqID
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(writeCtx, conn, reply)
		cancel()
		if err != nil {
			s.log.Debug("ws_write", zap.String("conn_id", connID), zap.Error(err))
			return
		}
	}
}

// originPatterns converts allowed origins to host patterns for the
// websocket origin check.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, ok := stripScheme(o); ok {
			out = append(out, u)
		}
	}
	return out
}

func stripScheme(origin string) (string, bool) {
	for _, p := range []string{"https://", "http://"} {
		if len(origin) > len(p) && origin[:len(p)] == p {
			return origin[len(p):], true
		}
	}
	return "", false
}
