package blundrclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/blundrbot/pkg/blundrdto"
)

// Stream sends worst-move requests over the /ws endpoint. Replies arrive in
// request order, so calls are serialized.
type Stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type streamReply struct {
	blundrdto.WorstMoveResponse
	Detail string `json:"detail"`
	Code   int    `json:"code"`
}

// DialStream opens a websocket to baseURL (http or https scheme).
func DialStream(ctx context.Context, baseURL string, headers http.Header) (*Stream, error) {
	wsURL := strings.TrimRight(baseURL, "/") + "/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      headers,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) WorstMove(ctx context.Context, req blundrdto.WorstMoveRequest) (*blundrdto.WorstMoveResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("stream closed")
	}
	if err := wsjson.Write(ctx, s.conn, req); err != nil {
		return nil, err
	}
	var reply streamReply
	if err := wsjson.Read(ctx, s.conn, &reply); err != nil {
		return nil, err
	}
	if reply.Detail != "" {
		return nil, &blundrdto.APIError{StatusCode: reply.Code, Detail: reply.Detail}
	}
	return &reply.WorstMoveResponse, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "close")
	s.conn = nil
	return err
}
