package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout  = 30 * time.Second
	wsDefaultLimit  = 1 << 20
	wsCloseDeadline = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleWebSocket synthesizes every JSON text frame it receives. Each request is
// answered with one binary frame holding the WAV file, or a JSON error frame.
func (s *Server) handleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := core.RequestID(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("[%s] WebSocket upgrade failed: %v", requestID, err)

		return
	}
	defer conn.Close()

	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = wsDefaultLimit
	}

	conn.SetReadLimit(limit)
	s.log.Info("[%s] WebSocket session opened from %s", requestID, c.ClientIP())

	frames := 0

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("[%s] WebSocket read failed: %v", requestID, err)
			}

			break
		}

		if messageType != websocket.TextMessage {
			err = s.writeFrameError(conn, fmt.Errorf("%w: expected a JSON text frame", core.ErrInvalidInput))
		} else {
			err = s.synthesizeFrame(c, conn, payload)
		}

		if err != nil {
			s.log.Warn("[%s] WebSocket write failed: %v", requestID, err)

			break
		}

		frames++
	}

	deadline := time.Now().Add(wsCloseDeadline)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	s.log.Info("[%s] WebSocket session closed after %d frames", requestID, frames)
}

// synthesizeFrame handles one request frame. Only write failures are returned.
func (s *Server) synthesizeFrame(c *gin.Context, conn *websocket.Conn, payload []byte) error {
	var req tts.SynthesisRequest

	if err := json.Unmarshal(payload, &req); err != nil {
		return s.writeFrameError(conn, fmt.Errorf("%w: invalid JSON frame: %w", core.ErrInvalidInput, err))
	}

	artifact, err := s.synthesizer.Synthesize(c.Request.Context(), req)
	if err != nil {
		return s.writeFrameError(conn, err)
	}
	defer artifact.Close()

	data, err := artifact.Bytes()
	if err != nil {
		return s.writeFrameError(conn, fmt.Errorf("%w: read output: %w", core.ErrSynthesisFailed, err))
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Server) writeFrameError(conn *websocket.Conn, cause error) error {
	_, body := errorBody(cause)

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	if err := conn.WriteJSON(body); err != nil {
		return errors.Join(cause, err)
	}

	return nil
}
