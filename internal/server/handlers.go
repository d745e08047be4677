package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/gin-gonic/gin"
)

const (
	contentTypeWAV = "audio/wav"

	// HeaderAudioDuration reports the length of returned audio in seconds.
	HeaderAudioDuration = "X-Audio-Duration"
)

func (s *Server) handleTTS(c *gin.Context) {
	var req tts.SynthesisRequest

	if err := bindJSON(c, &req); err != nil {
		s.abortWithError(c, err)

		return
	}

	artifact, err := s.synthesizer.Synthesize(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)

		return
	}

	s.sendAudio(c, artifact, "speech.wav")
}

func (s *Server) handleChat(c *gin.Context) {
	var req chat.Request

	if err := bindJSON(c, &req); err != nil {
		s.abortWithError(c, err)

		return
	}

	artifact, _, err := s.chat.Speak(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)

		return
	}

	s.sendAudio(c, artifact, "response.wav")
}

func (s *Server) handleChatText(c *gin.Context) {
	var req chat.Request

	if err := bindJSON(c, &req); err != nil {
		s.abortWithError(c, err)

		return
	}

	reply, err := s.chat.Reply(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, reply)
}

// sendAudio streams the artifact and removes it once the response is written.
func (s *Server) sendAudio(c *gin.Context, artifact *tts.Artifact, filename string) {
	defer func() {
		if err := artifact.Close(); err != nil {
			s.log.Warn("[%s] Failed to remove %s: %v", core.RequestID(c.Request.Context()), artifact.Path(), err)
		}
	}()

	c.DataFromReader(http.StatusOK, artifact.Size(), contentTypeWAV, artifact, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
		HeaderAudioDuration:   strconv.FormatFloat(artifact.Duration().Seconds(), 'f', 3, 64),
	})
}

func bindJSON(c *gin.Context, target any) error {
	if err := c.ShouldBindJSON(target); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", core.ErrInvalidInput, err)
	}

	return nil
}
