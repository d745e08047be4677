// Package server exposes speech synthesis and LLM chat over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Errors returned by New.
var (
	ErrNilSynthesizer = errors.New("synthesizer is required")
	ErrNilChat        = errors.New("chat service is required")
	ErrNilLogger      = errors.New("logger is required")
)

// Synthesizer turns a request into a WAV artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.Artifact, error)
	Runtime() core.SpeechRuntime
}

// Chatter answers a message with text or speech.
type Chatter interface {
	Reply(ctx context.Context, req chat.Request) (chat.Reply, error)
	Speak(ctx context.Context, req chat.Request) (*tts.Artifact, chat.Reply, error)
	Model() string
}

// Dependencies wires the router to the services behind it.
type Dependencies struct {
	Config      config.ServerConfig
	Synthesizer Synthesizer
	Chat        Chatter
	Log         *logger.Logger
}

// Server holds the gin engine and the services its handlers call.
type Server struct {
	cfg         config.ServerConfig
	synthesizer Synthesizer
	chat        Chatter
	log         *logger.Logger
	engine      *gin.Engine
	started     time.Time
}

// New builds the router.
func New(deps Dependencies) (*Server, error) {
	if deps.Synthesizer == nil {
		return nil, ErrNilSynthesizer
	}

	if deps.Chat == nil {
		return nil, ErrNilChat
	}

	if deps.Log == nil {
		return nil, ErrNilLogger
	}

	srv := &Server{
		cfg:         deps.Config,
		synthesizer: deps.Synthesizer,
		chat:        deps.Chat,
		log:         deps.Log,
		started:     time.Now(),
	}
	srv.engine = srv.routes()

	return srv, nil
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(s.log))
	engine.Use(cors.New(corsConfig(s.cfg.CORSAllowedOrigins)))

	if s.cfg.MaxBodyBytes > 0 {
		engine.Use(bodyLimitMiddleware(s.cfg.MaxBodyBytes))
	}

	engine.GET("/health", s.handleHealth)
	engine.POST("/tts", s.handleTTS)
	engine.POST("/chat", s.handleChat)
	engine.POST("/chat/text", s.handleChatText)
	engine.GET("/ws/tts", s.handleWebSocket)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Code: CodeNotFound})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Code: CodeMethodNotAllowed})
	})

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}

	return cfg
}
