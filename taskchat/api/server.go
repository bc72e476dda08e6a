// Package api binds the turn engine and conversation queries to HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/harness"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TurnSubmitter runs one chat turn.
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req harness.TurnRequest) (*harness.TurnResult, error)
}

// ConversationService serves conversation reads and deletes.
type ConversationService interface {
	List(ctx context.Context, userID string, limit int) ([]ports.Conversation, error)
	Messages(ctx context.Context, userID, conversationID string, limit int) ([]ports.Message, error)
	Delete(ctx context.Context, userID, conversationID string) (int, error)
}

// HealthCheck reports whether the database is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the HTTP binding.
type Options struct {
	JWTSecret      string
	RequestTimeout time.Duration
	Provider       string // reported by /health
}

// Server holds the HTTP routes.
type Server struct {
	engine        *gin.Engine
	turns         TurnSubmitter
	conversations ConversationService
	health        HealthCheck
	opts          Options
	logger        zerolog.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(turns TurnSubmitter, conversations ConversationService, health HealthCheck, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		engine:        gin.New(),
		turns:         turns,
		conversations: conversations,
		health:        health,
		opts:          opts,
		logger:        logger,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(RequestIDMiddleware())
	s.engine.Use(LogMiddleware(logger))

	s.engine.GET("/health", s.Health)

	v1 := s.engine.Group("/api/v1")
	v1.Use(TokenAuthMiddleware(opts.JWTSecret))
	v1.Use(TimeoutMiddleware(opts.RequestTimeout))
	{
		v1.POST("/chat", s.Chat)
		v1.GET("/conversations", s.ListConversations)
		v1.GET("/conversations/:id/messages", s.ListMessages)
		v1.DELETE("/conversations/:id", s.DeleteConversation)
	}
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}
