package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/agent"
	"github.com/CaravanDesk/ChatCaravan/internal/conversation"
	"github.com/CaravanDesk/ChatCaravan/internal/messaging"
	"github.com/CaravanDesk/ChatCaravan/internal/speech"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown on exit.
const shutdownTimeout = 10 * time.Second

// Features reports which optional components are live, for the health
// endpoint.
type Features struct {
	Provider     string `json:"provider"`
	DurableStore bool   `json:"durable_store"`
	RedisCache   bool   `json:"redis_cache"`
	Speech       bool   `json:"speech"`
}

// Server wires the HTTP handlers to the bot's components.
type Server struct {
	agent          *agent.Agent
	history        *conversation.History
	msgService     messaging.Service
	speech         *speech.Service
	features       Features
	inboundPattern string
	inboundHandler http.HandlerFunc
}

// Opts holds configuration options for the API server.
type Opts struct {
	Features       Features
	inboundPattern string
	inboundHandler http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithFeatures sets the feature flags reported by the health endpoint.
func WithFeatures(f Features) Option {
	return func(o *Opts) { o.Features = f }
}

// WithInboundWebhook mounts an extra provider webhook route, for
// providers that deliver inbound messages over their own HTTP callback.
func WithInboundWebhook(pattern string, handler http.HandlerFunc) Option {
	return func(o *Opts) {
		o.inboundPattern = pattern
		o.inboundHandler = handler
	}
}

// NewServer creates the API server. The speech service may be nil; voice
// messages then get the fixed fallback reply.
func NewServer(ag *agent.Agent, history *conversation.History, msgService messaging.Service, speechSvc *speech.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		agent:          ag,
		history:        history,
		msgService:     msgService,
		speech:         speechSvc,
		features:       cfg.Features,
		inboundPattern: cfg.inboundPattern,
		inboundHandler: cfg.inboundHandler,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.webhookHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/chats", s.chatsHandler)
	mux.HandleFunc("GET /api/chat/{phone}", s.chatHistoryHandler)
	mux.HandleFunc("DELETE /api/chat/{phone}", s.deleteChatHandler)
	if s.inboundHandler != nil && s.inboundPattern != "" {
		mux.HandleFunc(s.inboundPattern, s.inboundHandler)
	}
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}
