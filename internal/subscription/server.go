package subscription

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
	"github.com/gorillaerror/xui-central/internal/shared/middleware"
)

// ServerConfig configures the subscription server.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Version string `mapstructure:"-"`
}

// Server serves subscription payloads. It is deliberately tiny: one
// public endpoint plus health and metrics.
type Server struct {
	server    *http.Server
	assembler *Assembler
	metrics   *metrics.Metrics
	log       *logger.Logger
	config    ServerConfig
}

// NewServer creates the subscription server.
func NewServer(config ServerConfig, assembler *Assembler, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		assembler: assembler,
		metrics:   m,
		log:       log.WithComponent("subscription-api"),
		config:    config,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.Routes()
	s.log.InfoContext(ctx, "starting subscription server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("subscription server failed: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Routes builds the handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /sub/{email}", s.handleSubscription)

	return middleware.Chain(
		middleware.RequestID(s.log),
		middleware.Recovery(),
		middleware.Logging(),
	)(mux)
}

// handleSubscription serves the base64 payload as plain text, the shape
// VPN apps expect from a subscription URL.
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")

	payload, err := s.assembler.Assemble(r.Context(), email)
	if err != nil {
		if stderrors.Is(err, errors.ErrClientNotFound) {
			s.metrics.SubscriptionHits.WithLabelValues("not_found").Inc()
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.metrics.SubscriptionHits.WithLabelValues("error").Inc()
		s.log.ErrorCtx(r.Context(), "failed to assemble subscription", err, "email", email)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.metrics.SubscriptionHits.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Profile-Title", email)
	fmt.Fprint(w, payload)
}
