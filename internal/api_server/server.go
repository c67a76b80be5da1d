package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/botforge-cloud/instance-manager/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	cfg      *config.Config
	listener net.Listener
	handler  *handlers.Handler
}

func New(cfg *config.Config, listener net.Listener, handler *handlers.Handler) *Server {
	return &Server{
		cfg:      cfg,
		listener: listener,
		handler:  handler,
	}
}

func (s *Server) Run(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handler.GetHealth)
	router.Post("/webhooks/billing", s.handler.BillingWebhook)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/instances", s.handler.DeployInstance)
		r.Get("/instances/current", s.handler.GetCurrentInstance)
		r.Post("/instances/{id}/stop", s.handler.StopInstance)
		r.Post("/instances/{id}/start", s.handler.StartInstance)
		r.Post("/instances/{id}/restart", s.handler.RestartInstance)
		r.Get("/instances/{id}/logs", s.handler.GetInstanceLogs)
		r.Get("/instances/{id}/health", s.handler.CheckInstanceHealth)
		r.Get("/instances/{id}/sessions", s.handler.ListInstanceSessions)

		r.Put("/configurations/current", s.handler.UpdateConfiguration)
		r.Put("/configurations/current/channels/{type}", s.handler.UpsertChannel)
		r.Patch("/configurations/current/channels/{type}", s.handler.SetChannelEnabled)
		r.Delete("/configurations/current/channels/{type}", s.handler.DeleteChannel)
	})

	srv := http.Server{Handler: router}

	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
	}()

	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
