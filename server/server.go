package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	apiv1 "github.com/cookgpt/cookgpt/server/router/api/v1"
	"github.com/cookgpt/cookgpt/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Backend *Backend

	echoServer *echo.Echo
	httpServer *http.Server
	// local is set when completions run in this process.
	local *taskqueue.Local
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	backend, err := NewBackend(ctx, profile, store)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Profile: profile,
		Store:   store,
		Backend: backend,
	}

	var queue taskqueue.Queue
	switch profile.Queue {
	case "redis":
		if backend.Redis == nil {
			backend.Close()
			return nil, errors.New("redis queue requires a redis url")
		}
		queue = taskqueue.NewRedis(backend.Redis, profile.JobRetention)
	default:
		s.local = taskqueue.NewLocal(backend.Worker.Handle, int64(profile.WorkerConcurrency), profile.JobRetention)
		s.local.Dropped = backend.Worker.Abandon
		queue = s.local
	}

	echoServer := echo.New()
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	// Healthz endpoint.
	echoServer.GET("/healthz", func(c *echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiV1Service := apiv1.NewAPIV1Service(profile, store,
		chat.NewDispatcher(store, backend.Transport, queue, backend.Worker, profile),
		chat.NewRelay(store, backend.Transport, queue, profile.PollInterval, profile.StreamTimeout),
		backend.Transport,
	)
	apiV1Service.RegisterRoutes(echoServer)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", profile.Addr, profile.Port),
		Handler:           echoServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to serve", "error", err)
		}
	}()
	slog.Info("server started", "addr", listener.Addr().String(), "driver", s.Profile.Driver, "queue", s.Profile.Queue)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if s.local != nil {
		if err := s.local.Shutdown(ctx); err != nil {
			slog.Error("failed to drain completions", slog.String("error", err.Error()))
		}
	}
	if err := s.Backend.Close(); err != nil {
		slog.Error("failed to close redis", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
	slog.Info("server stopped properly")
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
