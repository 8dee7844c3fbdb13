package v1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/server/auth"
	"github.com/cookgpt/cookgpt/store"
)

// APIV1Service serves the /api/v1 HTTP surface.
type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Dispatcher *chat.Dispatcher
	Relay      *chat.Relay
	Transport  transport.Transport

	authenticator *auth.Authenticator
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, dispatcher *chat.Dispatcher, relay *chat.Relay, transport transport.Transport) *APIV1Service {
	return &APIV1Service{
		Profile:       profile,
		Store:         store,
		Dispatcher:    dispatcher,
		Relay:         relay,
		Transport:     transport,
		authenticator: auth.NewAuthenticator(profile.JWTSecret, profile.MaxChatCost),
	}
}

// RegisterRoutes mounts every v1 route on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	s.registerChatRoutes(g)
	s.registerThreadRoutes(g)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) requireAuth(c *echo.Context) (*store.Owner, error) {
	owner, err := s.authenticator.AuthenticateToOwner(c.Request().Header.Get("Authorization"))
	if err != nil || owner == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return owner, nil
}

// getOwnedThread returns the thread if it belongs to owner, 404 otherwise.
func (s *APIV1Service) getOwnedThread(ctx context.Context, owner *store.Owner, id string) (*store.Thread, error) {
	thread, err := s.Store.GetThread(ctx, &store.FindThread{ID: &id, OwnerID: &owner.ID})
	if err != nil {
		return nil, convertError(err)
	}
	if thread == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return thread, nil
}

// getOwnedChat returns the chat if its thread belongs to owner, 404 otherwise.
func (s *APIV1Service) getOwnedChat(ctx context.Context, owner *store.Owner, id string) (*store.Chat, error) {
	c, err := s.Store.GetChat(ctx, id)
	if err != nil {
		return nil, convertError(err)
	}
	if c == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if _, err := s.getOwnedThread(ctx, owner, c.ThreadID); err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return c, nil
}

// convertError maps domain errors to HTTP errors.
func convertError(err error) error {
	switch {
	case errors.Is(err, chat.ErrThreadNotFound),
		errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrNotStreaming):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidChain),
		errors.Is(err, chat.ErrThreadClosed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrChainConflict),
		errors.Is(err, store.ErrChatSettled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
