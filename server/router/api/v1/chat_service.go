package v1

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/store"
)

const newThreadTitle = "New Thread"

// ─────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ─────────────────────────────────────────────────────────────────────────────

type chatRequest struct {
	Query    string `json:"query" form:"query"`
	ThreadID string `json:"thread_id" form:"thread_id"`
}

type clearChatsRequest struct {
	ThreadID string `json:"thread_id"`
}

type chatResponse struct {
	ID         string `json:"id"`
	ThreadID   string `json:"thread_id"`
	PreviousID string `json:"previous_id,omitempty"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Content    string `json:"content"`
	Cost       int    `json:"cost"`
	Order      int    `json:"order"`
	SentTs     int64  `json:"sent_ts"`
}

type postChatResponse struct {
	Chat      chatResponse  `json:"chat"`
	Query     *chatResponse `json:"query"`
	Streaming bool          `json:"streaming"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func convertChat(c *store.Chat) chatResponse {
	return chatResponse{
		ID:         c.ID,
		ThreadID:   c.ThreadID,
		PreviousID: c.PreviousID,
		Kind:       string(c.Kind),
		State:      string(c.State),
		Content:    c.Content,
		Cost:       c.Cost,
		Order:      c.Order,
		SentTs:     c.SentTs,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Route registration
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) registerChatRoutes(g *echo.Group) {
	g.POST("/chat", s.postChat)
	g.GET("/chat/stream/:id", s.readChatStream)
	g.GET("/chat/:id", s.getChat)
	g.DELETE("/chat/:id", s.deleteChat)
	g.GET("/chats", s.listChats)
	g.DELETE("/chats", s.clearChats)
}

// ─────────────────────────────────────────────────────────────────────────────
// Query submission
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) postChat(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	stream := false
	if raw := c.QueryParam("stream"); raw != "" {
		stream, err = strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid stream flag")
		}
	}

	ctx := c.Request().Context()
	if req.ThreadID == "" {
		thread, err := s.Store.CreateThread(ctx, &store.Thread{OwnerID: owner.ID, Title: newThreadTitle})
		if err != nil {
			return convertError(err)
		}
		req.ThreadID = thread.ID
	}
	slog.Info("submitting query", "owner", owner.ID, "thread", req.ThreadID, "stream", stream)

	result, err := s.Dispatcher.Submit(ctx, &chat.SubmitRequest{
		Owner:       owner,
		ThreadID:    req.ThreadID,
		Query:       req.Query,
		Synchronous: !stream,
	})
	if err != nil {
		return convertError(err)
	}

	resp := postChatResponse{
		Chat:      convertChat(result.Response),
		Streaming: result.Streaming,
	}
	if result.Denied {
		return c.JSON(http.StatusOK, resp)
	}
	query := convertChat(result.Query)
	resp.Query = &query
	return c.JSON(http.StatusCreated, resp)
}

// ─────────────────────────────────────────────────────────────────────────────
// Streaming
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) readChatStream(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.getOwnedChat(ctx, owner, id); err != nil {
		return err
	}

	tokens, err := s.Relay.OpenStream(ctx, id)
	if err != nil {
		return convertError(err)
	}

	rw := c.Response()
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	flusher, _ := rw.(http.Flusher)

	for token, err := range tokens {
		if err != nil {
			// Headers are out; the client only sees the stream end early.
			if !errors.Is(err, context.Canceled) {
				slog.Warn("stream ended early", "chat", id, "error", err)
			}
			return nil
		}
		if _, err := io.WriteString(rw, token); err != nil {
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Chat CRUD
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) getChat(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	found, err := s.getOwnedChat(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertChat(found))
}

func (s *APIV1Service) deleteChat(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	found, err := s.getOwnedChat(ctx, owner, c.Param("id"))
	if err != nil {
		return err
	}
	if err := s.Store.DeleteChat(ctx, found); err != nil {
		return convertError(err)
	}
	if err := s.Transport.Trim(ctx, found.ID); err != nil {
		slog.Warn("failed to trim stream", "chat", found.ID, "error", err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Chat deleted"})
}

func (s *APIV1Service) listChats(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	threadID := c.QueryParam("thread_id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	thread, err := s.getOwnedThread(ctx, owner, threadID)
	if err != nil {
		return err
	}
	chats, err := s.Store.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	if err != nil {
		return convertError(err)
	}
	resp := make([]chatResponse, 0, len(chats))
	for _, found := range chats {
		resp = append(resp, convertChat(found))
	}
	return c.JSON(http.StatusOK, map[string][]chatResponse{"chats": resp})
}

func (s *APIV1Service) clearChats(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	var req clearChatsRequest
	if err := c.Bind(&req); err != nil || req.ThreadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	ctx := c.Request().Context()
	thread, err := s.getOwnedThread(ctx, owner, req.ThreadID)
	if err != nil {
		return err
	}
	if err := s.Store.ClearThread(ctx, thread.ID); err != nil {
		return convertError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "All chats deleted"})
}
