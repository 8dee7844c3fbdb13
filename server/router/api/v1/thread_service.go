package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/cookgpt/cookgpt/store"
)

type threadRequest struct {
	Title  *string `json:"title"`
	Closed *bool   `json:"closed"`
}

type threadResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Closed    bool   `json:"closed"`
	IsDefault bool   `json:"is_default"`
	ChatCount int    `json:"chat_count"`
	Cost      int    `json:"cost"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

func convertThread(t *store.Thread) threadResponse {
	return threadResponse{
		ID:        t.ID,
		Title:     t.Title,
		Closed:    t.Closed,
		IsDefault: t.IsDefault,
		ChatCount: t.ChatCount,
		Cost:      t.Cost,
		CreatedTs: t.CreatedTs,
		UpdatedTs: t.UpdatedTs,
	}
}

func (s *APIV1Service) registerThreadRoutes(g *echo.Group) {
	g.POST("/thread", s.createThread)
	g.GET("/thread/default", s.getDefaultThread)
	g.GET("/thread/:id", s.getThread)
	g.PATCH("/thread/:id", s.updateThread)
	g.DELETE("/thread/:id", s.deleteThread)
	g.GET("/threads", s.listThreads)
	g.DELETE("/threads", s.deleteThreads)
}

func (s *APIV1Service) createThread(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	var req threadRequest
	title := newThreadTitle
	if err := c.Bind(&req); err == nil && req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		title = strings.TrimSpace(*req.Title)
	}
	thread, err := s.Store.CreateThread(c.Request().Context(), &store.Thread{OwnerID: owner.ID, Title: title})
	if err != nil {
		return convertError(err)
	}
	return c.JSON(http.StatusCreated, convertThread(thread))
}

func (s *APIV1Service) getDefaultThread(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	thread, err := s.Store.GetDefaultThread(c.Request().Context(), owner.ID)
	if err != nil {
		return convertError(err)
	}
	return c.JSON(http.StatusOK, convertThread(thread))
}

func (s *APIV1Service) getThread(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	thread, err := s.getOwnedThread(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertThread(thread))
}

func (s *APIV1Service) updateThread(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	thread, err := s.getOwnedThread(ctx, owner, c.Param("id"))
	if err != nil {
		return err
	}

	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid thread")
	}
	update := &store.UpdateThread{ID: thread.ID}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title required")
		}
		update.Title = &title
	}
	if req.Closed != nil {
		// Reopening could leave an owner with two open default threads.
		if !*req.Closed && thread.Closed {
			return echo.NewHTTPError(http.StatusBadRequest, "closed threads cannot be reopened")
		}
		update.Closed = req.Closed
	}
	updated, err := s.Store.UpdateThread(ctx, update)
	if err != nil {
		return convertError(err)
	}
	return c.JSON(http.StatusOK, convertThread(updated))
}

func (s *APIV1Service) deleteThread(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	thread, err := s.getOwnedThread(ctx, owner, c.Param("id"))
	if err != nil {
		return err
	}
	if err := s.Store.DeleteThread(ctx, thread.ID); err != nil {
		return convertError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Thread deleted"})
}

func (s *APIV1Service) listThreads(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	threads, err := s.Store.ListThreads(c.Request().Context(), &store.FindThread{OwnerID: &owner.ID})
	if err != nil {
		return convertError(err)
	}
	resp := make([]threadResponse, 0, len(threads))
	for _, thread := range threads {
		resp = append(resp, convertThread(thread))
	}
	return c.JSON(http.StatusOK, map[string][]threadResponse{"threads": resp})
}

func (s *APIV1Service) deleteThreads(c *echo.Context) error {
	owner, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	threads, err := s.Store.ListThreads(ctx, &store.FindThread{OwnerID: &owner.ID})
	if err != nil {
		return convertError(err)
	}
	for _, thread := range threads {
		if err := s.Store.DeleteThread(ctx, thread.ID); err != nil {
			return convertError(err)
		}
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "All threads deleted"})
}
