package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/runs"
)

const heartbeatInterval = 15 * time.Second

type RunsHandler struct {
	runs          *runs.Service
	streamEnabled bool
	logger        *zap.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.cancel)
	g.GET("/:id/events", h.events)
}

func (h *RunsHandler) create(c echo.Context) error {
	var req runs.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	run, err := h.runs.Start(c.Request().Context(), req)
	switch {
	case errors.Is(err, runs.ErrUnknownKind), errors.Is(err, runs.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, runs.ErrShutdown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/runs/"+run.ID)
	return c.JSON(http.StatusAccepted, run)
}

func (h *RunsHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"runs": h.runs.List()})
}

func (h *RunsHandler) get(c echo.Context) error {
	run, err := h.runs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) cancel(c echo.Context) error {
	if err := h.runs.Cancel(c.Param("id")); err != nil {
		return notFoundOr500(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func notFoundOr500(err error) error {
	if errors.Is(err, runs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// events streams run events as Server-Sent Events. Clients resume with the
// Last-Event-ID header or ?after=<seq>. The stream ends when the run does.
func (h *RunsHandler) events(c echo.Context) error {
	if !h.streamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run stream disabled")
	}
	after := int64(0)
	for _, raw := range []string{c.Request().Header.Get("Last-Event-ID"), c.QueryParam("after")} {
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid event id: "+raw)
		}
		after = n
	}

	ctx := c.Request().Context()
	backlog, live, unsubscribe, err := h.runs.Subscribe(ctx, c.Param("id"), after)
	if err != nil {
		return notFoundOr500(err)
	}
	defer unsubscribe()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	write := func(ev runs.Event) error {
		if _, err := fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	for _, ev := range backlog {
		if err := write(ev); err != nil {
			return nil
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-live:
			if !open {
				return nil
			}
			if err := write(ev); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
