// Package handler exposes a Manager over HTTP. Every handler reaches the
// manager through Manager.Call, so the API can serve from any goroutine
// while the manager keeps its single control goroutine.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"

	"rest-lifecycle/internal/lifecycle"
	"rest-lifecycle/internal/model"
)

// SubmitRequest is the body of POST /requests.
type SubmitRequest struct {
	ID     string            `json:"id"`
	Method string            `json:"method" validate:"required,oneof=GET POST PUT DELETE"`
	URL    string            `json:"url" validate:"required,url"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params"`
	Body   json.RawMessage   `json:"body"`
}

// RequestView is the JSON rendering of a request.
type RequestView struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Method     string          `json:"method,omitempty"`
	URL        string          `json:"url,omitempty"`
	Status     string          `json:"status"`
	ResultCode int             `json:"result_code"`
	State      string          `json:"state"`
	Paused     bool            `json:"paused"`
	Queued     bool            `json:"queued_event"`
	Resource   json.RawMessage `json:"resource,omitempty"`
}

// Request statuses reported by the API.
const (
	StatusPending  = "pending"
	StatusIdle     = "idle"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

type RequestHandler struct {
	manager  *lifecycle.Manager
	kinds    *model.Kinds
	validate *validator.Validate
	logger   *slog.Logger

	// delivered requests leave the registry; their last view stays here
	recent *gocache.Cache
}

// NewRequestHandler keeps the outcome of delivered requests for retention.
func NewRequestHandler(m *lifecycle.Manager, kinds *model.Kinds, retention time.Duration, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		manager:  m,
		kinds:    kinds,
		validate: validator.New(),
		logger:   logger,
		recent:   gocache.New(retention, 2*retention),
	}
}

// Register adds the API routes to e. metrics is served on /metrics when
// not nil.
func (h *RequestHandler) Register(e *echo.Echo, metrics http.Handler) {
	e.POST("/requests", h.Submit)
	e.GET("/requests", h.List)
	e.GET("/requests/:id", h.Show)
	e.POST("/requests/retry", h.Retry)
	e.POST("/pause", h.Pause)
	e.POST("/resume", h.Resume)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// Submit dispatches a request. It answers 202 whether the request was sent
// or suppressed; the status field tells which.
func (h *RequestHandler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var resource model.Resource
	if len(req.Body) > 0 && model.Verb(req.Method) != model.GET {
		resource = h.kinds.New(req.Kind)
		if err := json.Unmarshal(req.Body, resource); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "body does not decode into kind "+req.Kind)
		}
	}

	var (
		id      string
		outcome lifecycle.Outcome
	)
	err := h.manager.Call(c.Request().Context(), func(m *lifecycle.Manager) error {
		id = req.ID
		if id == "" {
			id = m.GenerateID()
		}
		r, err := m.Get(id)
		if err != nil {
			r = m.CreateOrGet(id, req.Kind)
			h.watch(r)
		}

		uri := req.URL
		switch model.Verb(req.Method) {
		case model.GET:
			outcome, err = m.FetchWithParams(r, uri, req.Params)
		case model.POST:
			outcome, err = m.Create(r, uri, resource)
		case model.PUT:
			outcome, err = m.Update(r, uri, resource)
		case model.DELETE:
			outcome, err = m.Remove(r, uri, resource)
		}
		return err
	})
	if err != nil {
		return managerError(err)
	}

	status := "accepted"
	if outcome == lifecycle.AlreadyPending {
		status = "already_pending"
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     status,
		"request_id": id,
	})
}

// watch records terminal outcomes. Registering listeners also marks the
// request as deliverable, so it leaves the registry once they ran.
func (h *RequestHandler) watch(r *model.Request) {
	r.OnFinished(func(r *model.Request) {
		h.logger.Info("request finished",
			slog.String("request_id", r.ID()),
			slog.Int("result_code", r.ResultCode()),
		)
		h.recent.SetDefault(r.ID(), render(r, StatusFinished))
	})
	r.OnFailed(func(r *model.Request) {
		h.logger.Warn("request failed",
			slog.String("request_id", r.ID()),
			slog.Int("result_code", r.ResultCode()),
		)
		h.recent.SetDefault(r.ID(), render(r, StatusFailed))
	})
}

// List returns the registered requests in insertion order.
func (h *RequestHandler) List(c echo.Context) error {
	var views []RequestView
	err := h.manager.Call(c.Request().Context(), func(m *lifecycle.Manager) error {
		for _, r := range m.Requests() {
			views = append(views, render(r, liveStatus(r)))
		}
		return nil
	})
	if err != nil {
		return managerError(err)
	}
	if views == nil {
		views = []RequestView{}
	}
	return c.JSON(http.StatusOK, views)
}

// Show returns one request, falling back to recently delivered ones.
func (h *RequestHandler) Show(c echo.Context) error {
	id := c.Param("id")
	var view RequestView
	err := h.manager.Call(c.Request().Context(), func(m *lifecycle.Manager) error {
		r, err := m.Get(id)
		if err != nil {
			return err
		}
		view = render(r, liveStatus(r))
		return nil
	})
	if errors.Is(err, lifecycle.ErrNotFound) {
		if v, found := h.recent.Get(id); found {
			return c.JSON(http.StatusOK, v)
		}
	}
	if err != nil {
		return managerError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// Retry runs the retry sweep.
func (h *RequestHandler) Retry(c echo.Context) error {
	var n int
	err := h.manager.Call(c.Request().Context(), func(m *lifecycle.Manager) error {
		var err error
		n, err = m.RetryFailed()
		return err
	})
	if err != nil {
		return managerError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"redispatched": n})
}

func (h *RequestHandler) Pause(c echo.Context) error {
	return h.toggle(c, (*lifecycle.Manager).Pause)
}

func (h *RequestHandler) Resume(c echo.Context) error {
	return h.toggle(c, (*lifecycle.Manager).Resume)
}

func (h *RequestHandler) toggle(c echo.Context, fn func(*lifecycle.Manager)) error {
	var paused bool
	err := h.manager.Call(c.Request().Context(), func(m *lifecycle.Manager) error {
		fn(m)
		paused = m.Paused()
		return nil
	})
	if err != nil {
		return managerError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"paused": paused})
}

func liveStatus(r *model.Request) string {
	if r.Pending() {
		return StatusPending
	}
	if r.ResultCode() == model.CodeUnset {
		return StatusIdle
	}
	if res := r.Resource(); res != nil && res.State() == model.StateOK {
		return StatusFinished
	}
	return StatusFailed
}

// render must run on the control goroutine; the resource is encoded there.
func render(r *model.Request, status string) RequestView {
	v := RequestView{
		ID:         r.ID(),
		Kind:       r.Kind(),
		Method:     string(r.Verb()),
		URL:        r.URI(),
		Status:     status,
		ResultCode: r.ResultCode(),
		State:      model.StateNone.String(),
		Paused:     r.Paused(),
		Queued:     r.HasQueuedEvent(),
	}
	if res := r.Resource(); res != nil {
		v.State = res.State().String()
		if data, err := json.Marshal(res); err == nil && string(data) != "null" {
			v.Resource = data
		}
	}
	return v
}

func managerError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrNoModule), errors.Is(err, lifecycle.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
