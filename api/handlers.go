package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/notify"
	"taskboard/remote"
)

const (
	maxBodySize          = 64 * 1024 // 64 KiB
	headerIdempotencyKey = "Idempotency-Key"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the request fails.
	Remove(ctx context.Context, userID, key string) error
}

// UserRegistrar adds a user to the username directory.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, user string) error
}

// NotificationSource streams a user's notifications to fn until ctx is done.
type NotificationSource func(ctx context.Context, user string, fn func(notify.Notification)) error

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Registry      *Registry
	Auth          Authenticator
	Deduper       Deduper
	Registrar     UserRegistrar
	Notifications NotificationSource
	Health        func(ctx context.Context) error
	Logger        *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s *Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}
	e.Use(RequestMetricsMiddleware(s.Logger))
	e.Use(GzipRequestMiddleware())

	e.GET("/healthz", s.healthz)

	g := e.Group("/api")
	g.GET("/board", s.getBoard)
	g.POST("/board/load", s.loadBoard)
	g.POST("/drag/start", s.dragStart)
	g.POST("/drag/over", s.dragOver)
	g.POST("/drag/end", s.dragEnd)
	g.POST("/drag/cancel", s.dragCancel)
	g.POST("/tasks", s.createTask)
	g.PUT("/tasks/:id", s.editTask)
	g.DELETE("/tasks/:id", s.deleteTask)
	g.GET("/usernames", s.usernames)
	g.POST("/users/me", s.registerUser)
	g.GET("/notifications/stream", s.streamNotifications)
}

type subjectRef struct {
	Type domain.Kind `json:"type"`
	ID   string      `json:"id"`
}

type dragRequest struct {
	Active subjectRef  `json:"active"`
	Over   *subjectRef `json:"over,omitempty"`
}

type dragResponse struct {
	Announcement string        `json:"announcement"`
	Changed      bool          `json:"changed"`
	Persisting   bool          `json:"persisting,omitempty"`
	Board        boardResponse `json:"board"`
}

type boardResponse struct {
	board.View
	Overlay *overlayView `json:"overlay,omitempty"`
}

// overlayView is the lifted item rendered under the pointer while dragging.
type overlayView struct {
	Session string         `json:"session"`
	Kind    domain.Kind    `json:"type"`
	Column  *domain.Column `json:"column,omitempty"`
	Task    *domain.Task   `json:"task,omitempty"`
}

func viewOf(w *Workspace) boardResponse {
	resp := boardResponse{View: w.Board.View()}
	if s, ok := w.Engine.Session(); ok {
		resp.Overlay = &overlayView{Session: s.ID.String(), Kind: s.Kind, Column: s.LiftedColumn, Task: s.LiftedTask}
	}
	return resp
}

type usernamesResponse struct {
	Usernames []string `json:"usernames"`
}

func (s *Server) healthz(c echo.Context) error {
	if s.Health != nil {
		if err := s.Health(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
	}
	return c.NoContent(http.StatusOK)
}

// workspace authenticates the caller and returns their workspace.
func (s *Server) workspace(c echo.Context) (*Workspace, error) {
	authStart := time.Now()
	h := authorizationFrom(c)
	user, err := s.Auth.UserIDFromAuthHeader(h)
	metrics := metricsFrom(c)
	metrics.Observe("auth", time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth")
		return nil, c.String(http.StatusUnauthorized, err.Error())
	}
	token, _ := bearerTokenFromString(h)
	return s.Registry.Get(user, string(token)), nil
}

// loadedWorkspace is workspace plus the lazy first load. A load failure is
// reported through the board view rather than as an error.
func (s *Server) loadedWorkspace(c echo.Context) (*Workspace, error) {
	w, err := s.workspace(c)
	if w == nil {
		return nil, err
	}
	if lerr := w.EnsureLoaded(c.Request().Context()); lerr != nil {
		metricsFrom(c).SetErrorStage("load")
	}
	return w, nil
}

func (s *Server) getBoard(c echo.Context) error {
	w, err := s.loadedWorkspace(c)
	if w == nil {
		return err
	}
	resp := viewOf(w)
	metricsFrom(c).Set("tasks", len(w.Board.Tasks()))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) loadBoard(c echo.Context) error {
	w, err := s.workspace(c)
	if w == nil {
		return err
	}
	fetchStart := time.Now()
	lerr := w.Reload(c.Request().Context())
	metricsFrom(c).Observe("fetch", time.Since(fetchStart))
	if lerr != nil {
		metricsFrom(c).SetErrorStage("load")
		return c.JSON(http.StatusBadGateway, viewOf(w))
	}
	return c.JSON(http.StatusOK, viewOf(w))
}

func (s *Server) dragStart(c echo.Context) error {
	return s.drag(c, false, func(w *Workspace, req dragRequest) board.Result {
		return w.Engine.Start(resolve(w.Board, req.Active))
	})
}

func (s *Server) dragOver(c echo.Context) error {
	return s.drag(c, true, func(w *Workspace, req dragRequest) board.Result {
		if req.Over == nil {
			return board.Result{}
		}
		return w.Engine.Over(resolve(w.Board, req.Active), resolve(w.Board, *req.Over))
	})
}

func (s *Server) dragEnd(c echo.Context) error {
	return s.drag(c, true, func(w *Workspace, req dragRequest) board.Result {
		var over *domain.Subject
		if req.Over != nil {
			o := resolve(w.Board, *req.Over)
			over = &o
		}
		return w.Engine.End(resolve(w.Board, req.Active), over)
	})
}

func (s *Server) dragCancel(c echo.Context) error {
	return s.drag(c, false, func(w *Workspace, req dragRequest) board.Result {
		return w.Engine.Cancel(resolve(w.Board, req.Active))
	})
}

func (s *Server) drag(c echo.Context, allowOver bool, apply func(*Workspace, dragRequest) board.Result) error {
	w, err := s.loadedWorkspace(c)
	if w == nil {
		return err
	}
	var req dragRequest
	if err := decodeBody(c, &req); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if !allowOver {
		req.Over = nil
	}

	engineStart := time.Now()
	res := apply(w, req)
	metrics := metricsFrom(c)
	metrics.Observe("engine", time.Since(engineStart))
	metrics.Set("changed", res.Changed)
	return c.JSON(http.StatusOK, dragResponse{
		Announcement: res.Announcement,
		Changed:      res.Changed,
		Persisting:   res.Persist != nil,
		Board:        viewOf(w),
	})
}

// resolve turns a transport reference into a drag subject carrying the
// current board data.
func resolve(b *board.Board, ref subjectRef) domain.Subject {
	return b.Subject(ref.Type, ref.ID)
}

func (s *Server) createTask(c echo.Context) error {
	w, err := s.loadedWorkspace(c)
	if w == nil {
		return err
	}
	var payload domain.TaskPayload
	if err := decodeBody(c, &payload); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && s.Deduper != nil {
		added, derr := s.Deduper.Add(ctx, w.User, key)
		if derr != nil {
			metricsFrom(c).SetErrorStage("dedupe")
			return c.String(http.StatusInternalServerError, derr.Error())
		}
		if !added {
			metricsFrom(c).SetErrorStage("duplicate")
			return c.String(http.StatusConflict, "duplicate request")
		}
	}

	task, cerr := w.Adapter.CreateTask(ctx, w.Board, payload)
	if cerr != nil {
		if key != "" && s.Deduper != nil {
			if rerr := s.Deduper.Remove(ctx, w.User, key); rerr != nil {
				s.Logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, w.User)
			}
		}
		return s.fail(c, "create", cerr)
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) editTask(c echo.Context) error {
	w, err := s.loadedWorkspace(c)
	if w == nil {
		return err
	}
	var payload domain.TaskPayload
	if err := decodeBody(c, &payload); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	task, eerr := w.Adapter.EditTask(c.Request().Context(), w.Board, w.User, c.Param("id"), payload)
	if eerr != nil {
		return s.fail(c, "edit", eerr)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c echo.Context) error {
	w, err := s.loadedWorkspace(c)
	if w == nil {
		return err
	}
	if derr := w.Adapter.DeleteTask(c.Request().Context(), w.Board, w.User, c.Param("id")); derr != nil {
		return s.fail(c, "delete", derr)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) usernames(c echo.Context) error {
	w, err := s.workspace(c)
	if w == nil {
		return err
	}
	names, uerr := w.Adapter.Usernames(c.Request().Context())
	if uerr != nil {
		return s.fail(c, "usernames", uerr)
	}
	return c.JSON(http.StatusOK, usernamesResponse{Usernames: names})
}

func (s *Server) registerUser(c echo.Context) error {
	w, err := s.workspace(c)
	if w == nil {
		return err
	}
	if s.Registrar == nil {
		return c.String(http.StatusNotImplemented, "user registration is handled by the task store")
	}
	if rerr := s.Registrar.RegisterUser(c.Request().Context(), w.User); rerr != nil {
		return s.fail(c, "register", rerr)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) streamNotifications(c echo.Context) error {
	w, err := s.workspace(c)
	if w == nil {
		return err
	}
	if s.Notifications == nil {
		return c.String(http.StatusServiceUnavailable, "notifications unavailable")
	}
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	var writeErr error
	serr := s.Notifications(c.Request().Context(), w.User, func(n notify.Notification) {
		if writeErr != nil {
			return
		}
		data, merr := sonic.Marshal(n)
		if merr != nil {
			return
		}
		if _, writeErr = resp.Write([]byte("data: ")); writeErr != nil {
			return
		}
		if _, writeErr = resp.Write(data); writeErr != nil {
			return
		}
		if _, writeErr = resp.Write([]byte("\n\n")); writeErr != nil {
			return
		}
		flusher.Flush()
	})
	if serr != nil {
		c.Logger().Error(serr)
		metricsFrom(c).SetErrorStage("subscribe")
	}
	return nil
}

// fail maps adapter and store errors to HTTP responses.
func (s *Server) fail(c echo.Context, stage string, err error) error {
	metricsFrom(c).SetErrorStage(stage)
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	msg := err.Error()
	var re *remote.RequestError
	if errors.As(err, &re) && re.Message != "" {
		msg = re.Message
	}
	return c.String(status, msg)
}

func statusForError(err error) int {
	var re *remote.RequestError
	switch {
	case errors.Is(err, domain.ErrEmptyTitle), errors.Is(err, domain.ErrInvalidColumn):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
