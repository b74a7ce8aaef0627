// Package server exposes capture control, history and pending recoveries
// over a local HTTP API, with a websocket stream of capture events.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dictate/internal/asr"
	"dictate/internal/fsutil"
	"dictate/internal/history"
	"dictate/internal/pipeline"
	"dictate/internal/record"
	"dictate/internal/staging"
)

// maxUpload bounds POST /recordings bodies.
const maxUpload = 256 << 20

// Capture is the session surface. *record.Session satisfies it.
type Capture interface {
	Start(ctx context.Context) error
	Stop(confirmed bool) error
	State() record.State
	Elapsed() time.Duration
}

// Recordings is the pipeline surface. *pipeline.Pipeline satisfies it.
type Recordings interface {
	CreateRecording(ctx context.Context, payload []byte, duration time.Duration) (history.Entry, error)
	ListHistory() ([]history.Entry, error)
	DeleteHistoryItem(id string) error
	ClearHistory() error
	ListPendingRecoveries() ([]staging.Recording, error)
	RecoverPending(id string) (history.Entry, error)
	DiscardPending(id string) error
}

// Options wire a Server. Capture, Meter and Hub are optional.
// MaxUploadBytes caps POST /recordings bodies; zero means 256 MiB.
type Options struct {
	Capture        Capture
	Recordings     Recordings
	Meter          *record.LevelMeter
	Hub            *Hub
	Gatherer       prometheus.Gatherer
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StopRequest is the body of POST /capture/stop.
type StopRequest struct {
	Confirmed bool `json:"confirmed"`
}

// CaptureStatus reports the session state.
type CaptureStatus struct {
	State     string    `json:"state"`
	ElapsedMs int64     `json:"elapsedMs"`
	Levels    []float64 `json:"levels,omitempty"`
}

// PendingRecording is a staged recording as listed by GET /pending.
// CreatedAt is the file modification time in milliseconds.
type PendingRecording struct {
	ID         string `json:"id"`
	Ext        string `json:"ext"`
	Size       int64  `json:"size"`
	CreatedAt  int64  `json:"createdAt"`
	DurationMs int64  `json:"durationMs"`
}

// Server is the control API.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger *zap.Logger
}

// New builds the echo instance and routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = maxUpload
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{echo: e, opts: opts, logger: opts.Logger}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	s.routes()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("control api listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "dictate"})
	})
	if s.opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.opts.Hub != nil {
		e.GET("/ws", s.opts.Hub.Handle)
	}

	v1 := e.Group("/api/v1")
	v1.POST("/capture/start", s.startCapture)
	v1.POST("/capture/stop", s.stopCapture)
	v1.GET("/capture/levels", s.captureLevels)

	v1.POST("/recordings", s.createRecording)
	v1.GET("/history", s.listHistory)
	v1.DELETE("/history", s.clearHistory)
	v1.DELETE("/history/:id", s.deleteHistory)

	v1.GET("/pending", s.listPending)
	v1.POST("/pending/:id/recover", s.recoverPending)
	v1.DELETE("/pending/:id", s.discardPending)
}

func (s *Server) status() CaptureStatus {
	st := CaptureStatus{State: s.opts.Capture.State().String(), ElapsedMs: s.opts.Capture.Elapsed().Milliseconds()}
	if s.opts.Meter != nil {
		st.Levels = s.opts.Meter.Snapshot()
	}
	return st
}

func (s *Server) startCapture(c echo.Context) error {
	if s.opts.Capture == nil {
		return s.fail(c, errNoCapture)
	}
	if err := s.opts.Capture.Start(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) stopCapture(c echo.Context) error {
	if s.opts.Capture == nil {
		return s.fail(c, errNoCapture)
	}
	var req StopRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
		}
	}
	if err := s.opts.Capture.Stop(req.Confirmed); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) captureLevels(c echo.Context) error {
	if s.opts.Capture == nil {
		return s.fail(c, errNoCapture)
	}
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) createRecording(c echo.Context) error {
	var duration time.Duration
	if v := c.QueryParam("durationMs"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "durationMs must be a non-negative integer"})
		}
		duration = time.Duration(ms) * time.Millisecond
	}
	limit := s.opts.MaxUploadBytes
	if c.Request().ContentLength > limit {
		return s.tooLarge(c)
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Could not read recording body"})
	}
	if int64(len(payload)) > limit {
		return s.tooLarge(c)
	}
	entry, err := s.opts.Recordings.CreateRecording(c.Request().Context(), payload, duration)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) tooLarge(c echo.Context) error {
	return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
		Error:   "payload_too_large",
		Message: "Recording exceeds " + strconv.FormatInt(s.opts.MaxUploadBytes, 10) + " bytes",
	})
}

func (s *Server) listHistory(c echo.Context) error {
	entries, err := s.opts.Recordings.ListHistory()
	if err != nil {
		return s.fail(c, err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) clearHistory(c echo.Context) error {
	if err := s.opts.Recordings.ClearHistory(); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteHistory(c echo.Context) error {
	if err := s.opts.Recordings.DeleteHistoryItem(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listPending(c echo.Context) error {
	recs, err := s.opts.Recordings.ListPendingRecoveries()
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]PendingRecording, 0, len(recs))
	for _, r := range recs {
		out = append(out, PendingRecording{
			ID:         r.ID,
			Ext:        r.Ext,
			Size:       r.Size,
			CreatedAt:  r.CreatedAt.UnixMilli(),
			DurationMs: r.Duration.Milliseconds(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) recoverPending(c echo.Context) error {
	entry, err := s.opts.Recordings.RecoverPending(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) discardPending(c echo.Context) error {
	if err := s.opts.Recordings.DiscardPending(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

var errNoCapture = errors.New("capture is not available in this mode")

// fail maps domain errors to status codes.
func (s *Server) fail(c echo.Context, err error) error {
	var (
		ve *pipeline.ValidationError
		ue *asr.UploadError
		se *pipeline.StagingIOError
	)
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.As(err, &ve):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, fsutil.ErrInvalidName):
		status, code = http.StatusBadRequest, "invalid_id"
	case errors.Is(err, pipeline.ErrRecoveryNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, record.ErrNotCapturing):
		status, code = http.StatusConflict, "not_capturing"
	case errors.Is(err, errNoCapture):
		status, code = http.StatusConflict, "capture_unavailable"
	case errors.Is(err, history.ErrDuplicateID):
		status, code = http.StatusConflict, "already_committed"
	case errors.As(err, &ue):
		status, code = http.StatusBadGateway, "upload_failed"
	case errors.As(err, &se):
		status, code = http.StatusInternalServerError, "staging_failed"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
