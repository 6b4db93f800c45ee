package debate

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPError is an error with the status code it should be reported with.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

const (
	recentDebates   = 10
	defaultPageSize = 20
	maxPageSize     = 100
)

// Server serves the web UI and the JSON/SSE API.
type Server struct {
	Runner  *Runner
	Store   Store
	Limiter Limiter
	// XSRF is nil when XSRF protection is disabled.
	XSRF               *XSRFTokens
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Limiter == nil {
		s.Limiter = unlimited{}
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.Logger.Error("Panic while serving request", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}))
	r.Use(requestLogger(s.Logger))
	r.Use(errorHandler(s.Logger))
	r.Use(cors.New(corsConfig(s.CORSAllowedOrigins)))

	r.GET("/", s.index)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/debates/:id", s.debatePage)

	api := r.Group("/api")
	api.GET("/xsrf", s.issueXSRF)
	api.GET("/debates", s.listDebates)
	api.POST("/debates", s.requireXSRF, s.createDebate)
	api.GET("/debates/:id", s.getDebate)
	api.GET("/debates/:id/events", s.streamEvents)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", xsrfHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// errorHandler turns the last error attached to the context into a JSON
// response.
func errorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, message := errorStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		}
		c.JSON(status, gin.H{"error": message})
	}
}

func errorStatus(err error) (int, string) {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Message
	case errors.Is(err, ErrEmptyIdea):
		return http.StatusBadRequest, "Please enter a dissertation idea."
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, ErrRateLimited.Error()
	case errors.Is(err, ErrInvalidXSRFToken):
		return http.StatusForbidden, ErrInvalidXSRFToken.Error()
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func (s *Server) requireXSRF(c *gin.Context) {
	if s.XSRF == nil {
		return
	}
	if err := s.XSRF.Verify(c.GetHeader(xsrfHeader)); err != nil {
		c.Error(err)
		c.Abort()
	}
}

func (s *Server) xsrfToken() (string, error) {
	if s.XSRF == nil {
		return "", nil
	}
	return s.XSRF.Issue()
}

func (s *Server) index(c *gin.Context) {
	token, err := s.xsrfToken()
	if err != nil {
		c.Error(err)
		return
	}
	recent, err := s.Store.ListDebates(c.Request.Context(), recentDebates)
	if err != nil {
		s.Logger.Error("Failed to list recent debates", "error", err)
	}

	var buf bytes.Buffer
	if err := renderPage(&buf, token, recent); err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) issueXSRF(c *gin.Context) {
	token, err := s.xsrfToken()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "enabled": s.XSRF != nil})
}

type createDebateRequest struct {
	Idea string `json:"idea"`
}

func (s *Server) createDebate(c *gin.Context) {
	var req createDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(NewHTTPError(http.StatusBadRequest, "Invalid request body"))
		return
	}

	allowed, err := s.Limiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		s.Logger.Warn("Rate limiter unavailable, allowing request", "error", err)
		allowed = true
	}
	if !allowed {
		c.Error(ErrRateLimited)
		return
	}

	id, err := s.Runner.Start(c.Request.Context(), req.Idea)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) listDebates(c *gin.Context) {
	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.Error(NewHTTPError(http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxPageSize)
	}
	debates, err := s.Store.ListDebates(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	if debates == nil {
		debates = []Debate{}
	}
	c.JSON(http.StatusOK, gin.H{"debates": debates})
}

type debateResponse struct {
	*Debate
	Stats *RubricStats `json:"stats,omitempty"`
}

func (s *Server) getDebate(c *gin.Context) {
	d, err := s.Store.GetDebate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	resp := debateResponse{Debate: d}
	if d.Summary != nil {
		stats := d.Summary.Stats()
		resp.Stats = &stats
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) debatePage(c *gin.Context) {
	d, err := s.Store.GetDebate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	var buf bytes.Buffer
	if err := RenderDebateHTML(&buf, d); err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// streamEvents replays a debate as server-sent events and follows it live
// while it is running.
func (s *Server) streamEvents(c *gin.Context) {
	id := c.Param("id")
	var replay []Event
	var live <-chan Event
	sub, ok := s.Runner.Subscribe(id)
	if ok {
		defer sub.Close()
		replay, live = sub.Replay, sub.Events
	} else {
		d, err := s.Store.GetDebate(c.Request.Context(), id)
		if err != nil {
			c.Error(err)
			return
		}
		replay = storedEvents(d)
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for _, ev := range replay {
		writeEvent(c, ev)
	}
	c.Writer.Flush()

	for live != nil {
		select {
		case ev, open := <-live:
			if !open {
				live = nil
				continue
			}
			writeEvent(c, ev)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}

	if sub != nil && sub.Dropped() {
		// Without "done" the browser reconnects and replays from the start.
		s.Logger.Warn("Dropped slow event subscriber", "debate_id", id)
		return
	}
	c.SSEvent("done", gin.H{"id": id})
	c.Writer.Flush()
}

func writeEvent(c *gin.Context, ev Event) {
	switch ev.Type {
	case EventMessage:
		c.SSEvent(string(ev.Type), gin.H{
			"message": ev.Message,
			"speaker": ev.Message.Role.DisplayName(),
			"html":    string(RenderMarkdown(ev.Message.Content)),
		})
	case EventSummary:
		stats := ev.Summary.Stats()
		c.SSEvent(string(ev.Type), gin.H{
			"summary": ev.Summary,
			"stats":   stats,
			"html":    string(RenderMarkdown(ev.Summary.Markdown())),
		})
	default:
		c.SSEvent(string(ev.Type), gin.H{
			"text":    ev.Text,
			"role":    ev.Role,
			"outcome": ev.Outcome,
		})
	}
}

// storedEvents rebuilds the event stream of a debate from the store.
func storedEvents(d *Debate) []Event {
	events := make([]Event, 0, len(d.Messages)+3)
	for i := range d.Messages {
		events = append(events, Event{Type: EventMessage, Message: &d.Messages[i]})
	}
	if d.Error != "" {
		events = append(events, Event{Type: EventError, Text: d.Error})
	}
	if d.Outcome != "" {
		events = append(events, Event{Type: EventEnded, Outcome: d.Outcome, Text: d.Outcome.Description()})
	}
	if d.Summary != nil {
		events = append(events, Event{Type: EventSummary, Summary: d.Summary})
	}
	return events
}
