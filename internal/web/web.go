package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"homedash/internal/calendar"
	"homedash/internal/config"
	"homedash/internal/dashmode"
	appLog "homedash/internal/log"
	"homedash/internal/metrics"
	"homedash/internal/remote"
	"homedash/internal/screensaver"
	"homedash/internal/sysstats"
	"homedash/internal/weekplan"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Settings    config.Settings
	Store       *config.Store
	Calendar    *calendar.Aggregator
	WeekPlans   *weekplan.Service
	Screensaver *screensaver.Service
	Mode        *dashmode.Manager
	Remote      *remote.Controller
	Stats       *sysstats.Sampler
	Metrics     *metrics.Manager
}

// Server provides the dashboard and admin HTTP APIs.
type Server struct {
	Deps
	engine *gin.Engine
}

// NewServer constructs a new Server with all routes registered.
func NewServer(d Deps) (*Server, error) {
	if d.Store == nil || d.Calendar == nil || d.WeekPlans == nil || d.Screensaver == nil ||
		d.Mode == nil || d.Remote == nil || d.Stats == nil {
		return nil, errors.New("web: missing dependency")
	}
	if !d.Settings.Debug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{Deps: d, engine: gin.New()}
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Settings.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", s.Settings.Listen, "debug", s.Settings.Debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.Use(gin.Recovery(), s.requestMetrics())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", headerSources, headerFailedSources},
		AllowCredentials: false,
	}))

	r.GET("/health", s.handleHealth)
	r.GET("/mode", s.handleMode)
	r.GET("/screensaver_image", s.handleScreensaverImage)
	r.Static("/static", filepath.Join(s.Settings.DataDir, "static"))
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	// The debug endpoint fetches arbitrary URLs, so it sits behind the same
	// guard as the admin API.
	var guard []gin.HandlerFunc
	if s.Settings.BasicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for admin API")
		guard = append(guard, basicAuth(s.Settings.AdminUser, s.Settings.AdminPassword))
	}

	api := r.Group("/api")
	api.GET("/weekplans", s.handleWeekPlans)
	api.GET("/calendar/events", s.handleCalendarEvents)
	api.GET("/calendar/events_for/:plan", s.handleCalendarEventsFor)
	api.GET("/calendar/debug", append(guard, s.handleCalendarDebug)...)

	admin := api.Group("/admin", guard...)
	s.registerAdminRoutes(admin)
}

// requestMetrics records one sample per request, labelled by route pattern
// rather than raw path.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.Metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// basicAuth guards a route group with HTTP Basic Auth.
func basicAuth(username, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="homedash", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// writeError maps service errors to a status and writes {"error": msg}.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, screensaver.ErrUnsupportedType),
		errors.Is(err, remote.ErrInvalidCommand):
		status = http.StatusBadRequest
	case errors.Is(err, config.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, remote.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "path", c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
