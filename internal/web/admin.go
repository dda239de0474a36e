package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"homedash/internal/config"
	"homedash/internal/dashmode"
	appLog "homedash/internal/log"
)

func (s *Server) registerAdminRoutes(r gin.IRoutes) {
	r.GET("/config", s.getConfig)
	r.GET("/status", s.getStatus)

	r.POST("/calendars", s.addCalendar)
	r.DELETE("/calendars/:id", s.removeCalendar)
	r.PUT("/calendar_assignments", s.setAssignments)

	r.PUT("/weekplans", s.setWeekPlanDetails)
	r.PUT("/display_pages", s.setDisplayPages)
	r.POST("/weekplans/:key/pdf", s.uploadWeekPlan)

	r.PUT("/dashboard", s.setDashboard)
	r.POST("/show_dashboard", s.showDashboard)
	r.DELETE("/show_dashboard", s.clearDashboard)
	r.PUT("/mqtt", s.setMQTT)

	r.GET("/screensaver", s.listScreensaver)
	r.POST("/screensaver", s.uploadScreensaver)
	r.POST("/screensaver/url", s.downloadScreensaver)
	r.DELETE("/screensaver/:filename", s.deleteScreensaver)
	r.PUT("/screensaver/active", s.setActiveScreensaver)

	r.POST("/display/on", s.displayCommand(s.Remote.DisplayOn))
	r.POST("/display/off", s.displayCommand(s.Remote.DisplayOff))
	r.POST("/display/restart", s.displayCommand(s.Remote.Restart))
	r.POST("/display/refresh", s.displayCommand(s.Remote.Refresh))
	r.POST("/display/url", s.openURL)
	r.POST("/display/brightness", s.setBrightness)
}

func (s *Server) getConfig(c *gin.Context) {
	snap := s.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version": snap.Version,
		"config":  snap.Config.Redacted(),
	})
}

// getStatus reports system statistics, the MQTT link and the forced mode.
// ?refresh=true takes a fresh stats reading instead of the cached one.
func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var stats any
	if c.Query("refresh") == "true" {
		stats = s.Stats.Refresh(ctx)
	} else if st, ok := s.Stats.Latest(); ok {
		stats = st
	}

	cfg := s.Store.Snapshot().Config
	mode, err := s.Mode.Current(ctx, cfg.PlanKeys())
	if err != nil {
		appLog.Warn("dashboard mode unavailable", "err", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"system_stats":   stats,
		"mqtt":           s.Remote.State(),
		"dashboard_mode": mode,
	})
}

type addCalendarRequest struct {
	Name  string `json:"name" binding:"required"`
	URL   string `json:"url" binding:"required"`
	Color string `json:"color"`
}

func (s *Server) addCalendar(c *gin.Context) {
	var req addCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Color == "" {
		req.Color = config.DefaultCalendarColor
	}

	var (
		src   config.CalendarSource
		added bool
	)
	if _, err := s.Store.Update(func(cfg *config.Config) error {
		var err error
		src, added, err = cfg.AddCalendar(req.Name, req.URL, req.Color)
		return err
	}); err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
		appLog.Info("calendar added", "id", src.ID, "name", src.Name)
	}
	c.JSON(status, src)
}

func (s *Server) removeCalendar(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Store.Update(func(cfg *config.Config) error {
		return cfg.RemoveCalendar(id)
	}); err != nil {
		writeError(c, err)
		return
	}
	appLog.Info("calendar removed", "id", id)
	c.Status(http.StatusNoContent)
}

// setAssignments replaces the plan -> calendar ids map. Unknown plans and
// ids are dropped.
func (s *Server) setAssignments(c *gin.Context) {
	var req map[string][]string
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := s.Store.Update(func(cfg *config.Config) error {
		cfg.SetAssignments(req)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Config.CalendarAssignments)
}

func (s *Server) setWeekPlanDetails(c *gin.Context) {
	var req map[string]config.WeekPlanDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := s.Store.Update(func(cfg *config.Config) error {
		cfg.SetWeekPlanDetails(req)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Config.WeekPlans)
}

func (s *Server) setDisplayPages(c *gin.Context) {
	var req map[string]int
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := s.Store.Update(func(cfg *config.Config) error {
		cfg.SetDisplayPages(req)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Config.WeekPlans)
}

// uploadWeekPlan takes a multipart PDF in field "pdf_file" for a configured
// plan and renders it.
func (s *Server) uploadWeekPlan(c *gin.Context) {
	key := c.Param("key")
	if !s.Store.Snapshot().Config.HasPlan(key) {
		writeError(c, fmt.Errorf("week plan %q: %w", key, config.ErrNotFound))
		return
	}
	fh, err := c.FormFile("pdf_file")
	if err != nil {
		badRequest(c, "pdf_file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	pages, err := s.WeekPlans.Upload(c.Request.Context(), key, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "pages": pages})
}

type dashboardRequest struct {
	DashboardDuration int    `json:"dashboard_duration"`
	DashboardLanguage string `json:"dashboard_language"`
}

func (s *Server) setDashboard(c *gin.Context) {
	var req dashboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := s.Store.Update(func(cfg *config.Config) error {
		lang := req.DashboardLanguage
		if lang == "" {
			lang = cfg.DashboardLanguage
		}
		return cfg.SetDashboard(req.DashboardDuration, lang)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dashboard_duration": snap.Config.DashboardDuration,
		"dashboard_language": snap.Config.DashboardLanguage,
	})
}

type showDashboardRequest struct {
	View string `json:"view"`
}

// showDashboard forces the dashboard for the configured duration.
func (s *Server) showDashboard(c *gin.Context) {
	var req showDashboardRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.View == "" {
		req.View = dashmode.ViewAll
	}

	cfg := s.Store.Snapshot().Config
	d := time.Duration(cfg.DashboardDuration) * time.Second
	mode, err := s.Mode.Force(c.Request.Context(), d, req.View, cfg.PlanKeys())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mode)
}

func (s *Server) clearDashboard(c *gin.Context) {
	if err := s.Mode.Clear(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// setMQTT stores new broker settings and reconnects. An empty password keeps
// the stored one.
func (s *Server) setMQTT(c *gin.Context) {
	var req config.MQTTConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := s.Store.Update(func(cfg *config.Config) error {
		return cfg.SetMQTT(req)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.Remote.Reconfigure(snap.Config.MQTT); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Remote.State())
}

func (s *Server) listScreensaver(c *gin.Context) {
	c.JSON(http.StatusOK, s.Screensaver.List())
}

// uploadScreensaver takes a multipart image in field "screensaver_file".
func (s *Server) uploadScreensaver(c *gin.Context) {
	fh, err := c.FormFile("screensaver_file")
	if err != nil {
		badRequest(c, "screensaver_file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	name, added, err := s.Screensaver.Upload(fh.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeImageResult(c, name, added)
}

type downloadRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) downloadScreensaver(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	name, added, err := s.Screensaver.Download(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	writeImageResult(c, name, added)
}

func writeImageResult(c *gin.Context, name string, added bool) {
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"filename": name, "added": added})
}

func (s *Server) deleteScreensaver(c *gin.Context) {
	if err := s.Screensaver.Delete(c.Param("filename")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type activeRequest struct {
	Active []string `json:"active"`
}

func (s *Server) setActiveScreensaver(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.Screensaver.SetActive(req.Active); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Screensaver.List())
}

func (s *Server) displayCommand(send func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := send(); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	}
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) openURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.displayCommand(func() error { return s.Remote.OpenURL(req.URL) })(c)
}

type brightnessRequest struct {
	// Brightness is a percentage in [0, 100].
	Brightness *float64 `json:"brightness"`
}

func (s *Server) setBrightness(c *gin.Context) {
	var req brightnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Brightness == nil {
		badRequest(c, "brightness is required")
		return
	}
	s.displayCommand(func() error { return s.Remote.SetBrightness(*req.Brightness) })(c)
}
