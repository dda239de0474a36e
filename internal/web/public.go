package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"homedash/internal/calendar"
	"homedash/internal/config"
	"homedash/internal/ics"
	appLog "homedash/internal/log"
	"homedash/internal/model"
	"homedash/internal/screensaver"
)

// Per-source outcome of a calendar request. The body stays a plain event
// array; these headers tell the UI how many sources were asked and failed.
const (
	headerSources       = "X-Calendar-Sources"
	headerFailedSources = "X-Calendar-Failed-Sources"
)

const debugEventLimit = 10

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleMode is polled by the display to decide between screensaver and
// dashboard.
func (s *Server) handleMode(c *gin.Context) {
	cfg := s.Store.Snapshot().Config
	mode, err := s.Mode.Current(c.Request.Context(), cfg.PlanKeys())
	if err != nil {
		appLog.Warn("dashboard mode unavailable", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"dashboard": mode.Dashboard,
		"view":      mode.View,
		"language":  cfg.DashboardLanguage,
	})
}

func (s *Server) handleScreensaverImage(c *gin.Context) {
	u, err := s.Screensaver.Pick()
	if err != nil && !errors.Is(err, screensaver.ErrNoActiveImage) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_url": u})
}

func (s *Server) handleWeekPlans(c *gin.Context) {
	cfg := s.Store.Snapshot().Config
	c.JSON(http.StatusOK, s.WeekPlans.List(cfg.WeekPlans))
}

// handleCalendarEvents returns all sources merged for the dashboard window.
//
// GET /api/calendar/events
func (s *Server) handleCalendarEvents(c *gin.Context) {
	cfg := s.Store.Snapshot().Config
	report := s.Calendar.Collect(c.Request.Context(), cfg.Calendars, calendar.DashboardWindowDays)
	s.writeReport(c, "all", report)
}

// handleCalendarEventsFor returns only the sources assigned to one plan.
// Unknown plans and plans without calendars get an empty array.
//
// GET /api/calendar/events_for/:plan
func (s *Server) handleCalendarEventsFor(c *gin.Context) {
	plan := c.Param("plan")
	cfg := s.Store.Snapshot().Config
	report := s.Calendar.CollectForPlan(c.Request.Context(), plan, cfg.Calendars, cfg.CalendarAssignments, calendar.PlanWindowDays)
	s.writeReport(c, "plan", report)
}

type debugResponse struct {
	URL        string                `json:"url"`
	EventCount int                   `json:"event_count"`
	Events     []model.CalendarEvent `json:"events"`
	Error      string                `json:"error,omitempty"`
}

// handleCalendarDebug runs one ad-hoc feed through the pipeline so a URL can
// be checked before it is added. It is registered behind the admin guard.
//
// GET /api/calendar/debug?url=...
func (s *Server) handleCalendarDebug(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		badRequest(c, "url is required")
		return
	}
	appLog.Info("debug calendar request", "url", ics.RedactURL(raw))

	src := config.CalendarSource{
		ID:    "debug",
		URL:   raw,
		Name:  config.DefaultCalendarName,
		Color: config.DefaultCalendarColor,
	}
	report := s.Calendar.Collect(c.Request.Context(), []config.CalendarSource{src}, calendar.DebugWindowDays)
	s.setSourceHeaders(c, report)
	s.Metrics.RecordEventsReturned("debug", len(report.Events))

	resp := debugResponse{
		URL:        raw,
		EventCount: len(report.Events),
		Events:     report.Events,
	}
	if len(resp.Events) > debugEventLimit {
		resp.Events = resp.Events[:debugEventLimit]
	}
	for _, r := range report.Sources {
		if r.Err != nil {
			resp.Error = r.Err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeReport(c *gin.Context, view string, report calendar.Report) {
	s.setSourceHeaders(c, report)
	s.Metrics.RecordEventsReturned(view, len(report.Events))
	c.JSON(http.StatusOK, report.Events)
}

func (s *Server) setSourceHeaders(c *gin.Context, report calendar.Report) {
	c.Header(headerSources, strconv.Itoa(len(report.Sources)))
	c.Header(headerFailedSources, strconv.Itoa(report.FailedSources()))
}
