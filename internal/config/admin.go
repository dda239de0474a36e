package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalid marks a rejected admin change.
	ErrInvalid = errors.New("invalid configuration change")
	// ErrNotFound marks a change that refers to an unknown id or key.
	ErrNotFound = errors.New("not found")
)

// WeekPlanDetails is the editable part of a WeekPlan.
type WeekPlanDetails struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// PlanKeys returns the configured plan keys in configuration order.
func (c *Config) PlanKeys() []string {
	keys := make([]string, 0, len(c.WeekPlans))
	for _, p := range c.WeekPlans {
		keys = append(keys, p.Key)
	}
	return keys
}

// HasPlan reports whether key names a configured week plan.
func (c *Config) HasPlan(key string) bool {
	for _, p := range c.WeekPlans {
		if p.Key == key {
			return true
		}
	}
	return false
}

// HasCalendar reports whether id names a configured calendar source.
func (c *Config) HasCalendar(id string) bool {
	for _, s := range c.Calendars {
		if s.ID == id {
			return true
		}
	}
	return false
}

// AddCalendar appends a new source. A source with the same URL is left as
// is and returned with added=false.
func (c *Config) AddCalendar(name, url, color string) (src CalendarSource, added bool, err error) {
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" || url == "" {
		return CalendarSource{}, false, fmt.Errorf("%w: calendar name and url are required", ErrInvalid)
	}
	for _, s := range c.Calendars {
		if s.URL == url {
			return s, false, nil
		}
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = DefaultCalendarColor
	}
	src = CalendarSource{
		ID:    uuid.NewString(),
		URL:   url,
		Name:  name,
		Color: color,
	}
	if err := validate.Struct(src); err != nil {
		return CalendarSource{}, false, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Calendars = append(c.Calendars, src)
	return src, true, nil
}

// RemoveCalendar deletes a source and strips its id from every assignment.
func (c *Config) RemoveCalendar(id string) error {
	idx := -1
	for i, s := range c.Calendars {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("calendar %q: %w", id, ErrNotFound)
	}
	c.Calendars = append(c.Calendars[:idx], c.Calendars[idx+1:]...)
	c.PruneAssignments()
	return nil
}

// SetAssignments replaces all assignments. Unknown plan keys and ids are
// dropped; duplicates are collapsed.
func (c *Config) SetAssignments(assignments map[string][]string) {
	c.CalendarAssignments = make(map[string][]string, len(c.WeekPlans))
	for _, key := range c.PlanKeys() {
		ids, ok := assignments[key]
		if !ok {
			continue
		}
		c.CalendarAssignments[key] = append([]string{}, ids...)
	}
	c.PruneAssignments()
}

// PruneAssignments removes plan keys that are not configured and ids that
// no longer name a source.
func (c *Config) PruneAssignments() {
	for key, ids := range c.CalendarAssignments {
		if !c.HasPlan(key) {
			delete(c.CalendarAssignments, key)
			continue
		}
		seen := make(map[string]bool, len(ids))
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if seen[id] || !c.HasCalendar(id) {
				continue
			}
			seen[id] = true
			kept = append(kept, id)
		}
		c.CalendarAssignments[key] = kept
	}
}

// SetWeekPlanDetails updates name and icon for the given plan keys. Unknown
// keys are ignored; blank names keep the current one.
func (c *Config) SetWeekPlanDetails(details map[string]WeekPlanDetails) {
	for i := range c.WeekPlans {
		d, ok := details[c.WeekPlans[i].Key]
		if !ok {
			continue
		}
		if name := strings.TrimSpace(d.Name); name != "" {
			c.WeekPlans[i].Name = name
		}
		c.WeekPlans[i].Icon = strings.TrimSpace(d.Icon)
	}
}

// SetDisplayPages sets which page each plan shows; anything but 2 means 1.
func (c *Config) SetDisplayPages(pages map[string]int) {
	for i := range c.WeekPlans {
		page, ok := pages[c.WeekPlans[i].Key]
		if !ok {
			continue
		}
		if page != 2 {
			page = 1
		}
		c.WeekPlans[i].DisplayPage = page
	}
}

// DisplayPage returns the display page of a plan (1 when unknown).
func (c *Config) DisplayPage(key string) int {
	for _, p := range c.WeekPlans {
		if p.Key == key {
			return p.DisplayPage
		}
	}
	return 1
}

// SetDashboard updates forced-dashboard duration and UI language.
func (c *Config) SetDashboard(durationSeconds int, language string) error {
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: dashboard duration must be positive", ErrInvalid)
	}
	if !isSupportedLanguage(language) {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalid, language)
	}
	c.DashboardDuration = durationSeconds
	c.DashboardLanguage = language
	return nil
}

// SetMQTT replaces the MQTT settings. An empty password keeps the stored one
// so the admin form does not have to echo it back.
func (c *Config) SetMQTT(m MQTTConfig) error {
	m.Broker = strings.TrimSpace(m.Broker)
	if m.Port == 0 {
		m.Port = DefaultMQTTPort
	}
	if m.Password == "" {
		m.Password = c.MQTT.Password
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.MQTT = m
	return nil
}

// AddScreensaver records a new image as active. Known filenames are ignored.
func (c *Config) AddScreensaver(filename string) bool {
	for _, img := range c.Screensaver {
		if img.Filename == filename {
			return false
		}
	}
	c.Screensaver = append(c.Screensaver, ScreensaverImage{Filename: filename, Active: true})
	return true
}

// RemoveScreensaver forgets an image.
func (c *Config) RemoveScreensaver(filename string) error {
	for i, img := range c.Screensaver {
		if img.Filename == filename {
			c.Screensaver = append(c.Screensaver[:i], c.Screensaver[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("screensaver %q: %w", filename, ErrNotFound)
}

// SetActiveScreensavers marks exactly the named images active.
func (c *Config) SetActiveScreensavers(filenames []string) {
	active := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		active[f] = true
	}
	for i := range c.Screensaver {
		c.Screensaver[i].Active = active[c.Screensaver[i].Filename]
	}
}

// ActiveScreensavers lists the filenames of active images.
func (c *Config) ActiveScreensavers() []string {
	out := make([]string, 0, len(c.Screensaver))
	for _, img := range c.Screensaver {
		if img.Active {
			out = append(out, img.Filename)
		}
	}
	return out
}

// Redacted returns a copy safe to show in the admin UI.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	if out.MQTT.Password != "" {
		out.MQTT.Password = "********"
	}
	return out
}
