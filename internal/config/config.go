package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the household configuration model and full
// YAML-based load/save behavior, including first-run config creation and
// 0600 permissions.

const (
	DefaultTimezone          = "Europe/Oslo"
	DefaultDashboardDuration = 10
	DefaultLanguage          = "en-GB"
	DefaultCalendarColor     = "#3788d8"
	DefaultCalendarName      = "Calendar"
	DefaultStatsRefresh      = "@every 30s"
	DefaultMQTTBroker        = "homeassistant.local"
	DefaultMQTTPort          = 1883
)

// SupportedLanguages lists the dashboard UI languages.
var SupportedLanguages = []string{"en-GB", "nb-NO"}

// CalendarSource describes a single iCal subscription.
type CalendarSource struct {
	// ID is generated when the source is added and never changes.
	ID string `yaml:"id" json:"id"`
	// URL is the feed endpoint; webcal:// is accepted. An empty URL is kept
	// and skipped at fetch time.
	URL string `yaml:"url" json:"url" validate:"omitempty,url"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name" validate:"required"`
	// Color is a CSS color token used to tag the source's events.
	Color string `yaml:"color" json:"color" validate:"omitempty,iscolor"`
}

// WeekPlan is one household member's weekly plan slot.
type WeekPlan struct {
	Key  string `yaml:"key" json:"key" validate:"required,alphanum"`
	Name string `yaml:"name" json:"name"`
	Icon string `yaml:"icon" json:"icon"`
	// DisplayPage selects which rasterized page the "all" view shows.
	DisplayPage int `yaml:"display_page" json:"display_page" validate:"oneof=1 2"`
}

// ScreensaverImage is an uploaded screensaver file and whether it rotates.
type ScreensaverImage struct {
	Filename string `yaml:"filename" json:"filename" validate:"required"`
	Active   bool   `yaml:"active" json:"active"`
}

// MQTTConfig controls the optional remote-control connection.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker" validate:"required_if=Enabled true"`
	Port     int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the household configuration edited through the admin API.
type Config struct {
	// Timezone is the IANA timezone used as canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// DashboardDuration is how many seconds a forced dashboard stays up.
	DashboardDuration int `yaml:"dashboard_duration" json:"dashboard_duration" validate:"min=1"`

	// DashboardLanguage is the UI language of the dashboard.
	DashboardLanguage string `yaml:"dashboard_language" json:"dashboard_language" validate:"oneof=en-GB nb-NO"`

	// StatsRefresh is a cron-style schedule (e.g. "@every 30s") for
	// sampling system statistics.
	StatsRefresh string `yaml:"stats_refresh" json:"stats_refresh"`

	WeekPlans   []WeekPlan         `yaml:"weekplans" json:"weekplans" validate:"dive"`
	Screensaver []ScreensaverImage `yaml:"screensaver" json:"screensaver" validate:"dive"`
	MQTT        MQTTConfig         `yaml:"mqtt" json:"mqtt"`

	// Calendars is the list of subscribed iCal sources.
	Calendars []CalendarSource `yaml:"calendars" json:"calendars" validate:"dive"`

	// CalendarAssignments maps plan key -> calendar source IDs.
	CalendarAssignments map[string][]string `yaml:"calendar_assignments" json:"calendar_assignments"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:          DefaultTimezone,
		DashboardDuration: DefaultDashboardDuration,
		DashboardLanguage: DefaultLanguage,
		StatsRefresh:      DefaultStatsRefresh,
		WeekPlans: []WeekPlan{
			{Key: "plan1", Name: "Weekplan 1", Icon: "1", DisplayPage: 1},
			{Key: "plan2", Name: "Weekplan 2", Icon: "2", DisplayPage: 1},
		},
		Screensaver: []ScreensaverImage{},
		MQTT: MQTTConfig{
			Broker: DefaultMQTTBroker,
			Port:   DefaultMQTTPort,
		},
		Calendars:           []CalendarSource{},
		CalendarAssignments: map[string][]string{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.DashboardDuration <= 0 {
		c.DashboardDuration = DefaultDashboardDuration
	}
	if !isSupportedLanguage(c.DashboardLanguage) {
		c.DashboardLanguage = DefaultLanguage
	}
	if c.StatsRefresh == "" {
		c.StatsRefresh = DefaultStatsRefresh
	}
	if c.WeekPlans == nil {
		c.WeekPlans = DefaultConfig().WeekPlans
	}
	for i := range c.WeekPlans {
		if c.WeekPlans[i].DisplayPage != 2 {
			c.WeekPlans[i].DisplayPage = 1
		}
		if c.WeekPlans[i].Name == "" {
			c.WeekPlans[i].Name = c.WeekPlans[i].Key
		}
	}
	if c.Screensaver == nil {
		c.Screensaver = []ScreensaverImage{}
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = DefaultMQTTBroker
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = DefaultMQTTPort
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarSource{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].Name == "" {
			c.Calendars[i].Name = DefaultCalendarName
		}
		if c.Calendars[i].Color == "" {
			c.Calendars[i].Color = DefaultCalendarColor
		}
	}
	if c.CalendarAssignments == nil {
		c.CalendarAssignments = map[string][]string{}
	}
	c.PruneAssignments()
}

var validate = validator.New()

// Validate checks field constraints and the stats cron schedule.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.StatsRefresh); err != nil {
		return fmt.Errorf("stats_refresh: %w", err)
	}
	seen := make(map[string]bool, len(c.WeekPlans))
	for _, p := range c.WeekPlans {
		if seen[p.Key] {
			return fmt.Errorf("duplicate weekplan key %q", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// Location loads the display timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.WeekPlans = cloneSlice(c.WeekPlans)
	out.Screensaver = cloneSlice(c.Screensaver)
	out.Calendars = cloneSlice(c.Calendars)
	out.CalendarAssignments = make(map[string][]string, len(c.CalendarAssignments))
	for k, v := range c.CalendarAssignments {
		out.CalendarAssignments[k] = cloneSlice(v)
	}
	return &out
}

// cloneSlice copies s, keeping nil and empty distinct.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func isSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".homedash-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
