package model

import "time"

// Occurrence represents a single concrete instance of an event after
// recurrence expansion, still in the event's own timezone.
//
// Date-only (all-day) values are carried as civil dates: midnight UTC of the
// calendar date, with AllDay set. They must not be converted between zones.
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	// AllDay is true when DTSTART carried a bare date.
	AllDay bool

	Start time.Time
	End   time.Time
}

// CalendarEvent is the canonical, display-ready event returned by the
// calendar API. It is built fresh for every request and never stored.
type CalendarEvent struct {
	Summary  string `json:"summary"`
	Location string `json:"location"`

	// StartDatetime is ISO-8601 with the display zone offset.
	StartDatetime string `json:"start_datetime"`
	StartDate     string `json:"start_date"`
	// StartTime is "HH:MM" or AllDayLabel.
	StartTime string `json:"start_time"`
	Weekday   string `json:"weekday"`
	IsAllDay  bool   `json:"is_all_day"`

	CalendarName  string `json:"calendar_name"`
	CalendarColor string `json:"calendar_color"`

	// Start is the resolved instant in the display zone; used for ordering.
	Start time.Time `json:"-"`
}

// AllDayLabel is the StartTime value for all-day events.
const AllDayLabel = "All day"
