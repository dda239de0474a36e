package ics

import (
	"errors"
	"time"

	"homedash/internal/model"
)

const (
	// DefaultSummary is used when an event has no SUMMARY.
	DefaultSummary = "No Title"

	// isoLayout matches ISO-8601 with a numeric offset (+00:00 rather than Z).
	isoLayout = "2006-01-02T15:04:05-07:00"
)

// Normalizer converts raw occurrences into display-ready events in one
// canonical display zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer for the given display zone.
func NewNormalizer(loc *time.Location) (Normalizer, error) {
	if loc == nil {
		return Normalizer{}, errors.New("normalize: display location is nil")
	}
	return Normalizer{loc: loc}, nil
}

// Location returns the display zone.
func (n Normalizer) Location() *time.Location { return n.loc }

// Normalize maps one occurrence to a CalendarEvent.
//
//   - Zone-aware starts are converted to the display zone; floating starts
//     were parsed as UTC and are converted the same way.
//   - Date-only starts become local midnight in the display zone.
//   - The event is all-day when the start is date-only, or when its own
//     time of day is exactly 00:00.
func (n Normalizer) Normalize(occ model.Occurrence) (model.CalendarEvent, error) {
	if n.loc == nil {
		return model.CalendarEvent{}, errors.New("normalize: display location is nil")
	}
	if occ.Start.IsZero() {
		return model.CalendarEvent{}, Skip{UID: occ.UID, Reason: SkipMissingStart}
	}

	var local time.Time
	if occ.AllDay {
		local = time.Date(occ.Start.Year(), occ.Start.Month(), occ.Start.Day(), 0, 0, 0, 0, n.loc)
	} else {
		local = occ.Start.In(n.loc)
	}

	allDay := occ.AllDay || (occ.Start.Hour() == 0 && occ.Start.Minute() == 0)

	summary := occ.Summary
	if summary == "" {
		summary = DefaultSummary
	}

	startTime := local.Format("15:04")
	if allDay {
		startTime = model.AllDayLabel
	}

	return model.CalendarEvent{
		Summary:       summary,
		Location:      occ.Location,
		StartDatetime: local.Format(isoLayout),
		StartDate:     local.Format("2006-01-02"),
		StartTime:     startTime,
		Weekday:       local.Weekday().String(),
		IsAllDay:      allDay,
		Start:         local,
	}, nil
}

// NormalizeAll normalizes every occurrence, collecting skips instead of
// failing.
func (n Normalizer) NormalizeAll(occs []model.Occurrence) ([]model.CalendarEvent, []Skip) {
	out := make([]model.CalendarEvent, 0, len(occs))
	var skips []Skip
	for _, occ := range occs {
		ev, err := n.Normalize(occ)
		if err != nil {
			var skip Skip
			if !errors.As(err, &skip) {
				skip = Skip{UID: occ.UID, Reason: SkipInvalidZone, Err: err}
			}
			skips = append(skips, skip)
			continue
		}
		out = append(out, ev)
	}
	return out, skips
}
