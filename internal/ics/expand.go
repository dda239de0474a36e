package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "homedash/internal/log"
	"homedash/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	// Callers pass midnights in the display zone, which makes the window
	// date-granular. Date-only events are compared by civil date against the
	// dates of RangeStart and RangeEnd in that zone.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and what was dropped.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// Skipped records events whose recurrence data could not be used.
	Skipped []Skip
}

// window is the resolved range for one kind of event.
type window struct {
	start, end time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

// ExpandOccurrences takes the ParsedEvents of one feed and expands them into
// concrete occurrences whose start falls within the configured window. It
// handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - RDATE additions and EXDATE removals
//   - RECURRENCE-ID overrides, including cancelled and moved instances
//   - All-day semantics (civil dates, never shifted between zones)
//
// Occurrences keep the zone of their event; normalization into the display
// zone happens afterwards. Output order is deterministic: UIDs in the order
// they first appear in the feed, occurrences ascending within an event.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	timed := window{start: cfg.RangeStart, end: cfg.RangeEnd}
	dated := window{start: civilDate(cfg.RangeStart), end: civilDate(cfg.RangeEnd)}

	// Group base events and overrides by UID, remembering first appearance.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	order := make([]string, 0)
	seen := make(map[string]bool)

	for _, ev := range events {
		if !seen[ev.UID] {
			seen[ev.UID] = true
			order = append(order, ev.UID)
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	allOccurrences := make([]model.Occurrence, 0)

	for _, uid := range order {
		ov := overridesByUID[uid]
		bases := baseByUID[uid]
		truncated := false

		if len(bases) == 0 {
			// Overrides whose master is not in the feed stand on their own.
			for _, o := range ov {
				if o.Cancelled() {
					continue
				}
				if pick(o, timed, dated).contains(o.Start) {
					allOccurrences = append(allOccurrences, makeOccurrence(o, o.Start, o.End))
				}
			}
			continue
		}

		for _, ev := range bases {
			occ, hitCap, skip := expandEvent(ev, ov, timed, dated, cfg.MaxOccurrencesPerEvent)
			if skip != nil {
				result.Skipped = append(result.Skipped, *skip)
				appLog.Debug("expand: event skipped", "uid", uid, "reason", string(skip.Reason), "err", skip.Err)
				continue
			}
			if hitCap {
				truncated = true
			}
			allOccurrences = append(allOccurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Occurrences = allOccurrences
	return result, nil
}

// pick returns the window that applies to ev: civil dates for all-day
// events, instants otherwise.
func pick(ev ParsedEvent, timed, dated window) window {
	if ev.AllDay {
		return dated
	}
	return timed
}

// civilDate returns midnight UTC of t's calendar date in t's own zone.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// expandEvent expands a single base event with its possible overrides within
// the window, returning occurrences and whether the cap was hit. The base
// event and each override are checked against the window of their own kind,
// so a timed override of an all-day series uses display-zone midnights.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, timed, dated window, maxOcc int) ([]model.Occurrence, bool, *Skip) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		return expandSingleEvent(ev, overrides, timed, dated), false, nil
	}
	return expandRecurringEvent(ev, overrides, timed, dated, maxOcc)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, timed, dated window) []model.Occurrence {
	var out []model.Occurrence

	effective := ev
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		if o.Cancelled() {
			return out
		}
		effective = o
	}

	if !pick(effective, timed, dated).contains(effective.Start) {
		return out
	}
	out = append(out, makeOccurrence(effective, effective.Start, effective.End))
	return out
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, timed, dated window, maxOcc int) ([]model.Occurrence, bool, *Skip) {
	w := pick(ev, timed, dated)
	out := make([]model.Occurrence, 0)
	hitCap := false

	var set rrule.Set
	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			return nil, false, &Skip{UID: ev.UID, Reason: SkipMalformedRRule, Err: err}
		}
		// Ensure Dtstart is set to the event's DTSTART so wall-clock times
		// follow the event's zone across DST changes.
		r.DTStart(ev.Start)
		set.RRule(r)
	} else {
		set.RDate(ev.Start)
	}

	loc := ev.Start.Location()
	for _, rd := range ev.RDates {
		set.RDate(rd.In(loc))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(loc))
	}

	// Between is inclusive on both ends; the window end is exclusive.
	occTimes := set.Between(w.start.In(loc), w.end.In(loc), true)

	if len(occTimes) > maxOcc {
		occTimes = occTimes[:maxOcc]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	matched := make(map[int]bool)

	for _, occStart := range occTimes {
		if !w.contains(occStart) {
			continue
		}
		occEnd := occStart.Add(dur)

		if i, ok := findOverrideIndex(overrides, occStart); ok {
			matched[i] = true
			o := overrides[i]
			if o.Cancelled() || !pick(o, timed, dated).contains(o.Start) {
				continue
			}
			out = append(out, makeOccurrence(o, o.Start, o.End))
			continue
		}

		out = append(out, makeOccurrence(ev, occStart, occEnd))
	}

	// Instances moved into the window from a slot outside of it.
	for i, o := range overrides {
		if matched[i] || o.Cancelled() || !pick(o, timed, dated).contains(o.Start) {
			continue
		}
		if w.contains(*o.Recurrence) || excluded(ev.ExDates, *o.Recurrence) {
			continue
		}
		out = append(out, makeOccurrence(o, o.Start, o.End))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, hitCap, nil
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given base start.
func findOverrideForStart(overrides []ParsedEvent, baseStart time.Time) (ParsedEvent, bool) {
	if i, ok := findOverrideIndex(overrides, baseStart); ok {
		return overrides[i], true
	}
	return ParsedEvent{}, false
}

func findOverrideIndex(overrides []ParsedEvent, baseStart time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(baseStart) {
			return i, true
		}
	}
	return 0, false
}

func excluded(exdates []time.Time, t time.Time) bool {
	for _, ex := range exdates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.Occurrence.
func makeOccurrence(ev ParsedEvent, start, end time.Time) model.Occurrence {
	occ := model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}

	// InstanceKey: UID plus start in RFC3339 as a stable per-instance key.
	occ.InstanceKey = ev.UID + "@" + start.Format(time.RFC3339)

	return occ
}
