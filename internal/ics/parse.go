package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "homedash/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Status      string

	// Start/End are in the event's own zone. Floating values are UTC;
	// date-only values are civil dates at midnight UTC.
	Start    time.Time
	End      time.Time
	AllDay   bool
	Floating bool
	StartTZ  string

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// Cancelled reports STATUS:CANCELLED.
func (e ParsedEvent) Cancelled() bool {
	return strings.EqualFold(e.Status, "CANCELLED")
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - A payload that is not an iCalendar document fails as a whole
//     (ErrFeedParse).
//   - A VEVENT with an unusable DTSTART or RECURRENCE-ID is skipped and
//     reported; the other events are still returned.
//   - RRULE/RDATE/EXDATE are recorded but not expanded; expansion is done in
//     expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, []Skip, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, fmt.Errorf("%w: empty ICS body", ErrFeedParse)
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, nil, fmt.Errorf("%w: missing BEGIN:VCALENDAR", ErrFeedParse)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFeedParse, err)
	}

	events := make([]ParsedEvent, 0)
	var skips []Skip

	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			var skip Skip
			if !errors.As(perr, &skip) {
				skip = Skip{Reason: SkipMalformedStart, Err: perr}
			}
			if skip.UID == "" {
				skip.UID = syntheticUID(src, i)
			}
			appLog.Debug("ics vevent skipped", "id", src.ID, "uid", skip.UID, "reason", string(skip.Reason), "err", skip.Err)
			skips = append(skips, skip)
			continue
		}
		if ev.UID == "" {
			ev.UID = syntheticUID(src, i)
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", RedactURL(src.URL), "event_count", len(events), "skipped", len(skips))
	return events, skips, nil
}

func syntheticUID(src Source, idx int) string {
	return fmt.Sprintf("%s#%d", src.ID, idx)
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentProperty("STATUS")); p != nil {
		out.Status = strings.TrimSpace(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, Skip{UID: out.UID, Reason: SkipMissingStart}
	}
	start, err := parseTimeProp(dtStart)
	if err != nil {
		return out, Skip{UID: out.UID, Reason: SkipMalformedStart, Err: err}
	}
	out.Start = start.t
	out.AllDay = start.dateOnly
	out.Floating = start.floating
	out.StartTZ = start.tzid

	out.End = parseEnd(ve, start)

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE and RDATE can appear multiple times and hold comma lists.
	// A malformed entry only loses that entry.
	out.ExDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyExdate))
	out.RDates = parseTimeList(ve.GetProperties(ical.ComponentProperty("RDATE")))

	if ridProp := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); ridProp != nil {
		rid, err := parseTimeProp(ridProp)
		if err != nil {
			return out, Skip{UID: out.UID, Reason: SkipMalformedRecurrenceID, Err: err}
		}
		out.Recurrence = &rid.t
		out.IsOverride = true
	}

	return out, nil
}

// parseEnd resolves DTEND, then DURATION, then the RFC 5545 default
// (one day for dates, zero length for date-times).
func parseEnd(ve *ical.VEvent, start icsTime) time.Time {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if end, err := parseTimeProp(p); err == nil && !end.t.Before(start.t) {
			return end.t
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("DURATION")); p != nil {
		if d, err := parseDuration(p.Value); err == nil && d >= 0 {
			return start.t.Add(d)
		}
	}
	if start.dateOnly {
		return start.t.AddDate(0, 0, 1)
	}
	return start.t
}

func parseTimeList(props []*ical.IANAProperty) []time.Time {
	var out []time.Time
	for _, p := range props {
		tzid := param(p, "TZID")
		forceDate := strings.EqualFold(param(p, "VALUE"), "DATE")
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			// RDATE;VALUE=PERIOD: only the start of the period matters here.
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			if t, err := parseICSValue(part, tzid, forceDate); err == nil {
				out = append(out, t.t)
			}
		}
	}
	return out
}

// icsTime is a parsed DATE or DATE-TIME value.
type icsTime struct {
	t        time.Time
	dateOnly bool
	floating bool
	tzid     string
}

func parseTimeProp(p *ical.IANAProperty) (icsTime, error) {
	return parseICSValue(p.Value, param(p, "TZID"), strings.EqualFold(param(p, "VALUE"), "DATE"))
}

// parseICSValue parses a DATE or DATE-TIME value.
//
//   - 20250101T090000Z          -> UTC
//   - 20250101T090000 + TZID    -> that zone
//   - 20250101T090000           -> floating, assumed UTC
//   - 20250101 (or VALUE=DATE)  -> civil date at midnight UTC
//
// An unknown TZID is treated like a floating time.
func parseICSValue(v, tzid string, forceDate bool) (icsTime, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return icsTime{}, errors.New("empty time value")
	}

	if forceDate || !strings.Contains(v, "T") {
		if len(v) > 8 {
			v = v[:8]
		}
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		if err != nil {
			return icsTime{}, err
		}
		return icsTime{t: t, dateOnly: true}, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return icsTime{}, err
		}
		return icsTime{t: t}, nil
	}

	if tzid != "" {
		if loc, err := loadZone(tzid); err == nil {
			t, err := time.ParseInLocation("20060102T150405", v, loc)
			if err != nil {
				return icsTime{}, err
			}
			return icsTime{t: t, tzid: tzid}, nil
		}
		appLog.Debug("ics unknown TZID; treating as floating", "tzid", tzid)
	}

	t, err := time.ParseInLocation("20060102T150405", v, time.UTC)
	if err != nil {
		return icsTime{}, err
	}
	return icsTime{t: t, floating: true}, nil
}

func loadZone(tzid string) (*time.Location, error) {
	tzid = strings.Trim(tzid, `"`)
	// Some producers prefix zone names, e.g. /mozilla.org/20050126_1/Europe/Oslo.
	if strings.HasPrefix(tzid, "/") {
		parts := strings.Split(tzid, "/")
		if len(parts) >= 2 {
			tzid = strings.Join(parts[len(parts)-2:], "/")
		}
	}
	return time.LoadLocation(tzid)
}

func param(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}

// parseDuration parses an RFC 5545 DURATION such as PT1H30M, P1D or -P1W.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(strings.ToUpper(v))
	if v == "" {
		return 0, errors.New("empty duration")
	}
	sign := time.Duration(1)
	switch v[0] {
	case '-':
		sign = -1
		v = v[1:]
	case '+':
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	num := ""
	parts := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, err
			}
			num = ""
			unit := map[rune]time.Duration{'W': 7 * 24 * time.Hour, 'D': 24 * time.Hour}
			if inTime {
				unit = map[rune]time.Duration{'H': time.Hour, 'M': time.Minute, 'S': time.Second}
			}
			u, ok := unit[r]
			if !ok {
				return 0, fmt.Errorf("invalid duration unit %q", r)
			}
			total += time.Duration(n) * u
			parts++
		}
	}
	if num != "" || parts == 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}
