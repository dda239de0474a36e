package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSource = Source{ID: "src", URL: "https://example.com/cal.ics"}

func feed(events ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}
	for _, ev := range events {
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
	}
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParseICSRejectsNonCalendar(t *testing.T) {
	for _, body := range []string{"", "   ", "<html></html>"} {
		_, _, err := ParseICS(testSource, []byte(body))
		assert.True(t, errors.Is(err, ErrFeedParse), "body %q", body)
	}
}

func TestParseICSTimeForms(t *testing.T) {
	oslo := mustLoc(t, "Europe/Oslo")
	body := feed(`
BEGIN:VEVENT
UID:utc
DTSTART:20240610T070000Z
END:VEVENT`, `
BEGIN:VEVENT
UID:zoned
DTSTART;TZID=Europe/Oslo:20240610T090000
DTEND;TZID=Europe/Oslo:20240610T100000
END:VEVENT`, `
BEGIN:VEVENT
UID:floating
DTSTART:20240610T090000
DURATION:PT30M
END:VEVENT`, `
BEGIN:VEVENT
UID:date
DTSTART;VALUE=DATE:20240611
END:VEVENT`, `
BEGIN:VEVENT
UID:unknown-zone
DTSTART;TZID=Mars/Olympus:20240610T090000
END:VEVENT`, `
BEGIN:VEVENT
UID:mozilla
DTSTART;TZID=/mozilla.org/20050126_1/Europe/Oslo:20240610T090000
END:VEVENT`)

	events, skips, err := ParseICS(testSource, body)
	require.NoError(t, err)
	require.Empty(t, skips)
	require.Len(t, events, 6)

	byUID := map[string]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
		assert.Equal(t, testSource, ev.Source)
	}

	assert.True(t, byUID["utc"].Start.Equal(time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, byUID["utc"].Start, byUID["utc"].End)

	zoned := byUID["zoned"]
	assert.Equal(t, "Europe/Oslo", zoned.Start.Location().String())
	assert.True(t, zoned.Start.Equal(time.Date(2024, 6, 10, 9, 0, 0, 0, oslo)))
	assert.Equal(t, time.Hour, zoned.End.Sub(zoned.Start))

	floating := byUID["floating"]
	assert.True(t, floating.Floating)
	assert.Equal(t, time.UTC, floating.Start.Location())
	assert.Equal(t, 30*time.Minute, floating.End.Sub(floating.Start))

	date := byUID["date"]
	assert.True(t, date.AllDay)
	assert.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), date.Start)
	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), date.End)

	assert.True(t, byUID["unknown-zone"].Floating)
	assert.True(t, byUID["mozilla"].Start.Equal(time.Date(2024, 6, 10, 9, 0, 0, 0, oslo)))
}

func TestParseICSSkipsBrokenEvents(t *testing.T) {
	body := feed(`
BEGIN:VEVENT
UID:no-start
SUMMARY:Missing
END:VEVENT`, `
BEGIN:VEVENT
UID:bad-start
DTSTART:2024-06-10
END:VEVENT`, `
BEGIN:VEVENT
UID:bad-rid
DTSTART:20240610T090000Z
RECURRENCE-ID:garbage
END:VEVENT`, `
BEGIN:VEVENT
UID:good
SUMMARY:Good
DTSTART:20240610T090000Z
END:VEVENT`)

	events, skips, err := ParseICS(testSource, body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].UID)

	require.Len(t, skips, 3)
	assert.Equal(t, Skip{UID: "no-start", Reason: SkipMissingStart}, skips[0])
	assert.Equal(t, SkipMalformedStart, skips[1].Reason)
	assert.Equal(t, SkipMalformedRecurrenceID, skips[2].Reason)
}

func TestParseICSRecurrenceFields(t *testing.T) {
	body := feed(`
BEGIN:VEVENT
UID:weekly
SEQUENCE:3
STATUS:CONFIRMED
DTSTART;TZID=Europe/Oslo:20240603T080000
RRULE:FREQ=WEEKLY;BYDAY=MO
EXDATE;TZID=Europe/Oslo:20240610T080000,20240617T080000
RDATE;TZID=Europe/Oslo:20240612T080000
END:VEVENT`, `
BEGIN:VEVENT
UID:weekly
STATUS:CANCELLED
RECURRENCE-ID;TZID=Europe/Oslo:20240624T080000
DTSTART;TZID=Europe/Oslo:20240624T080000
END:VEVENT`)

	events, _, err := ParseICS(testSource, body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	base := events[0]
	assert.Equal(t, 3, base.Seq)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", base.RawRRule)
	assert.Len(t, base.ExDates, 2)
	assert.Len(t, base.RDates, 1)
	assert.False(t, base.IsOverride)
	assert.False(t, base.Cancelled())

	override := events[1]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)
	assert.True(t, override.Cancelled())
}

func TestParseICSSyntheticUID(t *testing.T) {
	body := feed(`
BEGIN:VEVENT
DTSTART:20240610T090000Z
END:VEVENT`)

	events, _, err := ParseICS(testSource, body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "src#0", events[0].UID)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT1H30M":  90 * time.Minute,
		"P1D":      24 * time.Hour,
		"P1W":      7 * 24 * time.Hour,
		"-PT15M":   -15 * time.Minute,
		"P1DT2H":   26 * time.Hour,
		"PT45S":    45 * time.Second,
		"+PT1H":    time.Hour,
		"p2dt1h5m": 49*time.Hour + 5*time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1H", "PT", "PTH", "P1X", "PT1"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}
