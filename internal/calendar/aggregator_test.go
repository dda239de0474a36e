package calendar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homedash/internal/config"
	"homedash/internal/ics"
	"homedash/internal/metrics"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, ics.ErrFetch
	}
	return []byte(body), nil
}

func calendarBody(events ...string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}
	for _, ev := range events {
		lines = append(lines, strings.Split(ev, "\n")...)
	}
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

const dentist = `BEGIN:VEVENT
UID:dentist@a
SUMMARY:Dentist
LOCATION:Main St 1
DTSTART;TZID=Europe/Oslo:20240610T090000
DTEND;TZID=Europe/Oslo:20240610T100000
END:VEVENT`

const standup = `BEGIN:VEVENT
UID:standup@b
SUMMARY:Standup
DTSTART;TZID=Europe/Oslo:20240603T080000
DTEND;TZID=Europe/Oslo:20240603T081500
RRULE:FREQ=WEEKLY;BYDAY=MO
END:VEVENT`

var (
	oslo = mustLoad("Europe/Oslo")

	sourceA = config.CalendarSource{ID: "a", URL: "https://a.example.com/a.ics", Name: "Family", Color: "#ff0000"}
	sourceB = config.CalendarSource{ID: "b", URL: "https://b.example.com/b.ics", Name: "Work", Color: "#00ff00"}
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestAggregator(t *testing.T, f Fetcher, now time.Time, opts ...Option) *Aggregator {
	t.Helper()
	opts = append(opts, WithClock(func() time.Time { return now }))
	a, err := New(f, oslo, opts...)
	require.NoError(t, err)
	return a
}

func twoSourceFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string]string{
		sourceA.URL: calendarBody(dentist),
		sourceB.URL: calendarBody(standup),
	}}
}

func summaries(evs []eventView) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.summary+" "+e.date)
	}
	return out
}

type eventView struct{ summary, date string }

func view(ctx context.Context, a *Aggregator, sources []config.CalendarSource, days int) []eventView {
	evs := a.Events(ctx, sources, days)
	out := make([]eventView, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventView{e.Summary, e.StartDate})
	}
	return out
}

func TestEventsTwoSourcesWindowEndIsExclusive(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, oslo)
	a := newTestAggregator(t, twoSourceFetcher(), now)

	got := view(context.Background(), a, []config.CalendarSource{sourceA, sourceB}, 7)
	assert.Equal(t, []string{"Standup 2024-06-10", "Dentist 2024-06-10"}, summaries(got))

	// One more day reaches the next Monday.
	got = view(context.Background(), a, []config.CalendarSource{sourceA, sourceB}, 8)
	assert.Equal(t, []string{"Standup 2024-06-10", "Dentist 2024-06-10", "Standup 2024-06-17"}, summaries(got))
}

const tieA = `BEGIN:VEVENT
UID:tie@a
SUMMARY:TieA
DTSTART;TZID=Europe/Oslo:20240612T120000
DTEND;TZID=Europe/Oslo:20240612T130000
END:VEVENT`

// tieB starts at the same instant as tieA, written in UTC.
const tieB = `BEGIN:VEVENT
UID:tie@b
SUMMARY:TieB
DTSTART:20240612T100000Z
DTEND:20240612T110000Z
END:VEVENT`

func TestEventsTiesAcrossSourcesKeepSourceOrder(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		sourceA.URL: calendarBody(tieA),
		sourceB.URL: calendarBody(tieB),
	}}
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, oslo)
	a := newTestAggregator(t, f, now)

	got := view(context.Background(), a, []config.CalendarSource{sourceA, sourceB}, DashboardWindowDays)
	assert.Equal(t, []string{"TieA 2024-06-12", "TieB 2024-06-12"}, summaries(got))

	got = view(context.Background(), a, []config.CalendarSource{sourceB, sourceA}, DashboardWindowDays)
	assert.Equal(t, []string{"TieB 2024-06-12", "TieA 2024-06-12"}, summaries(got))
}

func TestEventsWindowStartIsLocalMidnight(t *testing.T) {
	// Late in the day the morning events of today are still in range.
	now := time.Date(2024, 6, 10, 23, 30, 0, 0, oslo)
	a := newTestAggregator(t, twoSourceFetcher(), now)

	got := view(context.Background(), a, []config.CalendarSource{sourceA, sourceB}, 7)
	assert.Equal(t, []string{"Standup 2024-06-10", "Dentist 2024-06-10"}, summaries(got))

	// The day after, both are gone and the next standup is not yet due.
	a = newTestAggregator(t, twoSourceFetcher(), now.Add(time.Hour))
	got = view(context.Background(), a, []config.CalendarSource{sourceA, sourceB}, 6)
	assert.Empty(t, got)
}

func TestEventsFields(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, oslo)
	a := newTestAggregator(t, twoSourceFetcher(), now)

	evs := a.Events(context.Background(), []config.CalendarSource{sourceA}, 7)
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, "Dentist", ev.Summary)
	assert.Equal(t, "Main St 1", ev.Location)
	assert.Equal(t, "2024-06-10T09:00:00+02:00", ev.StartDatetime)
	assert.Equal(t, "2024-06-10", ev.StartDate)
	assert.Equal(t, "09:00", ev.StartTime)
	assert.Equal(t, "Monday", ev.Weekday)
	assert.False(t, ev.IsAllDay)
	assert.Equal(t, "Family", ev.CalendarName)
	assert.Equal(t, "#ff0000", ev.CalendarColor)
}

func TestEventsIsolatesFailingSources(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, oslo)
	broken := config.CalendarSource{ID: "x", URL: "https://down.example.com/x.ics", Name: "Down"}
	garbage := config.CalendarSource{ID: "g", URL: "https://garbage.example.com/g.ics", Name: "Garbage"}

	f := twoSourceFetcher()
	f.errs = map[string]error{broken.URL: errors.New("connection refused")}
	f.bodies[garbage.URL] = "<html>not a calendar</html>"

	a := newTestAggregator(t, f, now)
	report := a.Collect(context.Background(), []config.CalendarSource{broken, sourceA, garbage}, 7)

	require.Len(t, report.Events, 1)
	assert.Equal(t, "Dentist", report.Events[0].Summary)
	require.Len(t, report.Sources, 3)
	assert.True(t, report.Sources[0].Failed())
	assert.False(t, report.Sources[1].Failed())
	assert.True(t, errors.Is(report.Sources[2].Err, ics.ErrFeedParse))
	assert.Equal(t, 2, report.FailedSources())
}

func TestEventsSkipsSourcesWithoutURL(t *testing.T) {
	f := twoSourceFetcher()
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo))

	evs := a.Events(context.Background(), []config.CalendarSource{{ID: "empty", Name: "Empty"}, sourceA}, 7)
	assert.Len(t, evs, 1)
	assert.Equal(t, []string{sourceA.URL}, f.calls)
}

func TestEventsMalformedEventDoesNotDropSiblings(t *testing.T) {
	bad := `BEGIN:VEVENT
UID:bad@a
SUMMARY:Broken
DTSTART:not-a-date
END:VEVENT`
	f := &fakeFetcher{bodies: map[string]string{sourceA.URL: calendarBody(bad, dentist)}}
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo))

	report := a.Collect(context.Background(), []config.CalendarSource{sourceA}, 7)
	require.Len(t, report.Events, 1)
	require.Len(t, report.Sources[0].Skipped, 1)
	assert.Equal(t, ics.SkipMalformedStart, report.Sources[0].Skipped[0].Reason)
	assert.Equal(t, "bad@a", report.Sources[0].Skipped[0].UID)
}

func TestEventsAllDayDetection(t *testing.T) {
	dateOnly := `BEGIN:VEVENT
UID:holiday@a
SUMMARY:Holiday
DTSTART;VALUE=DATE:20240611
DTEND;VALUE=DATE:20240612
END:VEVENT`
	midnight := `BEGIN:VEVENT
UID:trip@a
DTSTART;TZID=Europe/Oslo:20240612T000000
DTEND;TZID=Europe/Oslo:20240613T000000
END:VEVENT`
	f := &fakeFetcher{bodies: map[string]string{sourceA.URL: calendarBody(dateOnly, midnight)}}
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo))

	evs := a.Events(context.Background(), []config.CalendarSource{sourceA}, 7)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.True(t, ev.IsAllDay, ev.Summary)
		assert.Equal(t, "All day", ev.StartTime, ev.Summary)
	}
	assert.Equal(t, "Holiday", evs[0].Summary)
	assert.Equal(t, "2024-06-11", evs[0].StartDate)
	assert.Equal(t, "2024-06-11T00:00:00+02:00", evs[0].StartDatetime)
	assert.Equal(t, ics.DefaultSummary, evs[1].Summary)
	assert.Equal(t, "Wednesday", evs[1].Weekday)
}

func TestEventsOrderedAndIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, oslo)
	a := newTestAggregator(t, twoSourceFetcher(), now)
	sources := []config.CalendarSource{sourceA, sourceB}

	first := a.Events(context.Background(), sources, DashboardWindowDays)
	second := a.Events(context.Background(), sources, DashboardWindowDays)
	require.Equal(t, first, second)
	require.Len(t, first, 3)

	start, end := a.Window(DashboardWindowDays)
	for i, ev := range first {
		assert.False(t, ev.Start.Before(start))
		assert.True(t, ev.Start.Before(end))
		if i > 0 {
			assert.False(t, ev.Start.Before(first[i-1].Start), "events out of order at %d", i)
		}
	}
}

func TestEventsForPlanShortCircuits(t *testing.T) {
	f := twoSourceFetcher()
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo))
	sources := []config.CalendarSource{sourceA, sourceB}

	evs := a.EventsForPlan(context.Background(), "plan2", sources, map[string][]string{"plan1": {"a"}}, PlanWindowDays)
	require.NotNil(t, evs)
	assert.Empty(t, evs)

	evs = a.EventsForPlan(context.Background(), "plan1", sources, map[string][]string{"plan1": {"gone"}}, PlanWindowDays)
	assert.Empty(t, evs)
	assert.Empty(t, f.calls)
}

func TestEventsForPlanFiltersAssignedSources(t *testing.T) {
	f := twoSourceFetcher()
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo))
	sources := []config.CalendarSource{sourceA, sourceB}
	assignments := map[string][]string{"plan1": {"stale", "b"}}

	evs := a.EventsForPlan(context.Background(), "plan1", sources, assignments, PlanWindowDays)
	require.Len(t, evs, 1)
	assert.Equal(t, "Standup", evs[0].Summary)
	assert.Equal(t, "Work", evs[0].CalendarName)
	assert.Equal(t, []string{sourceB.URL}, f.calls)
}

func TestCollectRecordsMetrics(t *testing.T) {
	f := twoSourceFetcher()
	f.errs = map[string]error{"https://down.example.com": ics.ErrFetch}
	m := metrics.NewManager()
	a := newTestAggregator(t, f, time.Date(2024, 6, 10, 8, 0, 0, 0, oslo), WithMetrics(m))

	a.Collect(context.Background(), []config.CalendarSource{sourceA, {ID: "d", URL: "https://down.example.com"}}, 7)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var fetches float64
	for _, fam := range families {
		if fam.GetName() != "homedash_calendar_feed_fetches_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			fetches += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), fetches)
}

func TestNewRejectsNilInputs(t *testing.T) {
	_, err := New(nil, oslo)
	assert.Error(t, err)
	_, err = New(&fakeFetcher{}, nil)
	assert.Error(t, err)
}
