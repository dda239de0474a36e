// Package calendar merges several iCal feeds into one display-ready event
// list and filters it per week plan.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"

	"homedash/internal/config"
	"homedash/internal/ics"
	appLog "homedash/internal/log"
	"homedash/internal/metrics"
	"homedash/internal/model"
)

// Window sizes in days, counted from local midnight today.
const (
	DashboardWindowDays = 14
	PlanWindowDays      = 3
	DebugWindowDays     = 14
)

// Fetcher retrieves one raw feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SourceResult is the outcome of processing one source.
type SourceResult struct {
	Source  config.CalendarSource
	Events  []model.CalendarEvent
	Skipped []ics.Skip
	// Err is set when the whole source failed (fetch or feed parse).
	Err error
}

// Failed reports whether the source contributed nothing because of an error.
func (r SourceResult) Failed() bool { return r.Err != nil }

// Report is the merged result of one aggregation run.
type Report struct {
	// Events is sorted by start instant; ties keep source order.
	Events  []model.CalendarEvent
	Sources []SourceResult
}

// FailedSources counts sources that failed as a whole.
func (r Report) FailedSources() int {
	n := 0
	for _, s := range r.Sources {
		if s.Failed() {
			n++
		}
	}
	return n
}

// Aggregator runs fetch, parse, expand and normalize for a list of sources.
// It keeps no state between calls.
type Aggregator struct {
	fetcher    Fetcher
	normalizer ics.Normalizer
	now        func() time.Time
	metrics    *metrics.Manager
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMetrics records fetch and skip counters on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// New creates an Aggregator that presents events in loc.
func New(fetcher Fetcher, loc *time.Location, opts ...Option) (*Aggregator, error) {
	if fetcher == nil {
		return nil, errors.New("calendar: fetcher is nil")
	}
	n, err := ics.NewNormalizer(loc)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{
		fetcher:    fetcher,
		normalizer: n,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Location returns the display zone.
func (a *Aggregator) Location() *time.Location { return a.normalizer.Location() }

// Window returns [today 00:00, today+days 00:00) in the display zone.
func (a *Aggregator) Window(days int) (time.Time, time.Time) {
	loc := a.Location()
	now := a.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, days)
}

// Events returns the merged events of all sources for the next days.
// Failing sources contribute nothing; the call itself never fails.
func (a *Aggregator) Events(ctx context.Context, sources []config.CalendarSource, days int) []model.CalendarEvent {
	return a.Collect(ctx, sources, days).Events
}

// Collect is Events with per-source results.
func (a *Aggregator) Collect(ctx context.Context, sources []config.CalendarSource, days int) Report {
	start, end := a.Window(days)

	report := Report{Events: []model.CalendarEvent{}}
	for _, src := range sources {
		if src.URL == "" {
			continue
		}
		res := a.collectSource(ctx, src, start, end)
		report.Sources = append(report.Sources, res)
		report.Events = append(report.Events, res.Events...)
	}

	sort.SliceStable(report.Events, func(i, j int) bool {
		return report.Events[i].Start.Before(report.Events[j].Start)
	})

	appLog.Debug("calendar aggregated",
		"sources", len(report.Sources),
		"failed", report.FailedSources(),
		"events", len(report.Events),
		"days", days,
	)
	return report
}

// EventsForPlan returns the events of the sources assigned to planKey.
// A plan with no assignments yields an empty list without any fetch. Ids
// that no longer name a source are ignored; source order follows sources.
func (a *Aggregator) EventsForPlan(ctx context.Context, planKey string, sources []config.CalendarSource, assignments map[string][]string, days int) []model.CalendarEvent {
	return a.CollectForPlan(ctx, planKey, sources, assignments, days).Events
}

// CollectForPlan is EventsForPlan with per-source results.
func (a *Aggregator) CollectForPlan(ctx context.Context, planKey string, sources []config.CalendarSource, assignments map[string][]string, days int) Report {
	ids := assignments[planKey]
	if len(ids) == 0 {
		return Report{Events: []model.CalendarEvent{}}
	}

	assigned := make(map[string]bool, len(ids))
	for _, id := range ids {
		assigned[id] = true
	}
	selected := make([]config.CalendarSource, 0, len(ids))
	for _, src := range sources {
		if assigned[src.ID] {
			selected = append(selected, src)
		}
	}
	if len(selected) == 0 {
		return Report{Events: []model.CalendarEvent{}}
	}
	return a.Collect(ctx, selected, days)
}

func (a *Aggregator) collectSource(ctx context.Context, src config.CalendarSource, start, end time.Time) SourceResult {
	res := SourceResult{Source: src}
	isrc := ics.Source{ID: src.ID, URL: src.URL}

	began := time.Now()
	body, err := a.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		a.metrics.RecordFeedFetch(metrics.ResultFetchError, time.Since(began))
		appLog.Error("calendar fetch failed", err, "id", src.ID, "url", ics.RedactURL(src.URL))
		res.Err = err
		return res
	}

	parsed, skips, err := ics.ParseICS(isrc, body)
	if err != nil {
		a.metrics.RecordFeedFetch(metrics.ResultParseError, time.Since(began))
		appLog.Error("calendar feed parse failed", err, "id", src.ID, "url", ics.RedactURL(src.URL))
		res.Err = err
		return res
	}
	a.metrics.RecordFeedFetch(metrics.ResultOK, time.Since(began))
	res.Skipped = append(res.Skipped, skips...)

	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{RangeStart: start, RangeEnd: end})
	if err != nil {
		appLog.Error("calendar expand failed", err, "id", src.ID)
		res.Err = err
		return res
	}
	res.Skipped = append(res.Skipped, expanded.Skipped...)

	events, normSkips := a.normalizer.NormalizeAll(expanded.Occurrences)
	res.Skipped = append(res.Skipped, normSkips...)

	for i := range events {
		events[i].CalendarName = src.Name
		events[i].CalendarColor = src.Color
	}
	res.Events = events

	for _, s := range res.Skipped {
		a.metrics.RecordSkipped(string(s.Reason))
	}
	if len(res.Skipped) > 0 {
		appLog.Warn("calendar occurrences skipped", "id", src.ID, "count", len(res.Skipped))
	}
	return res
}
