// Package dashmode tracks the "show the dashboard now" override that the
// admin panel sets for a limited time.
package dashmode

import (
	"context"
	"errors"
	"slices"
	"time"

	appLog "homedash/internal/log"
)

// ViewAll shows every plan.
const ViewAll = "all"

// Mode is what the display polls for.
type Mode struct {
	Dashboard bool   `json:"dashboard"`
	View      string `json:"view"`
	// Until is zero when the dashboard is not forced.
	Until time.Time `json:"until,omitzero"`
}

// State is the persisted override.
type State struct {
	Until time.Time `json:"until"`
	View  string    `json:"view"`
}

// Backend persists the override.
type Backend interface {
	Save(ctx context.Context, st State) error
	// Load returns ok=false when nothing is stored.
	Load(ctx context.Context) (st State, ok bool, err error)
}

// Manager applies expiry and view rules on top of a Backend.
type Manager struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wraps backend.
func NewManager(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("dashmode: backend is nil")
	}
	m := &Manager{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ResolveView returns view when it is "all" or one of planKeys, else "all".
func ResolveView(view string, planKeys []string) string {
	if view == ViewAll || slices.Contains(planKeys, view) {
		return view
	}
	return ViewAll
}

// Force shows the dashboard for d with the given view.
func (m *Manager) Force(ctx context.Context, d time.Duration, view string, planKeys []string) (Mode, error) {
	if d <= 0 {
		return Mode{}, errors.New("dashmode: duration must be positive")
	}
	st := State{
		Until: m.now().Add(d).UTC(),
		View:  ResolveView(view, planKeys),
	}
	if err := m.backend.Save(ctx, st); err != nil {
		return Mode{}, err
	}
	appLog.Info("dashboard forced", "view", st.View, "until", st.Until.Format(time.RFC3339))
	return Mode{Dashboard: true, View: st.View, Until: st.Until}, nil
}

// Clear ends any override.
func (m *Manager) Clear(ctx context.Context) error {
	return m.backend.Save(ctx, State{View: ViewAll})
}

// Current returns the active mode. An expired or missing override reports
// dashboard=false with view "all". A view that no longer names a plan
// falls back to "all".
func (m *Manager) Current(ctx context.Context, planKeys []string) (Mode, error) {
	off := Mode{Dashboard: false, View: ViewAll}

	st, ok, err := m.backend.Load(ctx)
	if err != nil {
		return off, err
	}
	if !ok || st.Until.IsZero() || !m.now().Before(st.Until) {
		return off, nil
	}
	return Mode{Dashboard: true, View: ResolveView(st.View, planKeys), Until: st.Until}, nil
}
