package ics

import "fmt"

// SkipReason says why a single event or occurrence was dropped while the
// rest of its feed was kept.
type SkipReason string

const (
	SkipMissingStart          SkipReason = "missing_start"
	SkipMalformedStart        SkipReason = "malformed_start"
	SkipMalformedRRule        SkipReason = "malformed_rrule"
	SkipMalformedRecurrenceID SkipReason = "malformed_recurrence_id"
	SkipInvalidZone           SkipReason = "invalid_zone"
)

// Skip records one dropped event or occurrence.
type Skip struct {
	UID    string
	Reason SkipReason
	Err    error
}

func (s Skip) Error() string {
	if s.Err == nil {
		return fmt.Sprintf("skip %s: %s", s.UID, s.Reason)
	}
	return fmt.Sprintf("skip %s: %s: %v", s.UID, s.Reason, s.Err)
}

func (s Skip) Unwrap() error { return s.Err }
