package model

import "time"

// Span is the half-open interval [Start, End). A nil End means the span is
// still open.
type Span struct {
	Start time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	if t.Before(s.Start) {
		return false
	}
	return s.End == nil || t.Before(*s.End)
}

// Overlaps reports whether the span shares any instant with [from, to).
func (s Span) Overlaps(from, to time.Time) bool {
	if !s.Start.Before(to) {
		return false
	}
	return s.End == nil || s.End.After(from)
}

// Intersects reports whether two spans share any instant.
func (s Span) Intersects(other Span) bool {
	if other.End == nil {
		return s.End == nil || s.End.After(other.Start)
	}
	return s.Overlaps(other.Start, *other.End)
}
