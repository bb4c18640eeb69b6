package generator

import (
	"time"

	"saas-analytics/internal/model"
)

// BillingSchedule returns the charge instants of a subscription: one at the
// start of every billing period that begins inside [StartedAt, min(end,
// until)). Each charge is for the stored billing-cycle amount.
func BillingSchedule(s *model.Subscription, until time.Time) []time.Time {
	stop := until
	if span := s.Span(); span.End != nil && span.End.Before(stop) {
		stop = *span.End
	}

	step := 1
	if s.BillingCycle == model.BillingAnnual {
		step = 12
	}
	var out []time.Time
	for i := 0; ; i++ {
		at := addMonths(s.StartedAt, i*step)
		if !at.Before(stop) {
			return out
		}
		out = append(out, at)
	}
}

// addMonths moves t forward n calendar months, keeping the clock time. Days
// past the end of the target month land on its last day, so a subscription
// started on Jan 31 is charged on Feb 29 and then Mar 31.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}
