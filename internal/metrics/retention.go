package metrics

import (
	"time"

	"saas-analytics/internal/model"
)

// CohortRetention groups users by signup month and reports the share whose
// last login is at least k months after the cohort month began. Months
// without signups are undefined.
func CohortRetention(ds *model.Dataset, k int, f Filter) Table {
	out := newTable("cohort_retention")
	from, to := f.series(ds)
	if from.IsZero() {
		return out
	}

	size := make(map[string]int)
	retained := make(map[string]int)
	for _, u := range cohort(ds, f) {
		start := monthStart(u.CreatedAt)
		key := monthKey(start)
		size[key]++
		if u.LastLoginAt != nil && !u.LastLoginAt.Before(start.AddDate(0, k, 0)) {
			retained[key]++
		}
	}
	for _, m := range months(from, to) {
		key := monthKey(m)
		out.Rows[key] = ratio(retained[key], size[key])
	}
	return out
}

// ChurnRate is, per non-free plan, cancelled subscriptions over every
// subscription ever held on the plan. With a window, only subscriptions in
// force during it count and cancellations must fall inside it.
func ChurnRate(ds *model.Dataset, f Filter) Table {
	out := newTable("churn_rate")
	from, to := f.window()
	cancelled := make(map[model.PlanName]int)
	total := make(map[model.PlanName]int)
	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		name := ds.PlanOf(s)
		if !name.Paid() || !f.planMatches(name) {
			continue
		}
		if !s.Span().Overlaps(from, to) {
			continue
		}
		total[name]++
		if s.Status == model.SubscriptionCancelled && s.CancelledAt != nil && f.In(*s.CancelledAt) {
			cancelled[name]++
		}
	}
	for i := range ds.Plans {
		name := ds.Plans[i].Name
		if name.Paid() && f.planMatches(name) {
			out.Rows[string(name)] = ratio(cancelled[name], total[name])
		}
	}
	return out
}

// window turns the filter bounds into a concrete interval for span tests.
func (f Filter) window() (time.Time, time.Time) {
	from := time.Time{}
	to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if f.Start != nil {
		from = *f.Start
	}
	if f.End != nil {
		to = *f.End
	}
	return from, to
}

// ActiveSubscriptionsByMonth counts subscriptions in force at the close of
// every month in the window.
func ActiveSubscriptionsByMonth(ds *model.Dataset, f Filter) Table {
	out := newTable("active_subscriptions_by_month")
	from, to := f.series(ds)
	if from.IsZero() {
		return out
	}
	for _, m := range months(from, to) {
		at := monthClose(m, to)
		n := 0
		for i := range ds.Users {
			s, ok := ds.CurrentSubscription(ds.Users[i].ID, at)
			if ok && f.planMatches(ds.PlanOf(s)) {
				n++
			}
		}
		out.set(monthKey(m), count(n))
	}
	return out
}
