package metrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

// Filter narrows a derivation. A nil bound leaves that side of the window
// open and an empty Plan matches every plan.
type Filter struct {
	Start *time.Time     `json:"start,omitempty"`
	End   *time.Time     `json:"end,omitempty"`
	Plan  model.PlanName `json:"plan,omitempty"`
}

// In reports whether t falls in the half-open window [Start, End).
func (f Filter) In(t time.Time) bool {
	if f.Start != nil && t.Before(*f.Start) {
		return false
	}
	if f.End != nil && !t.Before(*f.End) {
		return false
	}
	return true
}

func (f Filter) planMatches(name model.PlanName) bool {
	return f.Plan == "" || f.Plan == name
}

// userMatches keeps users who held the filtered plan at some point.
func (f Filter) userMatches(ds *model.Dataset, u *model.User) bool {
	if f.Plan == "" {
		return true
	}
	for _, s := range ds.SubscriptionsOf(u.ID) {
		if ds.PlanOf(s) == f.Plan {
			return true
		}
	}
	return false
}

// Table is the result of one derivation: a metric value per unique grouping
// key. Invalid values are undefined metrics, not zeros.
type Table struct {
	Name string                         `json:"name"`
	Rows map[string]decimal.NullDecimal `json:"rows"`
}

func newTable(name string) Table {
	return Table{Name: name, Rows: make(map[string]decimal.NullDecimal)}
}

func (t Table) set(key string, v decimal.Decimal) {
	t.Rows[key] = decimal.NewNullDecimal(v)
}

func (t Table) setNull(key string) {
	t.Rows[key] = decimal.NullDecimal{}
}

// Get returns the value for key. Missing keys read as undefined.
func (t Table) Get(key string) decimal.NullDecimal {
	return t.Rows[key]
}

// Keys returns the grouping keys in ascending order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t.Rows))
	for k := range t.Rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ratio divides two counts; a zero denominator is undefined.
func ratio(num, den int) decimal.NullDecimal {
	if den == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den))))
}

func count(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

var dayNanos = decimal.NewFromInt(int64(24 * time.Hour))

// days expresses a duration in fractional days.
func days(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(dayNanos)
}

const monthLayout = "2006-01"

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthKey(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

// months returns the first instant of every calendar month overlapping
// [from, to).
func months(from, to time.Time) []time.Time {
	var out []time.Time
	for m := monthStart(from); m.Before(to); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

// horizon is the latest instant recorded anywhere in the dataset.
func horizon(ds *model.Dataset) time.Time {
	var h time.Time
	bump := func(t time.Time) {
		if t.After(h) {
			h = t
		}
	}
	for i := range ds.Users {
		bump(ds.Users[i].CreatedAt)
	}
	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		bump(s.StartedAt)
		if end := s.Span().End; end != nil {
			bump(*end)
		}
	}
	for i := range ds.RevenueEvents {
		bump(ds.RevenueEvents[i].OccurredAt)
	}
	for i := range ds.FunnelEvents {
		bump(ds.FunnelEvents[i].OccurredAt)
	}
	return h
}

// series resolves the window of a month-by-month derivation. Open bounds
// default to the first signup and just past the last recorded instant.
func (f Filter) series(ds *model.Dataset) (time.Time, time.Time) {
	var from, to time.Time
	if f.Start != nil {
		from = *f.Start
	} else {
		for i := range ds.Users {
			if c := ds.Users[i].CreatedAt; from.IsZero() || c.Before(from) {
				from = c
			}
		}
	}
	if f.End != nil {
		to = *f.End
	} else {
		to = horizon(ds).Add(time.Microsecond)
	}
	return from, to
}
