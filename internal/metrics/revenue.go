package metrics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

var twelve = decimal.NewFromInt(12)

// currentMRR walks every user's authoritative subscription at t and hands
// its monthly-equivalent value to fn. Overlapping rows count once.
func currentMRR(ds *model.Dataset, t time.Time, f Filter, fn func(*model.User, model.PlanName, decimal.Decimal)) {
	for i := range ds.Users {
		u := &ds.Users[i]
		s, ok := ds.CurrentSubscription(u.ID, t)
		if !ok {
			continue
		}
		name := ds.PlanOf(s)
		if !f.planMatches(name) {
			continue
		}
		fn(u, name, model.MonthlyRecurringRevenue(s))
	}
}

// MRR sums the monthly-equivalent revenue of subscriptions active at t.
// Only the plan filter applies.
func MRR(ds *model.Dataset, t time.Time, f Filter) decimal.Decimal {
	total := decimal.Zero
	currentMRR(ds, t, f, func(_ *model.User, _ model.PlanName, v decimal.Decimal) {
		total = total.Add(v)
	})
	return total
}

func ARR(ds *model.Dataset, t time.Time, f Filter) decimal.Decimal {
	return MRR(ds, t, f).Mul(twelve)
}

func MRRByPlan(ds *model.Dataset, t time.Time, f Filter) Table {
	out := newTable("mrr_by_plan")
	for i := range ds.Plans {
		if name := ds.Plans[i].Name; f.planMatches(name) {
			out.set(string(name), decimal.Zero)
		}
	}
	currentMRR(ds, t, f, func(_ *model.User, name model.PlanName, v decimal.Decimal) {
		out.set(string(name), out.Rows[string(name)].Decimal.Add(v))
	})
	return out
}

func MRRByCountry(ds *model.Dataset, t time.Time, f Filter) Table {
	out := newTable("mrr_by_country")
	currentMRR(ds, t, f, func(u *model.User, _ model.PlanName, v decimal.Decimal) {
		out.set(u.CountryCode, out.Rows[u.CountryCode].Decimal.Add(v))
	})
	return out
}

// MRRByMonth samples MRR at the close of every month in the window.
func MRRByMonth(ds *model.Dataset, f Filter) Table {
	out := newTable("mrr_by_month")
	from, to := f.series(ds)
	if from.IsZero() {
		return out
	}
	for _, m := range months(from, to) {
		out.set(monthKey(m), MRR(ds, monthClose(m, to), f))
	}
	return out
}

// monthClose is the last instant of month m that is still before to.
func monthClose(m, to time.Time) time.Time {
	end := m.AddDate(0, 1, 0)
	if to.Before(end) {
		end = to
	}
	return end.Add(-time.Microsecond)
}

// cash reports whether the event moved money. Upgrade and downgrade events
// record MRR deltas and are not cash.
func cash(e *model.RevenueEvent) bool {
	return e.EventType == model.RevenuePayment || e.EventType == model.RevenueRefund
}

func (f Filter) revenueMatches(ds *model.Dataset, e *model.RevenueEvent) (model.PlanName, bool) {
	if !f.In(e.OccurredAt) {
		return "", false
	}
	s, ok := ds.Subscription(e.SubscriptionID)
	if !ok {
		return "", false
	}
	name := ds.PlanOf(s)
	return name, f.planMatches(name)
}

// CumulativeRevenue is the running total of net cash received, per month.
func CumulativeRevenue(ds *model.Dataset, f Filter) Table {
	out := newTable("cumulative_revenue")
	from, to := f.series(ds)
	if from.IsZero() {
		return out
	}
	perMonth := make(map[string]decimal.Decimal)
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if !cash(e) {
			continue
		}
		if _, ok := f.revenueMatches(ds, e); !ok {
			continue
		}
		k := monthKey(e.OccurredAt)
		perMonth[k] = perMonth[k].Add(e.Amount)
	}
	running := decimal.Zero
	for _, m := range months(from, to) {
		k := monthKey(m)
		running = running.Add(perMonth[k])
		out.set(k, running)
	}
	return out
}

// TotalRevenue is the net cash received in the window.
func TotalRevenue(ds *model.Dataset, f Filter) decimal.Decimal {
	total := decimal.Zero
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if !cash(e) {
			continue
		}
		if _, ok := f.revenueMatches(ds, e); ok {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// PlanRevenue sums payment events per plan inside the window.
func PlanRevenue(ds *model.Dataset, f Filter) Table {
	out := newTable("plan_revenue")
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if e.EventType != model.RevenuePayment {
			continue
		}
		name, ok := f.revenueMatches(ds, e)
		if !ok {
			continue
		}
		out.set(string(name), out.Rows[string(name)].Decimal.Add(e.Amount))
	}
	return out
}

// PlanTransactions counts payment events per plan inside the window.
func PlanTransactions(ds *model.Dataset, f Filter) Table {
	out := newTable("plan_transactions")
	n := make(map[model.PlanName]int)
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if e.EventType != model.RevenuePayment {
			continue
		}
		if name, ok := f.revenueMatches(ds, e); ok {
			n[name]++
		}
	}
	for name, c := range n {
		out.set(string(name), count(c))
	}
	return out
}

// ARPU divides payment revenue per plan by the distinct users who paid on
// that plan. Plans nobody paid for are undefined.
func ARPU(ds *model.Dataset, f Filter) Table {
	out := newTable("arpu")
	revenue := make(map[model.PlanName]decimal.Decimal)
	payers := make(map[model.PlanName]map[uuid.UUID]bool)
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if e.EventType != model.RevenuePayment {
			continue
		}
		name, ok := f.revenueMatches(ds, e)
		if !ok {
			continue
		}
		revenue[name] = revenue[name].Add(e.Amount)
		if payers[name] == nil {
			payers[name] = make(map[uuid.UUID]bool)
		}
		payers[name][e.UserID] = true
	}

	for i := range ds.Plans {
		name := ds.Plans[i].Name
		if !name.Paid() || !f.planMatches(name) {
			continue
		}
		if n := len(payers[name]); n > 0 {
			out.set(string(name), revenue[name].Div(count(n)))
		} else {
			out.setNull(string(name))
		}
	}
	return out
}

type payerHistory struct {
	total       decimal.Decimal
	first, last time.Time
	payments    int
}

func (h *payerHistory) add(e *model.RevenueEvent) {
	h.total = h.total.Add(e.Amount)
	if e.EventType != model.RevenuePayment {
		return
	}
	if h.payments == 0 || e.OccurredAt.Before(h.first) {
		h.first = e.OccurredAt
	}
	if h.payments == 0 || e.OccurredAt.After(h.last) {
		h.last = e.OccurredAt
	}
	h.payments++
}

// monthly is net revenue over the payment span scaled to 30 days. Histories
// with a single payment have no span.
func (h *payerHistory) monthly() (decimal.Decimal, bool) {
	span := h.last.Sub(h.first)
	if h.payments < 2 || span <= 0 {
		return decimal.Decimal{}, false
	}
	return h.total.Div(days(span)).Mul(decimal.NewFromInt(30)), true
}

// LTV averages, per paying user, net revenue over the payment span scaled
// to 30 days. Users with a single payment are left out. Plan rows only see
// what the user paid on that plan; "all" takes each user once across every
// plan.
func LTV(ds *model.Dataset, f Filter) Table {
	out := newTable("ltv")
	type key struct {
		user uuid.UUID
		plan model.PlanName
	}
	byPlan := make(map[key]*payerHistory)
	byUser := make(map[uuid.UUID]*payerHistory)
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if !cash(e) {
			continue
		}
		name, ok := f.revenueMatches(ds, e)
		if !ok {
			continue
		}
		k := key{e.UserID, name}
		if byPlan[k] == nil {
			byPlan[k] = &payerHistory{}
		}
		byPlan[k].add(e)
		if byUser[e.UserID] == nil {
			byUser[e.UserID] = &payerHistory{}
		}
		byUser[e.UserID].add(e)
	}

	sums := make(map[string]decimal.Decimal)
	users := make(map[string]int)
	for k, h := range byPlan {
		if v, ok := h.monthly(); ok {
			sums[string(k.plan)] = sums[string(k.plan)].Add(v)
			users[string(k.plan)]++
		}
	}
	for _, h := range byUser {
		if v, ok := h.monthly(); ok {
			sums["all"] = sums["all"].Add(v)
			users["all"]++
		}
	}

	keys := []string{"all"}
	for i := range ds.Plans {
		if name := ds.Plans[i].Name; name.Paid() && f.planMatches(name) {
			keys = append(keys, string(name))
		}
	}
	for _, k := range keys {
		if users[k] == 0 {
			out.setNull(k)
			continue
		}
		out.set(k, sums[k].Div(count(users[k])))
	}
	return out
}
