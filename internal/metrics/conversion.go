package metrics

import (
	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

// cohort returns the users who signed up inside the window and match the
// plan filter.
func cohort(ds *model.Dataset, f Filter) []*model.User {
	var out []*model.User
	for i := range ds.Users {
		u := &ds.Users[i]
		if f.In(u.CreatedAt) && f.userMatches(ds, u) {
			out = append(out, u)
		}
	}
	return out
}

// paying reports whether the user holds a non-free subscription in status
// active, restricted to the filtered plan when one is set.
func paying(ds *model.Dataset, u *model.User, f Filter) bool {
	for _, s := range ds.SubscriptionsOf(u.ID) {
		name := ds.PlanOf(s)
		if s.Status == model.SubscriptionActive && name.Paid() && f.planMatches(name) {
			return true
		}
	}
	return false
}

func hasSubscription(ds *model.Dataset, u *model.User) bool {
	return len(ds.SubscriptionsOf(u.ID)) > 0
}

// ConversionRate is the share of subscribed users that currently pay.
func ConversionRate(ds *model.Dataset, f Filter) decimal.NullDecimal {
	var num, den int
	for _, u := range cohort(ds, f) {
		if !hasSubscription(ds, u) {
			continue
		}
		den++
		if paying(ds, u, f) {
			num++
		}
	}
	return ratio(num, den)
}

func ConversionByChannel(ds *model.Dataset, f Filter) Table {
	out := newTable("conversion_by_channel")
	num := make(map[model.SignupChannel]int)
	den := make(map[model.SignupChannel]int)
	for _, u := range cohort(ds, f) {
		if !hasSubscription(ds, u) {
			continue
		}
		den[u.SignupChannel]++
		if paying(ds, u, f) {
			num[u.SignupChannel]++
		}
	}
	for ch, d := range den {
		out.Rows[string(ch)] = ratio(num[ch], d)
	}
	return out
}

// firstPaid returns the earliest non-free subscription of the user.
func firstPaid(ds *model.Dataset, u *model.User, f Filter) (*model.Subscription, bool) {
	for _, s := range ds.SubscriptionsOf(u.ID) {
		if name := ds.PlanOf(s); name.Paid() && f.planMatches(name) {
			return s, true
		}
	}
	return nil, false
}

// UpgradeDelays lists, per converting user id, the days between signup and
// the first paid subscription. Users who never convert have no row.
func UpgradeDelays(ds *model.Dataset, f Filter) Table {
	out := newTable("upgrade_delay_days")
	for _, u := range cohort(ds, f) {
		if s, ok := firstPaid(ds, u, f); ok {
			out.set(u.ID.String(), days(s.StartedAt.Sub(u.CreatedAt)))
		}
	}
	return out
}

// TimeToUpgrade averages upgrade delays in days per paid plan, with "all"
// covering every converter. A plan without converters is undefined.
func TimeToUpgrade(ds *model.Dataset, f Filter) Table {
	out := newTable("time_to_upgrade_days")
	sums := make(map[string]decimal.Decimal)
	n := make(map[string]int)
	for _, u := range cohort(ds, f) {
		s, ok := firstPaid(ds, u, f)
		if !ok {
			continue
		}
		d := days(s.StartedAt.Sub(u.CreatedAt))
		for _, k := range []string{string(ds.PlanOf(s)), "all"} {
			sums[k] = sums[k].Add(d)
			n[k]++
		}
	}

	keys := []string{"all"}
	for i := range ds.Plans {
		if name := ds.Plans[i].Name; name.Paid() && f.planMatches(name) {
			keys = append(keys, string(name))
		}
	}
	for _, k := range keys {
		if n[k] == 0 {
			out.setNull(k)
			continue
		}
		out.set(k, sums[k].Div(count(n[k])))
	}
	return out
}

// StagePairKey names the transition between two adjacent funnel stages.
func StagePairKey(a, b model.FunnelStage) string {
	return string(a) + "->" + string(b)
}

// FunnelConversion gives, for each adjacent pair of funnel stages, the users
// reaching the later stage over those reaching the earlier one.
func FunnelConversion(ds *model.Dataset, f Filter) Table {
	out := newTable("funnel_conversion")
	reached := make(map[model.FunnelStage]int)
	for _, u := range cohort(ds, Filter{Plan: f.Plan}) {
		seen := make(map[model.FunnelStage]bool)
		for _, e := range ds.FunnelOf(u.ID) {
			if f.In(e.OccurredAt) && !seen[e.EventName] {
				seen[e.EventName] = true
				reached[e.EventName]++
			}
		}
	}
	for i := 0; i+1 < len(model.FunnelStages); i++ {
		a, b := model.FunnelStages[i], model.FunnelStages[i+1]
		out.Rows[StagePairKey(a, b)] = ratio(reached[b], reached[a])
	}
	return out
}

// FunnelCounts is the number of distinct users reaching each stage.
func FunnelCounts(ds *model.Dataset, f Filter) Table {
	out := newTable("funnel_users")
	for _, st := range model.FunnelStages {
		out.set(string(st), decimal.Zero)
	}
	for _, u := range cohort(ds, Filter{Plan: f.Plan}) {
		seen := make(map[model.FunnelStage]bool)
		for _, e := range ds.FunnelOf(u.ID) {
			if f.In(e.OccurredAt) && e.EventName.Valid() && !seen[e.EventName] {
				seen[e.EventName] = true
				out.set(string(e.EventName), out.Rows[string(e.EventName)].Decimal.Add(decimal.NewFromInt(1)))
			}
		}
	}
	return out
}

// UserGrowth returns signups, activated users and the activation rate per
// signup month.
func UserGrowth(ds *model.Dataset, f Filter) (signups, activated, rate Table) {
	signups = newTable("signups_by_month")
	activated = newTable("activated_by_month")
	rate = newTable("activation_rate_by_month")

	from, to := f.series(ds)
	if from.IsZero() {
		return
	}
	s := make(map[string]int)
	a := make(map[string]int)
	for _, u := range cohort(ds, f) {
		k := monthKey(u.CreatedAt)
		s[k]++
		if u.Activated() {
			a[k]++
		}
	}
	for _, m := range months(from, to) {
		k := monthKey(m)
		signups.set(k, count(s[k]))
		activated.set(k, count(a[k]))
		rate.Rows[k] = ratio(a[k], s[k])
	}
	return
}

// ChannelPerformance reports signups, paying users and conversion for each
// acquisition channel with at least minSignups signups in the window.
func ChannelPerformance(ds *model.Dataset, f Filter, minSignups int) (signups, paid, rate Table) {
	signups = newTable("channel_signups")
	paid = newTable("channel_paid_users")
	rate = newTable("channel_conversion")

	s := make(map[model.SignupChannel]int)
	p := make(map[model.SignupChannel]int)
	for _, u := range cohort(ds, f) {
		s[u.SignupChannel]++
		if paying(ds, u, f) {
			p[u.SignupChannel]++
		}
	}
	for ch, n := range s {
		if n < minSignups {
			continue
		}
		signups.set(string(ch), count(n))
		paid.set(string(ch), count(p[ch]))
		rate.Rows[string(ch)] = ratio(p[ch], n)
	}
	return
}
