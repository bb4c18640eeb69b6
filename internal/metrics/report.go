package metrics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

// Options controls a full report run.
type Options struct {
	AsOf              time.Time `yaml:"as_of"`
	RetentionMonths   []int     `yaml:"retention_months"`
	RevenueDays       int       `yaml:"revenue_days"`
	RecentDays        int       `yaml:"recent_days"`
	GrowthDays        int       `yaml:"growth_days"`
	ChannelDays       int       `yaml:"channel_days"`
	MinChannelSignups int       `yaml:"min_channel_signups"`
	Filter            Filter    `yaml:"-"`
}

// DefaultOptions mirrors the windows of the dashboard: plan revenue over 30
// days, channel performance over 90, growth over a year and recent activity
// over a week.
func DefaultOptions() Options {
	return Options{
		RetentionMonths:   []int{1, 3, 6},
		RevenueDays:       30,
		RecentDays:        7,
		GrowthDays:        365,
		ChannelDays:       90,
		MinChannelSignups: 5,
	}
}

// Report is every derivation computed over one snapshot.
type Report struct {
	AsOf     time.Time `json:"as_of"`
	Filter   Filter    `json:"filter"`
	Tables   []Table   `json:"tables"`
	Warnings []Warning `json:"warnings"`
}

// Table returns the table with the given name.
func (r *Report) Table(name string) (Table, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Fingerprint digests the report so two runs over the same snapshot can be
// compared cheaply.
func (r *Report) Fingerprint() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// lookback narrows the filter to the last n days before asOf unless the
// caller already bounded the window.
func (f Filter) lookback(asOf time.Time, n int) Filter {
	if f.Start != nil || f.End != nil || n <= 0 {
		return f
	}
	start := asOf.AddDate(0, 0, -n)
	end := asOf
	f.Start, f.End = &start, &end
	return f
}

// Overview is the headline row of the dashboard. With a plan filter, user
// counts only cover users who held that plan.
func Overview(ds *model.Dataset, asOf time.Time, f Filter) Table {
	out := newTable("overview")
	var active, paid, total int
	for i := range ds.Users {
		u := &ds.Users[i]
		if !f.userMatches(ds, u) {
			continue
		}
		total++
		if u.Status == model.UserActive {
			active++
		}
		if paying(ds, u, f) {
			paid++
		}
	}
	out.set("active_users", count(active))
	out.set("paid_subscribers", count(paid))
	out.set("total_users", count(total))
	out.set("mrr", MRR(ds, asOf, f))
	out.set("arr", ARR(ds, asOf, f))
	out.Rows["conversion_rate"] = ConversionRate(ds, f)
	return out
}

// RecentActivity counts what happened in the last n days before asOf.
func RecentActivity(ds *model.Dataset, asOf time.Time, n int) Table {
	out := newTable("recent_activity")
	from := asOf.AddDate(0, 0, -n)
	w := Filter{Start: &from, End: &asOf}

	var signups, subs, cancels, projects, tasks int
	for i := range ds.Users {
		if w.In(ds.Users[i].CreatedAt) {
			signups++
		}
	}
	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		if !ds.PlanOf(s).Paid() {
			continue
		}
		if w.In(s.StartedAt) {
			subs++
		}
		if s.CancelledAt != nil && w.In(*s.CancelledAt) {
			cancels++
		}
	}
	for i := range ds.Projects {
		if w.In(ds.Projects[i].CreatedAt) {
			projects++
		}
	}
	for i := range ds.Tasks {
		if t := &ds.Tasks[i]; t.CompletedAt != nil && w.In(*t.CompletedAt) {
			tasks++
		}
	}
	out.set("new_signups", count(signups))
	out.set("new_paid_subscriptions", count(subs))
	out.set("cancellations", count(cancels))
	out.set("projects_created", count(projects))
	out.set("tasks_completed", count(tasks))
	return out
}

// Compute derives every report over the dataset. It only reads ds and may
// run concurrently with other readers of the same snapshot.
func Compute(ds *model.Dataset, opts Options) *Report {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = horizon(ds)
	}
	f := opts.Filter

	r := &Report{AsOf: asOf, Filter: f}
	add := func(ts ...Table) { r.Tables = append(r.Tables, ts...) }

	add(Overview(ds, asOf, f))
	add(MRRByPlan(ds, asOf, f), MRRByCountry(ds, asOf, f))

	scalars := newTable("totals")
	scalars.set("mrr", MRR(ds, asOf, f))
	scalars.set("arr", ARR(ds, asOf, f))
	scalars.set("revenue", TotalRevenue(ds, f))
	scalars.Rows["conversion_rate"] = ConversionRate(ds, f)
	add(scalars)

	add(MRRByMonth(ds, f), CumulativeRevenue(ds, f), ActiveSubscriptionsByMonth(ds, f))
	add(ConversionByChannel(ds, f), TimeToUpgrade(ds, f))
	for _, k := range opts.RetentionMonths {
		t := CohortRetention(ds, k, f)
		t.Name = t.Name + "_" + monthsLabel(k)
		add(t)
	}
	add(ChurnRate(ds, f), ARPU(ds, f), LTV(ds, f))
	add(FunnelCounts(ds, f), FunnelConversion(ds, f))

	recent := f.lookback(asOf, opts.RevenueDays)
	add(PlanRevenue(ds, recent), PlanTransactions(ds, recent))

	signups, activated, rate := UserGrowth(ds, f.lookback(asOf, opts.GrowthDays))
	add(signups, activated, rate)

	chSignups, chPaid, chRate := ChannelPerformance(ds, f.lookback(asOf, opts.ChannelDays), opts.MinChannelSignups)
	add(chSignups, chPaid, chRate)

	add(RecentActivity(ds, asOf, opts.RecentDays))

	sort.Slice(r.Tables, func(i, j int) bool { return r.Tables[i].Name < r.Tables[j].Name })
	r.Warnings = FunnelOrderWarnings(ds)
	return r
}

func monthsLabel(k int) string {
	return strconv.Itoa(k) + "m"
}

// Names lists the derivations a caller can request one at a time.
var Names = []string{
	"overview", "mrr", "arr", "mrr_by_plan", "mrr_by_country", "mrr_by_month",
	"cumulative_revenue", "active_subscriptions_by_month", "conversion_rate",
	"conversion_by_channel", "upgrade_delay_days", "time_to_upgrade_days",
	"cohort_retention", "churn_rate", "arpu", "ltv", "funnel_users",
	"funnel_conversion", "plan_revenue", "plan_transactions", "user_growth",
	"channel_performance", "recent_activity",
}

// Query selects a single derivation by name.
type Query struct {
	Name       string
	At         time.Time
	Filter     Filter
	K          int
	Days       int
	MinSignups int
}

// Run evaluates one named derivation. Unknown names report false.
func Run(ds *model.Dataset, q Query) ([]Table, bool) {
	at := q.At
	if at.IsZero() {
		at = horizon(ds)
	}
	single := func(name string, v decimal.NullDecimal) []Table {
		t := newTable(name)
		t.Rows[name] = v
		return []Table{t}
	}

	switch q.Name {
	case "overview":
		return []Table{Overview(ds, at, q.Filter)}, true
	case "mrr":
		return single("mrr", decimal.NewNullDecimal(MRR(ds, at, q.Filter))), true
	case "arr":
		return single("arr", decimal.NewNullDecimal(ARR(ds, at, q.Filter))), true
	case "mrr_by_plan":
		return []Table{MRRByPlan(ds, at, q.Filter)}, true
	case "mrr_by_country":
		return []Table{MRRByCountry(ds, at, q.Filter)}, true
	case "mrr_by_month":
		return []Table{MRRByMonth(ds, q.Filter)}, true
	case "cumulative_revenue":
		return []Table{CumulativeRevenue(ds, q.Filter)}, true
	case "active_subscriptions_by_month":
		return []Table{ActiveSubscriptionsByMonth(ds, q.Filter)}, true
	case "conversion_rate":
		return single("conversion_rate", ConversionRate(ds, q.Filter)), true
	case "conversion_by_channel":
		return []Table{ConversionByChannel(ds, q.Filter)}, true
	case "upgrade_delay_days":
		return []Table{UpgradeDelays(ds, q.Filter)}, true
	case "time_to_upgrade_days":
		return []Table{TimeToUpgrade(ds, q.Filter)}, true
	case "cohort_retention":
		return []Table{CohortRetention(ds, q.K, q.Filter)}, true
	case "churn_rate":
		return []Table{ChurnRate(ds, q.Filter)}, true
	case "arpu":
		return []Table{ARPU(ds, q.Filter)}, true
	case "ltv":
		return []Table{LTV(ds, q.Filter)}, true
	case "funnel_users":
		return []Table{FunnelCounts(ds, q.Filter)}, true
	case "funnel_conversion":
		return []Table{FunnelConversion(ds, q.Filter)}, true
	case "plan_revenue":
		return []Table{PlanRevenue(ds, q.Filter)}, true
	case "plan_transactions":
		return []Table{PlanTransactions(ds, q.Filter)}, true
	case "user_growth":
		a, b, c := UserGrowth(ds, q.Filter)
		return []Table{a, b, c}, true
	case "channel_performance":
		a, b, c := ChannelPerformance(ds, q.Filter, q.MinSignups)
		return []Table{a, b, c}, true
	case "recent_activity":
		days := q.Days
		if days <= 0 {
			days = 7
		}
		return []Table{RecentActivity(ds, at, days)}, true
	}
	return nil, false
}
