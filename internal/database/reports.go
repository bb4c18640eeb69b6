package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
)

// The queries below answer the headline questions directly in Postgres.
// They read the same rows the in-memory derivations do and apply the same
// rules, so the two can be cross-checked.

// MRRAt sums the monthly equivalent of each user's authoritative
// subscription at t. Overlapping rows resolve to the latest start.
func (ps *PostgresStore) MRRAt(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(monthly_mrr(s.billing_cycle, s.mrr)), 0)::text
		FROM (
			SELECT DISTINCT ON (user_id) billing_cycle, mrr
			FROM subscriptions
			WHERE status <> 'paused'
				AND started_at <= $1
				AND COALESCE(ended_at, cancelled_at, 'infinity') > $1
			ORDER BY user_id, started_at DESC, created_at DESC, id DESC
		) s`

	var total string
	if err := ps.pool.QueryRow(ctx, query, t).Scan(&total); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to compute mrr: %w", err)
	}
	return decimal.NewFromString(total)
}

// ConversionRate is subscribed users holding an active paid subscription
// over all subscribed users. No subscribers gives an invalid result.
func (ps *PostgresStore) ConversionRate(ctx context.Context) (decimal.NullDecimal, error) {
	const query = `
		SELECT (
			COUNT(DISTINCT s.user_id) FILTER (WHERE s.status = 'active' AND p.name <> 'free')::numeric
			/ NULLIF(COUNT(DISTINCT s.user_id), 0)
		)::text
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id`

	var rate *string
	if err := ps.pool.QueryRow(ctx, query).Scan(&rate); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to compute conversion rate: %w", err)
	}
	if rate == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*rate)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// ChurnByPlan is cancelled over all subscriptions for every paid plan.
func (ps *PostgresStore) ChurnByPlan(ctx context.Context) (map[string]decimal.NullDecimal, error) {
	const query = `
		SELECT p.name, (
			COUNT(s.id) FILTER (WHERE s.status = 'cancelled')::numeric / NULLIF(COUNT(s.id), 0)
		)::text
		FROM plans p
		LEFT JOIN subscriptions s ON s.plan_id = p.id
		WHERE p.name <> 'free'
		GROUP BY p.name`

	return ps.keyedRates(ctx, query)
}

// PlanRevenue sums payments per plan since the given instant.
func (ps *PostgresStore) PlanRevenue(ctx context.Context, since time.Time) (map[string]decimal.NullDecimal, error) {
	const query = `
		SELECT p.name, SUM(r.amount)::text
		FROM revenue_events r
		JOIN subscriptions s ON s.id = r.subscription_id
		JOIN plans p ON p.id = s.plan_id
		WHERE r.event_type = 'payment' AND r.occurred_at >= $1
		GROUP BY p.name`

	return ps.keyedRates(ctx, query, since)
}

func (ps *PostgresStore) keyedRates(ctx context.Context, query string, args ...any) (map[string]decimal.NullDecimal, error) {
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run report: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.NullDecimal)
	for rows.Next() {
		var key string
		var value *string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		if value == nil {
			out[key] = decimal.NullDecimal{}
			continue
		}
		d, err := decimal.NewFromString(*value)
		if err != nil {
			return nil, err
		}
		out[key] = decimal.NewNullDecimal(d)
	}
	return out, rows.Err()
}

// ReportSet holds the SQL answers to the headline questions at one instant.
type ReportSet struct {
	At         time.Time
	Since      time.Time
	MRR        decimal.Decimal
	Conversion decimal.NullDecimal
	Churn      map[string]decimal.NullDecimal
	Revenue    map[string]decimal.NullDecimal
}

// Reports runs every SQL report: MRR at at, payments per plan since since,
// and the all-time conversion and churn rates.
func (ps *PostgresStore) Reports(ctx context.Context, at, since time.Time) (*ReportSet, error) {
	r := &ReportSet{At: at, Since: since}
	var err error
	if r.MRR, err = ps.MRRAt(ctx, at); err != nil {
		return nil, err
	}
	if r.Conversion, err = ps.ConversionRate(ctx); err != nil {
		return nil, err
	}
	if r.Churn, err = ps.ChurnByPlan(ctx); err != nil {
		return nil, err
	}
	if r.Revenue, err = ps.PlanRevenue(ctx, since); err != nil {
		return nil, err
	}
	return r, nil
}

// tolerance absorbs the different division precision of Postgres numeric
// and decimal.
var tolerance = decimal.New(1, -9)

func agree(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Sub(b.Decimal).Abs().LessThanOrEqual(tolerance)
}

// Mismatches compares the SQL answers with the in-memory derivations over
// ds and describes every disagreement. An empty result means they agree.
func (r *ReportSet) Mismatches(ds *model.Dataset) []string {
	var out []string
	if want := metrics.MRR(ds, r.At, metrics.Filter{}); !agree(decimal.NewNullDecimal(r.MRR), decimal.NewNullDecimal(want)) {
		out = append(out, fmt.Sprintf("mrr at %s: sql %s, derived %s", r.At.Format(time.RFC3339), r.MRR, want))
	}
	if want := metrics.ConversionRate(ds, metrics.Filter{}); !agree(r.Conversion, want) {
		out = append(out, fmt.Sprintf("conversion_rate: sql %s, derived %s", show(r.Conversion), show(want)))
	}
	out = append(out, compareKeyed("churn_rate", r.Churn, metrics.ChurnRate(ds, metrics.Filter{}))...)
	since := r.Since
	out = append(out, compareKeyed("plan_revenue", r.Revenue, metrics.PlanRevenue(ds, metrics.Filter{Start: &since}))...)
	return out
}

func compareKeyed(name string, sql map[string]decimal.NullDecimal, derived metrics.Table) []string {
	keys := make(map[string]bool)
	for k := range sql {
		keys[k] = true
	}
	for k := range derived.Rows {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var out []string
	for _, k := range sorted {
		if got, want := sql[k], derived.Get(k); !agree(got, want) {
			out = append(out, fmt.Sprintf("%s[%s]: sql %s, derived %s", name, k, show(got), show(want)))
		}
	}
	return out
}

func show(v decimal.NullDecimal) string {
	if !v.Valid {
		return "undefined"
	}
	return v.Decimal.String()
}
