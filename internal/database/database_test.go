package database

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saas-analytics/internal/generator"
	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
)

var (
	now            = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	decimalEpsilon = decimal.New(1, -12)
)

func testDataset(t *testing.T) *model.Dataset {
	t.Helper()
	cfg := generator.DefaultConfig()
	cfg.Users = 150
	cfg.Months = 6
	cfg.Seed = 7
	cfg.Now = now
	ds, err := generator.FromSeed(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return ds
}

func connect(t *testing.T, kind, env string) Store {
	t.Helper()
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	store, err := NewStore(kind)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", kind, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Connect(ctx, dsn); err != nil {
		t.Skipf("%s unreachable: %v", kind, err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		t.Skipf("%s unreachable: %v", kind, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func fingerprint(t *testing.T, ds *model.Dataset) string {
	t.Helper()
	opts := metrics.DefaultOptions()
	opts.AsOf = now
	fp, err := metrics.Compute(ds, opts).Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return fp
}

func roundTrip(t *testing.T, store Store) *model.Dataset {
	t.Helper()
	ctx := context.Background()
	ds := testDataset(t)

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := store.Load(ctx, ds); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if len(got.Users) != len(ds.Users) || len(got.Subscriptions) != len(ds.Subscriptions) ||
		len(got.RevenueEvents) != len(ds.RevenueEvents) || len(got.FunnelEvents) != len(ds.FunnelEvents) {
		t.Fatalf("row counts differ: users %d/%d, subscriptions %d/%d, revenue %d/%d, funnel %d/%d",
			len(got.Users), len(ds.Users), len(got.Subscriptions), len(ds.Subscriptions),
			len(got.RevenueEvents), len(ds.RevenueEvents), len(got.FunnelEvents), len(ds.FunnelEvents))
	}
	if v := model.Validate(got); len(v) > 0 {
		t.Fatalf("snapshot violates invariants: %v", v[0])
	}
	if want, have := fingerprint(t, ds), fingerprint(t, got); want != have {
		t.Errorf("report over snapshot differs from report over generated data")
	}
	return ds
}

func TestNewStoreRejectsUnknownKind(t *testing.T) {
	_, err := NewStore("sqlite")
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
	for _, kind := range Kinds {
		if _, err := NewStore(kind); err != nil {
			t.Errorf("NewStore(%q): %v", kind, err)
		}
	}
}

func TestChunks(t *testing.T) {
	var spans [][2]int
	err := chunks(2*batchSize+1, func(lo, hi int) error {
		spans = append(spans, [2]int{lo, hi})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]int{{0, batchSize}, {batchSize, 2 * batchSize}, {2 * batchSize, 2*batchSize + 1}}
	if len(spans) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(spans))
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("chunk %d: expected %v, got %v", i, want[i], spans[i])
		}
	}

	calls := 0
	chunks(0, func(lo, hi int) error { calls++; return nil })
	if calls != 0 {
		t.Errorf("expected no chunks for zero rows, got %d", calls)
	}
}

func TestDecimal128RoundTrip(t *testing.T) {
	for _, s := range []string{"0", "9.99", "299.99", "-20.00", "0.83"} {
		d, err := amount(s)
		if err != nil {
			t.Fatal(err)
		}
		enc, err := toDecimal128(d)
		if err != nil {
			t.Fatalf("toDecimal128(%s): %v", s, err)
		}
		back, err := fromDecimal128(enc)
		if err != nil {
			t.Fatalf("fromDecimal128(%s): %v", s, err)
		}
		if !back.Equal(d) {
			t.Errorf("expected %s, got %s", d, back)
		}
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	store := connect(t, "postgres", "TEST_POSTGRES_DSN")
	roundTrip(t, store)
}

func TestPostgresReportsMatchDerivations(t *testing.T) {
	store := connect(t, "postgres", "TEST_POSTGRES_DSN")
	ds := roundTrip(t, store)
	pg := store.(*PostgresStore)
	ctx := context.Background()

	for _, at := range []time.Time{now.AddDate(0, -3, 0), now.Add(-time.Hour)} {
		got, err := pg.MRRAt(ctx, at)
		if err != nil {
			t.Fatal(err)
		}
		if want := metrics.MRR(ds, at, metrics.Filter{}); !got.Sub(want).Abs().LessThan(decimalEpsilon) {
			t.Errorf("MRR at %s: sql %s, derived %s", at, got, want)
		}
	}

	rate, err := pg.ConversionRate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := metrics.ConversionRate(ds, metrics.Filter{})
	if rate.Valid != want.Valid || !rate.Decimal.Sub(want.Decimal).Abs().LessThan(decimalEpsilon) {
		t.Errorf("conversion: sql %v, derived %v", rate, want)
	}

	since := now.AddDate(0, 0, -30)
	revenue, err := pg.PlanRevenue(ctx, since)
	if err != nil {
		t.Fatal(err)
	}
	for plan, v := range revenue {
		sum := decimal.Zero
		for i := range ds.RevenueEvents {
			e := &ds.RevenueEvents[i]
			s, _ := ds.Subscription(e.SubscriptionID)
			if e.EventType == model.RevenuePayment && !e.OccurredAt.Before(since) && string(ds.PlanOf(s)) == plan {
				sum = sum.Add(e.Amount)
			}
		}
		if !sum.Equal(v.Decimal) {
			t.Errorf("revenue for %s: sql %s, derived %s", plan, v.Decimal, sum)
		}
	}

	churn, err := pg.ChurnByPlan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	derived := metrics.ChurnRate(ds, metrics.Filter{})
	for _, plan := range []string{"basic", "premium"} {
		got, want := churn[plan], derived.Get(plan)
		if got.Valid != want.Valid || !got.Decimal.Sub(want.Decimal).Abs().LessThan(decimalEpsilon) {
			t.Errorf("churn for %s: sql %v, derived %v", plan, got, want)
		}
	}
	if _, ok := churn["free"]; ok {
		t.Error("expected the free plan to be left out of churn")
	}

	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		var monthly string
		err := pg.pool.QueryRow(ctx, `SELECT monthly_mrr($1::billing_cycle, $2::numeric)::text`, string(s.BillingCycle), s.MRR.String()).Scan(&monthly)
		if err != nil {
			t.Fatal(err)
		}
		got := decimal.RequireFromString(monthly)
		if want := model.MonthlyRecurringRevenue(s); !got.Sub(want).Abs().LessThan(decimalEpsilon) {
			t.Fatalf("monthly_mrr(%s, %s): sql %s, model %s", s.BillingCycle, s.MRR, got, want)
		}
	}

	reports, err := pg.Reports(ctx, now.Add(-time.Hour), since)
	if err != nil {
		t.Fatal(err)
	}
	if m := reports.Mismatches(ds); len(m) != 0 {
		t.Errorf("expected sql and derivations to agree, got %v", m)
	}
}

func TestReportSetMismatches(t *testing.T) {
	ds := testDataset(t)
	at := now.Add(-time.Hour)
	since := now.AddDate(0, 0, -30)
	agreeing := func() *ReportSet {
		r := &ReportSet{
			At:         at,
			Since:      since,
			MRR:        metrics.MRR(ds, at, metrics.Filter{}),
			Conversion: metrics.ConversionRate(ds, metrics.Filter{}),
			Churn:      metrics.ChurnRate(ds, metrics.Filter{}).Rows,
			Revenue:    make(map[string]decimal.NullDecimal),
		}
		for k, v := range metrics.PlanRevenue(ds, metrics.Filter{Start: &since}).Rows {
			r.Revenue[k] = v
		}
		return r
	}

	if m := agreeing().Mismatches(ds); len(m) != 0 {
		t.Fatalf("expected no mismatches, got %v", m)
	}

	tests := []struct {
		name   string
		mutate func(*ReportSet)
		prefix string
	}{
		{"mrr off by a cent", func(r *ReportSet) { r.MRR = r.MRR.Add(decimal.New(1, -2)) }, "mrr at"},
		{"conversion undefined", func(r *ReportSet) { r.Conversion = decimal.NullDecimal{} }, "conversion_rate"},
		{"churn differs", func(r *ReportSet) {
			r.Churn = map[string]decimal.NullDecimal{"basic": decimal.NewNullDecimal(decimal.NewFromInt(2)), "premium": r.Churn["premium"]}
		}, "churn_rate[basic]"},
		{"revenue for an unknown plan", func(r *ReportSet) {
			r.Revenue["enterprise"] = decimal.NewNullDecimal(decimal.NewFromInt(1))
		}, "plan_revenue[enterprise]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := agreeing()
			tt.mutate(r)
			m := r.Mismatches(ds)
			if len(m) != 1 || !strings.HasPrefix(m[0], tt.prefix) {
				t.Fatalf("expected one mismatch starting with %q, got %v", tt.prefix, m)
			}
		})
	}

	// Differences below the numeric precision gap are not mismatches.
	r := agreeing()
	r.MRR = r.MRR.Add(decimal.New(1, -14))
	if m := r.Mismatches(ds); len(m) != 0 {
		t.Fatalf("expected rounding noise to be tolerated, got %v", m)
	}
}

func TestMySQLRoundTrip(t *testing.T) {
	store := connect(t, "mysql", "TEST_MYSQL_DSN")
	roundTrip(t, store)
}

func TestMongoRoundTrip(t *testing.T) {
	store := connect(t, "mongo", "TEST_MONGO_URI")
	store.(*MongoStore).Database = "saas_analytics_test"
	roundTrip(t, store)
}
