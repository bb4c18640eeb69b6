package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saas-analytics/internal/generator"
	"saas-analytics/internal/model"
)

var (
	t0      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func ptr(t time.Time) *time.Time { return &t }

func generated(t *testing.T, users int) *model.Dataset {
	t.Helper()
	cfg := generator.DefaultConfig()
	cfg.Users = users
	cfg.Now = testNow
	ds, err := generator.Generate(cfg, generator.NewSource(0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return ds
}

func user(created time.Time) model.User {
	return model.User{
		ID:            uuid.New(),
		Email:         uuid.NewString() + "@example.com",
		CreatedAt:     created,
		Status:        model.UserActive,
		SignupChannel: model.ChannelOrganic,
		CountryCode:   "US",
	}
}

func TestEmptyDataset(t *testing.T) {
	ds := (&model.Dataset{Plans: model.SeedPlans()}).Index()

	if got := MRR(ds, testNow, Filter{}); !got.IsZero() {
		t.Fatalf("expected zero MRR, got %s", got)
	}
	if got := ConversionRate(ds, Filter{}); got.Valid {
		t.Fatalf("expected undefined conversion, got %s", got.Decimal)
	}
	if got := MRRByMonth(ds, Filter{}); len(got.Rows) != 0 {
		t.Fatalf("expected no months, got %v", got.Keys())
	}
	for _, k := range []string{"basic", "premium"} {
		if ChurnRate(ds, Filter{}).Get(k).Valid {
			t.Fatalf("expected undefined churn for %s", k)
		}
	}
	if got := FunnelConversion(ds, Filter{}).Get(StagePairKey(model.StageSignup, model.StageEmailVerified)); got.Valid {
		t.Fatal("expected undefined funnel conversion with no signups")
	}

	r := Compute(ds, DefaultOptions())
	if _, err := r.Fingerprint(); err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
}

func TestSingleFreeUser(t *testing.T) {
	u := user(t0)
	ds := (&model.Dataset{
		Users: []model.User{u},
		Plans: model.SeedPlans(),
		Subscriptions: []model.Subscription{{
			ID: uuid.New(), UserID: u.ID, PlanID: 1, Status: model.SubscriptionActive,
			BillingCycle: model.BillingMonthly, StartedAt: t0, MRR: decimal.Zero, CreatedAt: t0,
		}},
	}).Index()

	conv := ConversionRate(ds, Filter{})
	if !conv.Valid || !conv.Decimal.IsZero() {
		t.Fatalf("expected conversion 0 with the user in the denominator, got %v", conv)
	}
	if delays := UpgradeDelays(ds, Filter{}); len(delays.Rows) != 0 {
		t.Fatalf("expected no upgrade delay rows, got %v", delays.Rows)
	}
	if got := TimeToUpgrade(ds, Filter{}).Get("all"); got.Valid {
		t.Fatalf("expected undefined time to upgrade, got %s", got.Decimal)
	}
}

func TestThreeMonthsOfBasic(t *testing.T) {
	u := user(t0)
	end := t0.AddDate(0, 3, 0)
	sub := model.Subscription{
		ID: uuid.New(), UserID: u.ID, PlanID: 2, Status: model.SubscriptionExpired,
		BillingCycle: model.BillingMonthly, StartedAt: t0, EndedAt: &end,
		MRR: decimal.RequireFromString("9.99"), CreatedAt: t0,
	}
	ds := &model.Dataset{Users: []model.User{u}, Plans: model.SeedPlans(), Subscriptions: []model.Subscription{sub}}
	for _, at := range generator.BillingSchedule(&sub, testNow) {
		ds.RevenueEvents = append(ds.RevenueEvents, model.RevenueEvent{
			ID: uuid.New(), UserID: u.ID, SubscriptionID: sub.ID, Amount: sub.MRR,
			EventType: model.RevenuePayment, OccurredAt: at,
		})
	}
	ds.Index()

	want := decimal.RequireFromString("29.97")
	if got := TotalRevenue(ds, Filter{}); !got.Equal(want) {
		t.Fatalf("expected total revenue %s, got %s", want, got)
	}
	cum := CumulativeRevenue(ds, Filter{})
	keys := cum.Keys()
	if last := cum.Get(keys[len(keys)-1]); !last.Decimal.Equal(want) {
		t.Fatalf("expected cumulative revenue %s, got %s", want, last.Decimal)
	}

	for _, at := range []time.Time{t0, t0.AddDate(0, 1, 3), end.Add(-time.Second)} {
		if got := MRR(ds, at, Filter{}); !got.Equal(sub.MRR) {
			t.Fatalf("expected MRR 9.99 at %s, got %s", at, got)
		}
	}
	if got := MRR(ds, end, Filter{}); !got.IsZero() {
		t.Fatalf("expected MRR 0 once the span ends, got %s", got)
	}

	// Three payments one month apart: 29.97 over ~92 days, scaled to 30.
	ltv := LTV(ds, Filter{}).Get("basic")
	if !ltv.Valid || ltv.Decimal.LessThan(decimal.RequireFromString("9.99")) {
		t.Fatalf("expected a defined LTV above one month of revenue, got %v", ltv)
	}
	if arpu := ARPU(ds, Filter{}).Get("basic"); !arpu.Decimal.Equal(want) {
		t.Fatalf("expected ARPU %s, got %s", want, arpu.Decimal)
	}
	if ARPU(ds, Filter{}).Get("premium").Valid {
		t.Fatal("expected undefined ARPU for a plan nobody paid for")
	}
}

func TestLTVExcludesSinglePayment(t *testing.T) {
	u := user(t0)
	sub := model.Subscription{
		ID: uuid.New(), UserID: u.ID, PlanID: 3, Status: model.SubscriptionActive,
		BillingCycle: model.BillingMonthly, StartedAt: t0, MRR: decimal.RequireFromString("29.99"), CreatedAt: t0,
	}
	ds := (&model.Dataset{
		Users: []model.User{u}, Plans: model.SeedPlans(), Subscriptions: []model.Subscription{sub},
		RevenueEvents: []model.RevenueEvent{{
			ID: uuid.New(), UserID: u.ID, SubscriptionID: sub.ID, Amount: sub.MRR,
			EventType: model.RevenuePayment, OccurredAt: t0,
		}},
	}).Index()

	if got := LTV(ds, Filter{}).Get("all"); got.Valid {
		t.Fatalf("expected undefined LTV, got %s", got.Decimal)
	}
}

func TestOverlappingRowsUseLatestStart(t *testing.T) {
	u := user(t0)
	plans := model.SeedPlans()
	ds := (&model.Dataset{
		Users: []model.User{u},
		Plans: plans,
		Subscriptions: []model.Subscription{
			{ID: uuid.New(), UserID: u.ID, PlanID: 3, Status: model.SubscriptionActive, BillingCycle: model.BillingMonthly, StartedAt: t0.AddDate(0, 1, 0), MRR: plans[2].PriceMonthly, CreatedAt: t0},
			{ID: uuid.New(), UserID: u.ID, PlanID: 2, Status: model.SubscriptionActive, BillingCycle: model.BillingMonthly, StartedAt: t0, MRR: plans[1].PriceMonthly, CreatedAt: t0},
		},
	}).Index()

	at := t0.AddDate(0, 2, 0)
	if got := MRR(ds, at, Filter{}); !got.Equal(plans[2].PriceMonthly) {
		t.Fatalf("expected only the latest row to count, got %s", got)
	}
	byPlan := MRRByPlan(ds, at, Filter{})
	if !byPlan.Get("basic").Decimal.IsZero() {
		t.Fatalf("expected superseded basic row to contribute nothing, got %s", byPlan.Get("basic").Decimal)
	}
}

func TestMRRMatchesARR(t *testing.T) {
	ds := generated(t, 300)
	twelve := decimal.NewFromInt(12)
	for at := testNow.AddDate(0, -12, 0); at.Before(testNow); at = at.AddDate(0, 0, 10) {
		mrr := MRR(ds, at, Filter{})
		arr := ARR(ds, at, Filter{})
		if !mrr.Equal(arr.Div(twelve)) {
			t.Fatalf("at %s: MRR %s differs from ARR/12 %s", at, mrr, arr.Div(twelve))
		}
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	ds := generated(t, 300)
	opts := DefaultOptions()
	opts.AsOf = testNow

	first, err := Compute(ds, opts).Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	var wg sync.WaitGroup
	got := make([]string, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = Compute(ds, opts).Fingerprint()
		}(i)
	}
	wg.Wait()
	for i, fp := range got {
		if fp != first {
			t.Fatalf("run %d: fingerprint %s differs from %s", i, fp, first)
		}
	}
}

func TestDefaultScenario(t *testing.T) {
	ds := generated(t, 1000)

	conv := ConversionRate(ds, Filter{})
	lo, hi := decimal.RequireFromString("0.10"), decimal.RequireFromString("0.20")
	if !conv.Valid || conv.Decimal.LessThan(lo) || conv.Decimal.GreaterThan(hi) {
		t.Fatalf("expected conversion within [0.10, 0.20], got %v", conv)
	}

	active := ActiveSubscriptionsByMonth(ds, Filter{})
	keys := active.Keys()
	if len(keys) < 3 {
		t.Fatalf("expected at least three months, got %v", keys)
	}
	for i := 1; i < 3; i++ {
		prev, cur := active.Get(keys[i-1]).Decimal, active.Get(keys[i]).Decimal
		if cur.LessThan(prev) {
			t.Fatalf("active subscriptions fell from %s to %s in %s", prev, cur, keys[i])
		}
	}

	if w := FunnelOrderWarnings(ds); len(w) != 0 {
		t.Fatalf("expected generated funnel in order, got %v", w[0])
	}
}

func TestFunnelOrderWarnings(t *testing.T) {
	u := user(t0)
	ds := (&model.Dataset{
		Users: []model.User{u},
		Plans: model.SeedPlans(),
		FunnelEvents: []model.FunnelEvent{
			{ID: uuid.New(), UserID: u.ID, EventName: model.StageSignup, OccurredAt: t0},
			{ID: uuid.New(), UserID: u.ID, EventName: model.StageOnboardingCompleted, OccurredAt: t0.Add(2 * time.Hour)},
			{ID: uuid.New(), UserID: u.ID, EventName: model.StageFirstProject, OccurredAt: t0.Add(time.Hour)},
		},
	}).Index()

	w := FunnelOrderWarnings(ds)
	if len(w) != 1 || w[0].Kind != WarningFunnelOrder {
		t.Fatalf("expected one ordering warning, got %v", w)
	}

	conv := FunnelConversion(ds, Filter{})
	if got := conv.Get(StagePairKey(model.StageSignup, model.StageEmailVerified)); !got.Valid || !got.Decimal.IsZero() {
		t.Fatalf("expected 0 conversion to email_verified, got %v", got)
	}
	if got := conv.Get(StagePairKey(model.StageEmailVerified, model.StageOnboardingCompleted)); got.Valid {
		t.Fatal("expected undefined conversion from an unreached stage")
	}
}

func TestCohortRetention(t *testing.T) {
	a, b := user(t0), user(t0.AddDate(0, 0, 3))
	a.LastLoginAt = ptr(t0.AddDate(0, 2, 0))
	b.LastLoginAt = ptr(t0.AddDate(0, 0, 5))
	late := user(t0.AddDate(0, 2, 0))
	late.LastLoginAt = ptr(late.CreatedAt)
	ds := (&model.Dataset{Users: []model.User{a, b, late}, Plans: model.SeedPlans()}).Index()

	ret := CohortRetention(ds, 1, Filter{})
	if got := ret.Get("2024-03"); !got.Decimal.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected half the March cohort retained, got %v", got)
	}
	if ret.Get("2024-04").Valid {
		t.Fatal("expected an empty cohort to be undefined")
	}
	if got := ret.Get("2024-05"); !got.Valid || !got.Decimal.IsZero() {
		t.Fatalf("expected May cohort at 0, got %v", got)
	}
}

func TestRunKnowsEveryName(t *testing.T) {
	ds := generated(t, 50)
	for _, name := range Names {
		if _, ok := Run(ds, Query{Name: name, At: testNow, K: 1}); !ok {
			t.Errorf("derivation %s is not runnable", name)
		}
	}
	if _, ok := Run(ds, Query{Name: "nope"}); ok {
		t.Error("unknown derivation reported runnable")
	}
}

func payment(s *model.Subscription, at time.Time) model.RevenueEvent {
	return model.RevenueEvent{
		ID: uuid.New(), UserID: s.UserID, SubscriptionID: s.ID, Amount: s.MRR,
		EventType: model.RevenuePayment, OccurredAt: at,
	}
}

func TestLTVCountsEachPayerOnce(t *testing.T) {
	u := user(t0)
	switched := t0.AddDate(0, 2, 0)
	basic := model.Subscription{
		ID: uuid.New(), UserID: u.ID, PlanID: 2, Status: model.SubscriptionExpired,
		BillingCycle: model.BillingMonthly, StartedAt: t0, EndedAt: &switched,
		MRR: decimal.RequireFromString("9.99"), CreatedAt: t0,
	}
	premium := model.Subscription{
		ID: uuid.New(), UserID: u.ID, PlanID: 3, Status: model.SubscriptionActive,
		BillingCycle: model.BillingMonthly, StartedAt: switched,
		MRR: decimal.RequireFromString("29.99"), CreatedAt: switched,
	}
	last := t0.AddDate(0, 3, 0)
	ds := (&model.Dataset{
		Users: []model.User{u}, Plans: model.SeedPlans(), Subscriptions: []model.Subscription{basic, premium},
		RevenueEvents: []model.RevenueEvent{
			payment(&basic, t0),
			payment(&basic, t0.AddDate(0, 1, 0)),
			payment(&premium, switched),
			payment(&premium, last),
		},
	}).Index()

	ltv := LTV(ds, Filter{})
	thirty := decimal.NewFromInt(30)
	want := decimal.RequireFromString("79.96").Div(days(last.Sub(t0))).Mul(thirty)
	if got := ltv.Get("all"); !got.Valid || !got.Decimal.Equal(want) {
		t.Fatalf("expected all-plans LTV %s, got %v", want, got)
	}
	if got := ltv.Get("all").Decimal.StringFixed(2); got != "26.07" {
		t.Fatalf("expected all-plans LTV 26.07, got %s", got)
	}
	wantBasic := decimal.RequireFromString("19.98").Div(days(t0.AddDate(0, 1, 0).Sub(t0))).Mul(thirty)
	if got := ltv.Get("basic"); !got.Valid || !got.Decimal.Equal(wantBasic) {
		t.Fatalf("expected basic LTV %s, got %v", wantBasic, got)
	}
	wantPremium := decimal.RequireFromString("59.98").Div(days(last.Sub(switched))).Mul(thirty)
	if got := ltv.Get("premium"); !got.Valid || !got.Decimal.Equal(wantPremium) {
		t.Fatalf("expected premium LTV %s, got %v", wantPremium, got)
	}
}

// churnFixture has one cancelled and one active basic subscriber, two
// premium payers and a cancelled free user.
func churnFixture() (*model.Dataset, time.Time) {
	plans := model.SeedPlans()
	cancelled := t0.AddDate(0, 2, 0)
	var users []model.User
	var subs []model.Subscription
	add := func(planID int, status model.SubscriptionStatus, end *time.Time) {
		u := user(t0)
		users = append(users, u)
		subs = append(subs, model.Subscription{
			ID: uuid.New(), UserID: u.ID, PlanID: planID, Status: status,
			BillingCycle: model.BillingMonthly, StartedAt: t0, EndedAt: end, CancelledAt: end,
			MRR: plans[planID-1].PriceMonthly, CreatedAt: t0,
		})
	}
	add(2, model.SubscriptionCancelled, &cancelled)
	add(2, model.SubscriptionActive, nil)
	add(3, model.SubscriptionActive, nil)
	add(3, model.SubscriptionActive, nil)
	add(1, model.SubscriptionCancelled, &cancelled)

	ds := &model.Dataset{Users: users, Plans: plans, Subscriptions: subs}
	// The first premium payer pays twice, the second once.
	ds.RevenueEvents = []model.RevenueEvent{
		payment(&subs[2], t0),
		payment(&subs[2], t0.AddDate(0, 1, 0)),
		payment(&subs[3], t0),
	}
	return ds.Index(), cancelled
}

func TestChurnRateByPlan(t *testing.T) {
	ds, cancelled := churnFixture()
	half := decimal.RequireFromString("0.5")

	churn := ChurnRate(ds, Filter{})
	if got := churn.Get("basic"); !got.Valid || !got.Decimal.Equal(half) {
		t.Fatalf("expected basic churn 0.5, got %v", got)
	}
	if got := churn.Get("premium"); !got.Valid || !got.Decimal.IsZero() {
		t.Fatalf("expected premium churn 0, got %v", got)
	}
	if _, ok := churn.Rows["free"]; ok {
		t.Fatal("expected the free plan to be left out of churn")
	}

	tests := []struct {
		name       string
		start, end time.Time
		basic      string
	}{
		{"cancellation inside window", t0.AddDate(0, 1, 0), t0.AddDate(0, 3, 0), "0.5"},
		{"cancellation after window", t0, t0.AddDate(0, 1, 0), "0"},
		// The cancelled row ended before the window and drops out entirely.
		{"window after cancellation", cancelled.AddDate(0, 1, 0), cancelled.AddDate(0, 2, 0), "0"},
		// End is exclusive.
		{"window ending at cancellation", t0, cancelled, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChurnRate(ds, Filter{Start: ptr(tt.start), End: ptr(tt.end)}).Get("basic")
			if !got.Valid || !got.Decimal.Equal(decimal.RequireFromString(tt.basic)) {
				t.Fatalf("expected basic churn %s, got %v", tt.basic, got)
			}
		})
	}
}

func TestARPUDividesByDistinctPayers(t *testing.T) {
	ds, _ := churnFixture()
	price := model.SeedPlans()[2].PriceMonthly

	arpu := ARPU(ds, Filter{})
	want := price.Mul(decimal.NewFromInt(3)).Div(decimal.NewFromInt(2))
	if got := arpu.Get("premium"); !got.Valid || !got.Decimal.Equal(want) {
		t.Fatalf("expected premium ARPU %s over two payers, got %v", want, got)
	}
	if got := arpu.Get("basic"); got.Valid {
		t.Fatalf("expected undefined basic ARPU without payments, got %s", got.Decimal)
	}
	if _, ok := arpu.Rows["free"]; ok {
		t.Fatal("expected the free plan to be left out of ARPU")
	}
}

func TestOverviewHonoursPlanFilter(t *testing.T) {
	ds, _ := churnFixture()
	ds.Users[3].Status = model.UserInactive

	all := Overview(ds, testNow, Filter{})
	premium := Overview(ds, testNow, Filter{Plan: model.PlanPremium})
	for _, tt := range []struct {
		plan  string
		table Table
		key   string
		want  int64
	}{
		{"", all, "total_users", 5},
		{"", all, "active_users", 4},
		{"", all, "paid_subscribers", 3},
		{"premium", premium, "total_users", 2},
		{"premium", premium, "active_users", 1},
		{"premium", premium, "paid_subscribers", 2},
	} {
		if got := tt.table.Get(tt.key); !got.Valid || !got.Decimal.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("%s with plan %q: expected %d, got %v", tt.key, tt.plan, tt.want, got)
		}
	}
}
