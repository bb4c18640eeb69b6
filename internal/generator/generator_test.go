package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

var testNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(users int) Config {
	cfg := DefaultConfig()
	cfg.Users = users
	cfg.Now = testNow
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig(10).Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative users", func(c *Config) { c.Users = -1 }, "users"},
		{"zero months", func(c *Config) { c.Months = 0 }, "months"},
		{"missing now", func(c *Config) { c.Now = time.Time{} }, "now"},
		{"conversion above one", func(c *Config) { c.ConversionRate = 1.5 }, "conversion_rate"},
		{"nan churn", func(c *Config) { c.ChurnRate = math.NaN() }, "churn_rate"},
		{"tenure inverted", func(c *Config) { c.MaxTenureDays = c.MinTenureDays - 1 }, "max_tenure_days"},
		{"unknown channel", func(c *Config) { c.ChannelWeights["tv"] = 1 }, "channel_weights"},
		{"all zero status weights", func(c *Config) {
			c.StatusWeights = map[model.UserStatus]float64{model.UserActive: 0}
		}, "status_weights"},
		{"bad country", func(c *Config) { c.CountryWeights["USA"] = 1 }, "country_weights"},
		{"no projects allowed", func(c *Config) { c.MaxProjects = 0 }, "max_projects"},
		{"months beyond a century", func(c *Config) { c.Months = MaxMonths + 1 }, "months"},
		{"activation window too long", func(c *Config) { c.ActivationDays = MaxDays + 1 }, "activation_days"},
		{"upgrade window too long", func(c *Config) { c.UpgradeDays = MaxDays + 1 }, "upgrade_days"},
		{"min tenure too long", func(c *Config) { c.MinTenureDays = MaxDays + 1 }, "min_tenure_days"},
		{"max tenure too long", func(c *Config) { c.MaxTenureDays = 200000 }, "max_tenure_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(10)
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Fatalf("expected field %s, got %s (%v)", tt.field, cerr.Field, err)
			}
			if ds, err := Generate(cfg, NewSource(1)); ds != nil || err == nil {
				t.Fatal("Generate should fail without a dataset on invalid config")
			}
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := testConfig(-5)
	cfg.Months = 0
	cfg.RefundRate = -0.1

	err := cfg.Validate()
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected joined error, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", n, err)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	encode := func(seed int64) []byte {
		cfg := testConfig(200)
		cfg.Seed = seed
		ds, err := FromSeed(cfg)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		b, err := json.Marshal(ds)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}

	a, b := encode(7), encode(7)
	if !bytes.Equal(a, b) {
		t.Fatal("same seed produced different datasets")
	}
	if bytes.Equal(a, encode(8)) {
		t.Fatal("different seeds produced identical datasets")
	}
}

func TestGenerateZeroUsers(t *testing.T) {
	ds, err := Generate(testConfig(0), NewSource(0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(ds.Users) != 0 || len(ds.Subscriptions) != 0 || len(ds.RevenueEvents) != 0 {
		t.Fatalf("expected empty tables, got %d users %d subscriptions", len(ds.Users), len(ds.Subscriptions))
	}
	if len(ds.Plans) != 3 {
		t.Fatalf("expected plan reference data, got %d plans", len(ds.Plans))
	}
}

func TestGeneratedDatasetHoldsInvariants(t *testing.T) {
	ds, err := Generate(testConfig(1000), NewSource(0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if v := model.Validate(ds); len(v) != 0 {
		t.Fatalf("expected no violations, got %d: %v", len(v), v[0])
	}

	// Probe single-active at every week of the window.
	start := testNow.AddDate(0, -12, 0)
	for at := start; at.Before(testNow); at = at.Add(7 * day) {
		for i := range ds.Users {
			active := 0
			for _, s := range ds.SubscriptionsOf(ds.Users[i].ID) {
				if s.ActiveAt(at) {
					active++
				}
			}
			if active > 1 {
				t.Fatalf("user %s has %d active subscriptions at %s", ds.Users[i].ID, active, at)
			}
		}
	}

	for i := range ds.Users {
		u := &ds.Users[i]
		stages := make(map[model.FunnelStage]time.Time)
		for _, e := range ds.FunnelOf(u.ID) {
			stages[e.EventName] = e.OccurredAt
		}
		var prev time.Time
		for _, st := range model.OrderedStages {
			at, ok := stages[st]
			if !ok {
				continue
			}
			if at.Before(prev) {
				t.Fatalf("user %s reached %s at %s before the previous stage at %s", u.ID, st, at, prev)
			}
			prev = at
		}
	}

	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		if e.EventType != model.RevenuePayment {
			continue
		}
		s, _ := ds.Subscription(e.SubscriptionID)
		if !e.Amount.Equal(s.MRR) {
			t.Fatalf("payment %s charged %s for a subscription billed %s", e.ID, e.Amount, s.MRR)
		}
		if e.OccurredAt.After(testNow) {
			t.Fatalf("payment %s occurs after the window", e.ID)
		}
	}
}

func TestGeneratedPlanSplit(t *testing.T) {
	ds, err := Generate(testConfig(1000), NewSource(0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	counts := make(map[model.PlanName]int)
	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		if name := ds.PlanOf(s); name.Paid() {
			counts[name]++
		}
	}
	paid := counts[model.PlanBasic] + counts[model.PlanPremium]
	if paid == 0 {
		t.Fatal("expected paid subscriptions")
	}
	share := float64(counts[model.PlanBasic]) / float64(paid)
	if share < 0.65 || share > 0.75 {
		t.Fatalf("expected basic share near 0.70, got %.3f (%v)", share, counts)
	}
}

func TestBillingSchedule(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)
	s := &model.Subscription{
		ID:           uuid.New(),
		BillingCycle: model.BillingMonthly,
		StartedAt:    start,
		EndedAt:      &end,
		MRR:          decimal.RequireFromString("9.99"),
	}

	charges := BillingSchedule(s, start.AddDate(1, 0, 0))
	if len(charges) != 3 {
		t.Fatalf("expected 3 charges, got %d", len(charges))
	}
	total := s.MRR.Mul(decimal.NewFromInt(int64(len(charges))))
	if !total.Equal(decimal.RequireFromString("29.97")) {
		t.Fatalf("expected 29.97, got %s", total)
	}

	if got := BillingSchedule(s, start.AddDate(0, 1, 1)); len(got) != 2 {
		t.Fatalf("expected the cutoff to stop after 2 charges, got %d", len(got))
	}
	if got := BillingSchedule(s, start); len(got) != 0 {
		t.Fatalf("expected no charges before the start, got %d", len(got))
	}

	annual := &model.Subscription{BillingCycle: model.BillingAnnual, StartedAt: start, MRR: decimal.RequireFromString("99.99")}
	if got := BillingSchedule(annual, start.AddDate(2, 0, 1)); len(got) != 3 {
		t.Fatalf("expected 3 annual charges, got %d", len(got))
	}
}

func TestBillingScheduleClampsMonthEnd(t *testing.T) {
	start := time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC)
	s := &model.Subscription{BillingCycle: model.BillingMonthly, StartedAt: start, MRR: decimal.RequireFromString("9.99")}

	got := BillingSchedule(s, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	want := []time.Time{
		start,
		time.Date(2024, 2, 29, 9, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 9, 30, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 9, 30, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d charges, got %v", len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("charge %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	leap := &model.Subscription{BillingCycle: model.BillingAnnual, StartedAt: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)}
	annual := BillingSchedule(leap, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	if len(annual) != 2 || !annual[1].Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the leap-day renewal on Feb 28, got %v", annual)
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	rng := NewSource(3)
	for i := 0; i < 100; i++ {
		got := sample(rng, 10, 4)
		seen := make(map[int]bool)
		for _, v := range got {
			if v < 0 || v >= 10 || seen[v] {
				t.Fatalf("invalid sample %v", got)
			}
			seen[v] = true
		}
	}
	if got := sample(rng, 2, 5); len(got) != 2 {
		t.Fatalf("expected sample clamped to population, got %v", got)
	}
}
