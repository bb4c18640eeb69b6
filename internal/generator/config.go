package generator

import (
	"errors"
	"fmt"
	"time"

	"saas-analytics/internal/model"
)

// Config parameterises one generation run.
type Config struct {
	Users  int       `yaml:"users"`
	Months int       `yaml:"months"`
	Seed   int64     `yaml:"seed"`
	Now    time.Time `yaml:"now"`

	ActivationRate        float64 `yaml:"activation_rate"`
	ActivationDays        int     `yaml:"activation_days"`
	EmailVerificationRate float64 `yaml:"email_verification_rate"`

	StatusWeights  map[model.UserStatus]float64    `yaml:"status_weights"`
	ChannelWeights map[model.SignupChannel]float64 `yaml:"channel_weights"`
	CountryWeights map[string]float64              `yaml:"country_weights"`
	ReferralRate   float64                         `yaml:"referral_rate"`

	ConversionRate  float64 `yaml:"conversion_rate"`
	BasicShare      float64 `yaml:"basic_share"`
	AnnualShare     float64 `yaml:"annual_share"`
	UpgradeDays     int     `yaml:"upgrade_days"`
	PaymentPageRate float64 `yaml:"payment_page_rate"`

	ChurnRate     float64 `yaml:"churn_rate"`
	MinTenureDays int     `yaml:"min_tenure_days"`
	MaxTenureDays int     `yaml:"max_tenure_days"`
	RefundRate    float64 `yaml:"refund_rate"`

	ProjectRate           float64 `yaml:"project_rate"`
	MaxProjects           int     `yaml:"max_projects"`
	ProjectCompletionRate float64 `yaml:"project_completion_rate"`
	MaxTasks              int     `yaml:"max_tasks"`
	TaskCompletionRate    float64 `yaml:"task_completion_rate"`
	InviteRate            float64 `yaml:"invite_rate"`
	MaxInvitees           int     `yaml:"max_invitees"`
	AcceptRate            float64 `yaml:"accept_rate"`
	MaxLogins             int     `yaml:"max_logins"`
}

// DefaultConfig returns the reference parameters. Now is left zero and
// must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Users:  1000,
		Months: 12,

		ActivationRate:        0.80,
		ActivationDays:        7,
		EmailVerificationRate: 0.60,

		StatusWeights: map[model.UserStatus]float64{
			model.UserActive:   0.70,
			model.UserInactive: 0.20,
			model.UserChurned:  0.10,
		},
		ChannelWeights: map[model.SignupChannel]float64{
			model.ChannelOrganic:    0.30,
			model.ChannelPaidSearch: 0.20,
			model.ChannelPaidSocial: 0.15,
			model.ChannelReferral:   0.10,
			model.ChannelContent:    0.10,
			model.ChannelEmail:      0.10,
			model.ChannelDirect:     0.05,
		},
		CountryWeights: map[string]float64{
			"US": 0.35, "GB": 0.10, "DE": 0.10, "CA": 0.08, "IN": 0.08,
			"FR": 0.07, "AU": 0.06, "BR": 0.06, "NL": 0.05, "JP": 0.05,
		},
		ReferralRate: 0.80,

		ConversionRate:  0.15,
		BasicShare:      0.70,
		AnnualShare:     0.20,
		UpgradeDays:     30,
		PaymentPageRate: 0.30,

		ChurnRate:     0.25,
		MinTenureDays: 30,
		MaxTenureDays: 365,
		RefundRate:    0.02,

		ProjectRate:           0.70,
		MaxProjects:           5,
		ProjectCompletionRate: 0.30,
		MaxTasks:              12,
		TaskCompletionRate:    0.60,
		InviteRate:            0.30,
		MaxInvitees:           3,
		AcceptRate:            0.70,
		MaxLogins:             20,
	}
}

// MaxDays and MaxMonths bound the day and month counts. Durations of that
// size stay far inside the range of time.Duration.
const (
	MaxDays   = 36500
	MaxMonths = 1200
)

// ConfigError reports one invalid generator parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid generator config: %s %s", e.Field, e.Reason)
}

// Validate returns every problem with the configuration joined into one
// error, or nil.
func (c Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Users < 0 {
		fail("users", "must not be negative, got %d", c.Users)
	}
	if c.Months <= 0 || c.Months > MaxMonths {
		fail("months", "must be within [1, %d], got %d", MaxMonths, c.Months)
	}
	if c.Now.IsZero() {
		fail("now", "must be set")
	}

	probabilities := []struct {
		name  string
		value float64
	}{
		{"activation_rate", c.ActivationRate},
		{"email_verification_rate", c.EmailVerificationRate},
		{"referral_rate", c.ReferralRate},
		{"conversion_rate", c.ConversionRate},
		{"basic_share", c.BasicShare},
		{"annual_share", c.AnnualShare},
		{"payment_page_rate", c.PaymentPageRate},
		{"churn_rate", c.ChurnRate},
		{"refund_rate", c.RefundRate},
		{"project_rate", c.ProjectRate},
		{"project_completion_rate", c.ProjectCompletionRate},
		{"task_completion_rate", c.TaskCompletionRate},
		{"invite_rate", c.InviteRate},
		{"accept_rate", c.AcceptRate},
	}
	for _, p := range probabilities {
		// The negated form also rejects NaN.
		if !(p.value >= 0 && p.value <= 1) {
			fail(p.name, "must be within [0, 1], got %v", p.value)
		}
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"activation_days", c.ActivationDays},
		{"upgrade_days", c.UpgradeDays},
		{"max_tasks", c.MaxTasks},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			fail(n.name, "must not be negative, got %d", n.value)
		}
	}

	dayCounts := []struct {
		name  string
		value int
	}{
		{"activation_days", c.ActivationDays},
		{"upgrade_days", c.UpgradeDays},
		{"min_tenure_days", c.MinTenureDays},
		{"max_tenure_days", c.MaxTenureDays},
	}
	for _, n := range dayCounts {
		if n.value > MaxDays {
			fail(n.name, "must not exceed %d days, got %d", MaxDays, n.value)
		}
	}

	if c.MinTenureDays < 1 {
		fail("min_tenure_days", "must be at least 1, got %d", c.MinTenureDays)
	}
	if c.MaxTenureDays < c.MinTenureDays {
		fail("max_tenure_days", "must not be below min_tenure_days (%d), got %d", c.MinTenureDays, c.MaxTenureDays)
	}
	if c.MaxProjects < 1 {
		fail("max_projects", "must be at least 1, got %d", c.MaxProjects)
	}
	if c.MaxInvitees < 1 {
		fail("max_invitees", "must be at least 1, got %d", c.MaxInvitees)
	}
	if c.MaxLogins < 1 {
		fail("max_logins", "must be at least 1, got %d", c.MaxLogins)
	}

	for status := range c.StatusWeights {
		if !status.Valid() {
			fail("status_weights", "unknown status %q", status)
		}
	}
	checkWeights(fail, "status_weights", weightsOf(c.StatusWeights))

	for channel := range c.ChannelWeights {
		if !channel.Valid() {
			fail("channel_weights", "unknown channel %q", channel)
		}
	}
	checkWeights(fail, "channel_weights", weightsOf(c.ChannelWeights))

	for country := range c.CountryWeights {
		if len(country) != 2 {
			fail("country_weights", "country code %q is not two letters", country)
		}
	}
	checkWeights(fail, "country_weights", weightsOf(c.CountryWeights))

	return errors.Join(errs...)
}

func weightsOf[K ~string](m map[K]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	return out
}

func checkWeights(fail func(string, string, ...any), field string, weights []float64) {
	var total float64
	for _, w := range weights {
		if !(w >= 0) {
			fail(field, "weights must not be negative, got %v", w)
			return
		}
		total += w
	}
	if total <= 0 {
		fail(field, "must contain a positive weight")
	}
}
