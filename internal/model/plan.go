package model

import (
	"github.com/shopspring/decimal"
)

// Unlimited marks a plan limit without a ceiling.
const Unlimited = -1

type Plan struct {
	ID             int             `json:"id"`
	Name           PlanName        `json:"name"`
	PriceMonthly   decimal.Decimal `json:"price_monthly"`
	PriceAnnual    decimal.Decimal `json:"price_annual"`
	MaxProjects    int             `json:"max_projects"`
	MaxTeamMembers int             `json:"max_team_members"`
	Features       map[string]bool `json:"features"`
}

// Price returns the amount charged once per billing cycle.
func (p *Plan) Price(cycle BillingCycle) decimal.Decimal {
	if cycle == BillingAnnual {
		return p.PriceAnnual
	}
	return p.PriceMonthly
}

var monthsPerYear = decimal.NewFromInt(12)

// MonthlyRecurringRevenue is the single place where a stored subscription
// amount is turned into its monthly equivalent: monthly rows carry the
// monthly price, annual rows carry the annual price which is spread over
// twelve months.
func MonthlyRecurringRevenue(s *Subscription) decimal.Decimal {
	if s.BillingCycle == BillingAnnual {
		return s.MRR.Div(monthsPerYear)
	}
	return s.MRR
}

// SeedPlans returns the immutable plan reference rows.
func SeedPlans() []Plan {
	return []Plan{
		{
			ID:             1,
			Name:           PlanFree,
			PriceMonthly:   decimal.Zero,
			PriceAnnual:    decimal.Zero,
			MaxProjects:    3,
			MaxTeamMembers: 1,
			Features: map[string]bool{
				"basic_tasks":      true,
				"file_uploads":     false,
				"integrations":     false,
				"priority_support": false,
				"advanced_reports": false,
			},
		},
		{
			ID:             2,
			Name:           PlanBasic,
			PriceMonthly:   decimal.RequireFromString("9.99"),
			PriceAnnual:    decimal.RequireFromString("99.99"),
			MaxProjects:    10,
			MaxTeamMembers: 5,
			Features: map[string]bool{
				"basic_tasks":      true,
				"file_uploads":     true,
				"integrations":     true,
				"priority_support": false,
				"advanced_reports": false,
			},
		},
		{
			ID:             3,
			Name:           PlanPremium,
			PriceMonthly:   decimal.RequireFromString("29.99"),
			PriceAnnual:    decimal.RequireFromString("299.99"),
			MaxProjects:    Unlimited,
			MaxTeamMembers: Unlimited,
			Features: map[string]bool{
				"basic_tasks":      true,
				"file_uploads":     true,
				"integrations":     true,
				"priority_support": true,
				"advanced_reports": true,
			},
		},
	}
}
