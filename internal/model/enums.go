package model

// The literal values below are stored verbatim in every backend and reports
// filter on them, so they must not change.

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
	UserChurned  UserStatus = "churned"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserActive, UserInactive, UserChurned:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionPaused, SubscriptionExpired:
		return true
	}
	return false
}

type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingAnnual  BillingCycle = "annual"
)

func (c BillingCycle) Valid() bool {
	return c == BillingMonthly || c == BillingAnnual
}

type SignupChannel string

const (
	ChannelOrganic    SignupChannel = "organic"
	ChannelPaidSearch SignupChannel = "paid_search"
	ChannelPaidSocial SignupChannel = "paid_social"
	ChannelReferral   SignupChannel = "referral"
	ChannelContent    SignupChannel = "content"
	ChannelEmail      SignupChannel = "email"
	ChannelDirect     SignupChannel = "direct"
)

// SignupChannels lists every acquisition channel in a fixed order.
var SignupChannels = []SignupChannel{
	ChannelOrganic,
	ChannelPaidSearch,
	ChannelPaidSocial,
	ChannelReferral,
	ChannelContent,
	ChannelEmail,
	ChannelDirect,
}

func (c SignupChannel) Valid() bool {
	for _, known := range SignupChannels {
		if c == known {
			return true
		}
	}
	return false
}

type PlanName string

const (
	PlanFree    PlanName = "free"
	PlanBasic   PlanName = "basic"
	PlanPremium PlanName = "premium"
)

var PlanNames = []PlanName{PlanFree, PlanBasic, PlanPremium}

func (p PlanName) Valid() bool {
	return p == PlanFree || p == PlanBasic || p == PlanPremium
}

// Paid reports whether the plan is charged for.
func (p PlanName) Paid() bool {
	return p == PlanBasic || p == PlanPremium
}

type RevenueEventType string

const (
	RevenuePayment   RevenueEventType = "payment"
	RevenueRefund    RevenueEventType = "refund"
	RevenueUpgrade   RevenueEventType = "upgrade"
	RevenueDowngrade RevenueEventType = "downgrade"
)

func (t RevenueEventType) Valid() bool {
	switch t {
	case RevenuePayment, RevenueRefund, RevenueUpgrade, RevenueDowngrade:
		return true
	}
	return false
}

type FunnelStage string

const (
	StageSignup              FunnelStage = "signup"
	StageEmailVerified       FunnelStage = "email_verified"
	StageOnboardingCompleted FunnelStage = "onboarding_completed"
	StageFirstProject        FunnelStage = "first_project_created"
	StagePaymentPageViewed   FunnelStage = "payment_page_viewed"
	StageSubscriptionCreated FunnelStage = "subscription_created"
)

// FunnelStages is the signup-to-payment journey in order.
var FunnelStages = []FunnelStage{
	StageSignup,
	StageEmailVerified,
	StageOnboardingCompleted,
	StageFirstProject,
	StagePaymentPageViewed,
	StageSubscriptionCreated,
}

// OrderedStages are the checkpoints whose instants must be non-decreasing
// for a single user.
var OrderedStages = []FunnelStage{
	StageSignup,
	StageOnboardingCompleted,
	StageFirstProject,
	StageSubscriptionCreated,
}

func (s FunnelStage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of the stage in FunnelStages, or -1.
func (s FunnelStage) Index() int {
	for i, known := range FunnelStages {
		if s == known {
			return i
		}
	}
	return -1
}
