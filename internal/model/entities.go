package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID             uuid.UUID     `json:"id"`
	Email          string        `json:"email"`
	CreatedAt      time.Time     `json:"created_at"`
	ActivatedAt    *time.Time    `json:"activated_at,omitempty"`
	LastLoginAt    *time.Time    `json:"last_login_at,omitempty"`
	Status         UserStatus    `json:"status"`
	SignupChannel  SignupChannel `json:"signup_channel"`
	CountryCode    string        `json:"country_code"`
	UTMSource      string        `json:"utm_source,omitempty"`
	UTMMedium      string        `json:"utm_medium,omitempty"`
	UTMCampaign    string        `json:"utm_campaign,omitempty"`
	ReferredByUser *uuid.UUID    `json:"referred_by_user_id,omitempty"`
}

// Activated reports whether the user performed a first meaningful action.
func (u *User) Activated() bool {
	return u.ActivatedAt != nil
}

type Subscription struct {
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"user_id"`
	PlanID       int                `json:"plan_id"`
	Status       SubscriptionStatus `json:"status"`
	BillingCycle BillingCycle       `json:"billing_cycle"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
	// MRR is the amount charged per billing cycle as stored in the mrr
	// column. Read it through MonthlyRecurringRevenue.
	MRR       decimal.Decimal `json:"mrr"`
	CreatedAt time.Time       `json:"created_at"`
}

// Span returns the interval during which the subscription was in force.
func (s *Subscription) Span() Span {
	end := s.EndedAt
	if end == nil {
		end = s.CancelledAt
	}
	return Span{Start: s.StartedAt, End: end}
}

// ActiveAt reports whether the subscription was generating recurring
// revenue at t. Paused subscriptions never are.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return s.Status != SubscriptionPaused && s.Span().Contains(t)
}

// ActiveDuring reports whether the subscription was in force at any point
// of [from, to).
func (s *Subscription) ActiveDuring(from, to time.Time) bool {
	return s.Status != SubscriptionPaused && s.Span().Overlaps(from, to)
}

type Project struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

type Task struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	IsCompleted bool       `json:"is_completed"`
}

type TeamMembership struct {
	ID            uuid.UUID  `json:"id"`
	InviterUserID uuid.UUID  `json:"inviter_user_id"`
	InvitedUserID uuid.UUID  `json:"invited_user_id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	InvitedAt     time.Time  `json:"invited_at"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	Role          string     `json:"role"`
}

type RevenueEvent struct {
	ID              uuid.UUID        `json:"id"`
	UserID          uuid.UUID        `json:"user_id"`
	SubscriptionID  uuid.UUID        `json:"subscription_id"`
	Amount          decimal.Decimal  `json:"amount"`
	EventType       RevenueEventType `json:"event_type"`
	OccurredAt      time.Time        `json:"occurred_at"`
	StripePaymentID string           `json:"stripe_payment_id,omitempty"`
}

type ActivityEvent struct {
	ID           uuid.UUID      `json:"id"`
	UserID       uuid.UUID      `json:"user_id"`
	ActivityType string         `json:"activity_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

type FunnelEvent struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	EventName  FunnelStage `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	SessionID  string      `json:"session_id,omitempty"`
	PageURL    string      `json:"page_url,omitempty"`
}
