package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Invariant names used in IntegrityViolation.
const (
	InvariantForeignKey    = "foreign_key"
	InvariantDomain        = "domain"
	InvariantUnique        = "unique"
	InvariantSingleActive  = "single_active_subscription"
	InvariantMonthlyAmount = "subscription_amount"
	InvariantTaskComplete  = "task_completion"
)

// IntegrityViolation describes one broken model invariant.
type IntegrityViolation struct {
	Invariant string
	Entity    string
	ID        string
	Detail    string
}

func (v IntegrityViolation) Error() string {
	return fmt.Sprintf("%s violation on %s %s: %s", v.Invariant, v.Entity, v.ID, v.Detail)
}

// Validate checks every structural invariant of the dataset and returns all
// violations found. The dataset must be indexed.
func Validate(d *Dataset) []IntegrityViolation {
	var out []IntegrityViolation
	add := func(inv, entity string, id uuid.UUID, format string, args ...any) {
		out = append(out, IntegrityViolation{
			Invariant: inv,
			Entity:    entity,
			ID:        id.String(),
			Detail:    fmt.Sprintf(format, args...),
		})
	}

	seenPlans := make(map[PlanName]int)
	for i := range d.Plans {
		p := &d.Plans[i]
		seenPlans[p.Name]++
		if !p.Name.Valid() {
			out = append(out, IntegrityViolation{InvariantDomain, "plan", fmt.Sprint(p.ID), fmt.Sprintf("unknown plan name %q", p.Name)})
		}
	}
	for name, n := range seenPlans {
		if n > 1 {
			out = append(out, IntegrityViolation{InvariantUnique, "plan", string(name), fmt.Sprintf("%d rows share the name", n)})
		}
	}

	emails := make(map[string]uuid.UUID, len(d.Users))
	for i := range d.Users {
		u := &d.Users[i]
		if prev, dup := emails[u.Email]; dup {
			add(InvariantUnique, "user", u.ID, "email %s already used by %s", u.Email, prev)
		}
		emails[u.Email] = u.ID
		if !u.Status.Valid() {
			add(InvariantDomain, "user", u.ID, "unknown status %q", u.Status)
		}
		if !u.SignupChannel.Valid() {
			add(InvariantDomain, "user", u.ID, "unknown signup channel %q", u.SignupChannel)
		}
		if u.ReferredByUser != nil {
			if _, ok := d.User(*u.ReferredByUser); !ok {
				add(InvariantForeignKey, "user", u.ID, "referrer %s does not exist", *u.ReferredByUser)
			}
		}
	}

	for i := range d.Subscriptions {
		s := &d.Subscriptions[i]
		if _, ok := d.User(s.UserID); !ok {
			add(InvariantForeignKey, "subscription", s.ID, "user %s does not exist", s.UserID)
		}
		if !s.Status.Valid() {
			add(InvariantDomain, "subscription", s.ID, "unknown status %q", s.Status)
		}
		if !s.BillingCycle.Valid() {
			add(InvariantDomain, "subscription", s.ID, "unknown billing cycle %q", s.BillingCycle)
		}
		p, ok := d.Plan(s.PlanID)
		if !ok {
			add(InvariantForeignKey, "subscription", s.ID, "plan %d does not exist", s.PlanID)
			continue
		}
		if want := p.Price(s.BillingCycle); !s.MRR.Equal(want) {
			add(InvariantMonthlyAmount, "subscription", s.ID, "stored amount %s does not match %s %s price %s", s.MRR, p.Name, s.BillingCycle, want)
		}
	}

	for userID, idx := range d.subsByUser {
		active := 0
		for a, ia := range idx {
			sa := &d.Subscriptions[ia]
			if sa.Status == SubscriptionActive {
				active++
			}
			for _, ib := range idx[a+1:] {
				sb := &d.Subscriptions[ib]
				if sa.Span().Intersects(sb.Span()) {
					add(InvariantSingleActive, "subscription", sb.ID, "overlaps subscription %s of user %s", sa.ID, userID)
				}
			}
		}
		if active > 1 {
			add(InvariantSingleActive, "user", userID, "%d subscriptions have status active", active)
		}
	}

	for i := range d.Projects {
		p := &d.Projects[i]
		if _, ok := d.User(p.UserID); !ok {
			add(InvariantForeignKey, "project", p.ID, "user %s does not exist", p.UserID)
		}
	}

	for i := range d.Tasks {
		t := &d.Tasks[i]
		p, ok := d.Project(t.ProjectID)
		if !ok {
			add(InvariantForeignKey, "task", t.ID, "project %s does not exist", t.ProjectID)
		} else if p.UserID != t.UserID {
			add(InvariantForeignKey, "task", t.ID, "user %s does not own project %s", t.UserID, t.ProjectID)
		}
		if t.IsCompleted != (t.CompletedAt != nil) {
			add(InvariantTaskComplete, "task", t.ID, "is_completed=%t but completed_at present=%t", t.IsCompleted, t.CompletedAt != nil)
		}
	}

	for i := range d.Memberships {
		m := &d.Memberships[i]
		if _, ok := d.User(m.InviterUserID); !ok {
			add(InvariantForeignKey, "team_membership", m.ID, "inviter %s does not exist", m.InviterUserID)
		}
		if _, ok := d.User(m.InvitedUserID); !ok {
			add(InvariantForeignKey, "team_membership", m.ID, "invitee %s does not exist", m.InvitedUserID)
		}
		if _, ok := d.Project(m.ProjectID); !ok {
			add(InvariantForeignKey, "team_membership", m.ID, "project %s does not exist", m.ProjectID)
		}
	}

	for i := range d.RevenueEvents {
		e := &d.RevenueEvents[i]
		s, ok := d.Subscription(e.SubscriptionID)
		if !ok {
			add(InvariantForeignKey, "revenue_event", e.ID, "subscription %s does not exist", e.SubscriptionID)
		} else if s.UserID != e.UserID {
			add(InvariantForeignKey, "revenue_event", e.ID, "user %s does not own subscription %s", e.UserID, e.SubscriptionID)
		}
		if !e.EventType.Valid() {
			add(InvariantDomain, "revenue_event", e.ID, "unknown event type %q", e.EventType)
		}
	}

	for i := range d.Activities {
		a := &d.Activities[i]
		if _, ok := d.User(a.UserID); !ok {
			add(InvariantForeignKey, "user_activity", a.ID, "user %s does not exist", a.UserID)
		}
	}

	for i := range d.FunnelEvents {
		f := &d.FunnelEvents[i]
		if _, ok := d.User(f.UserID); !ok {
			add(InvariantForeignKey, "funnel_event", f.ID, "user %s does not exist", f.UserID)
		}
		if !f.EventName.Valid() {
			add(InvariantDomain, "funnel_event", f.ID, "unknown stage %q", f.EventName)
		}
	}

	return out
}
