package generator

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saas-analytics/internal/model"
)

// ErrIntegrity is matched by the error Generate returns when the produced
// dataset breaks a model invariant.
var ErrIntegrity = errors.New("generated dataset violates model invariants")

type IntegrityError struct {
	Violations []model.IntegrityViolation
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: %d violations, first: %v", ErrIntegrity, len(e.Violations), e.Violations[0])
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Generate builds a complete dataset from cfg, drawing every random value
// from rng. Invalid configuration or an inconsistent result returns an
// error and no dataset.
func Generate(cfg Config, rng *rand.Rand) (*model.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	end := cfg.Now.UTC().Truncate(precision)
	g := &generator{
		cfg:       cfg,
		rng:       rng,
		end:       end,
		start:     end.AddDate(0, -cfg.Months, 0),
		statuses:  sortedWeights(cfg.StatusWeights),
		channels:  sortedWeights(cfg.ChannelWeights),
		countries: sortedWeights(cfg.CountryWeights),
		ds:        &model.Dataset{Plans: model.SeedPlans()},
	}
	g.ds.Index()

	g.generateUsers()
	g.generateFreeSubscriptions()
	g.generatePromotions()
	g.generateProjects()
	g.generateTasks()
	g.generateMemberships()
	g.generateRevenue()
	g.generateActivity()
	g.generateFunnel()

	ds := g.ds.Index()
	if v := model.Validate(ds); len(v) > 0 {
		return nil, &IntegrityError{Violations: v}
	}
	return ds, nil
}

// FromSeed runs Generate with the source derived from cfg.Seed.
func FromSeed(cfg Config) (*model.Dataset, error) {
	return Generate(cfg, NewSource(cfg.Seed))
}

// account tracks the rows generated for one user.
type account struct {
	user      int
	free      int
	paid      int
	upgradeAt time.Time
	projects  []int
	firstProj *time.Time
}

type generator struct {
	cfg        Config
	rng        *rand.Rand
	start, end time.Time

	statuses  []weighted[model.UserStatus]
	channels  []weighted[model.SignupChannel]
	countries []weighted[string]

	ds       *model.Dataset
	accounts []account
}

func (g *generator) plan(name model.PlanName) *model.Plan {
	p, ok := g.ds.PlanByName(name)
	if !ok {
		panic("seed plan missing: " + string(name))
	}
	return p
}

func (g *generator) generateUsers() {
	n := g.cfg.Users
	signups := make([]time.Time, n)
	for i := range signups {
		signups[i] = between(g.rng, g.start, g.end)
	}
	sort.Slice(signups, func(i, j int) bool { return signups[i].Before(signups[j]) })

	g.ds.Users = make([]model.User, 0, n)
	g.accounts = make([]account, 0, n)
	for i, created := range signups {
		u := model.User{
			ID:            newID(g.rng),
			Email:         fmt.Sprintf("user%05d@example.com", i+1),
			CreatedAt:     created,
			Status:        pick(g.rng, g.statuses),
			SignupChannel: pick(g.rng, g.channels),
			CountryCode:   pick(g.rng, g.countries),
		}

		if chance(g.rng, g.cfg.ActivationRate) {
			at := between(g.rng, created, created.Add(time.Duration(g.cfg.ActivationDays)*day))
			if at.Before(g.end) {
				u.ActivatedAt = &at
			}
		}

		u.UTMSource, u.UTMMedium, u.UTMCampaign = attribution(g.rng, u.SignupChannel)
		if u.SignupChannel == model.ChannelReferral && i > 0 && chance(g.rng, g.cfg.ReferralRate) {
			ref := g.ds.Users[g.rng.Intn(i)].ID
			u.ReferredByUser = &ref
		}

		last := g.lastLogin(&u)
		u.LastLoginAt = &last

		g.ds.Users = append(g.ds.Users, u)
		g.accounts = append(g.accounts, account{user: i, free: -1, paid: -1})
	}
}

func (g *generator) lastLogin(u *model.User) time.Time {
	if u.ActivatedAt == nil {
		return u.CreatedAt
	}
	from := *u.ActivatedAt
	switch u.Status {
	case model.UserActive:
		return maxTime(from, between(g.rng, g.end.Add(-7*day), g.end))
	case model.UserInactive:
		return maxTime(from, between(g.rng, g.end.Add(-90*day), g.end.Add(-30*day)))
	default:
		return between(g.rng, from, from.Add(g.end.Sub(from)/2))
	}
}

var campaigns = map[model.SignupChannel][3]string{
	model.ChannelPaidSearch: {"google", "cpc", "brand_search"},
	model.ChannelPaidSocial: {"facebook", "paid_social", "spring_launch"},
	model.ChannelContent:    {"blog", "content", "productivity_guide"},
	model.ChannelEmail:      {"newsletter", "email", "weekly_digest"},
	model.ChannelReferral:   {"referral", "referral", "invite_friends"},
}

func attribution(rng *rand.Rand, channel model.SignupChannel) (string, string, string) {
	c, ok := campaigns[channel]
	if !ok {
		return "", "", ""
	}
	campaign := c[2]
	if chance(rng, 0.5) {
		campaign = fmt.Sprintf("%s_%d", campaign, 1+rng.Intn(4))
	}
	return c[0], c[1], campaign
}

func (g *generator) addSubscription(s model.Subscription) int {
	g.ds.Subscriptions = append(g.ds.Subscriptions, s)
	return len(g.ds.Subscriptions) - 1
}

func (g *generator) openSubscription(userID uuid.UUID, plan *model.Plan, cycle model.BillingCycle, at time.Time) int {
	return g.addSubscription(model.Subscription{
		ID:           newID(g.rng),
		UserID:       userID,
		PlanID:       plan.ID,
		Status:       model.SubscriptionActive,
		BillingCycle: cycle,
		StartedAt:    at,
		MRR:          plan.Price(cycle),
		CreatedAt:    at,
	})
}

func (g *generator) generateFreeSubscriptions() {
	free := g.plan(model.PlanFree)
	for i := range g.accounts {
		u := &g.ds.Users[i]
		g.accounts[i].free = g.openSubscription(u.ID, free, model.BillingMonthly, u.CreatedAt)
	}
}

// generatePromotions moves a quota of activated users onto paid plans. The
// conversion set, the plan split and the churn set are each drawn without
// replacement so the realised proportions match the configuration.
func (g *generator) generatePromotions() {
	var candidates []int
	for i := range g.ds.Users {
		if g.ds.Users[i].Activated() {
			candidates = append(candidates, i)
		}
	}
	k := quota(g.cfg.ConversionRate, g.cfg.Users, len(candidates))
	g.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	converters := candidates[:k]
	sort.Ints(converters)

	targets := make([]model.PlanName, k)
	basic := quota(g.cfg.BasicShare, k, k)
	for i := range targets {
		if i < basic {
			targets[i] = model.PlanBasic
		} else {
			targets[i] = model.PlanPremium
		}
	}
	g.rng.Shuffle(k, func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })

	churns := make([]bool, k)
	for i := 0; i < quota(g.cfg.ChurnRate, k, k); i++ {
		churns[i] = true
	}
	g.rng.Shuffle(k, func(i, j int) { churns[i], churns[j] = churns[j], churns[i] })

	free := g.plan(model.PlanFree)
	for n, idx := range converters {
		acc := &g.accounts[idx]
		u := &g.ds.Users[idx]

		activated := *u.ActivatedAt
		upgradeAt := between(g.rng, activated, maxTime(activated, u.CreatedAt.Add(time.Duration(g.cfg.UpgradeDays)*day)))
		cycle := model.BillingMonthly
		if chance(g.rng, g.cfg.AnnualShare) {
			cycle = model.BillingAnnual
		}
		tenure := time.Duration(g.cfg.MinTenureDays)*day +
			time.Duration(g.rng.Int63n(int64(g.cfg.MaxTenureDays-g.cfg.MinTenureDays)*int64(day)+1))
		if !upgradeAt.Before(g.end) {
			continue
		}

		prev := &g.ds.Subscriptions[acc.free]
		closeAt := upgradeAt
		prev.EndedAt = &closeAt
		prev.Status = model.SubscriptionExpired

		plan := g.plan(targets[n])
		acc.paid = g.openSubscription(u.ID, plan, cycle, upgradeAt)
		acc.upgradeAt = upgradeAt
		paid := &g.ds.Subscriptions[acc.paid]
		g.addTransition(paid, model.RevenueUpgrade, model.MonthlyRecurringRevenue(paid), upgradeAt)

		if !churns[n] {
			continue
		}
		cancelAt := upgradeAt.Add(tenure).Truncate(precision)
		if !cancelAt.Before(g.end) {
			continue
		}
		paid = &g.ds.Subscriptions[acc.paid]
		ended, cancelled := cancelAt, cancelAt
		paid.Status = model.SubscriptionCancelled
		paid.EndedAt = &ended
		paid.CancelledAt = &cancelled
		g.addTransition(paid, model.RevenueDowngrade, model.MonthlyRecurringRevenue(paid).Neg(), cancelAt)
		g.openSubscription(u.ID, free, model.BillingMonthly, cancelAt)
	}
}

// addTransition records the change in monthly recurring revenue caused by a
// plan change, rounded to cents like every stored amount.
func (g *generator) addTransition(s *model.Subscription, kind model.RevenueEventType, delta decimal.Decimal, at time.Time) {
	g.ds.RevenueEvents = append(g.ds.RevenueEvents, model.RevenueEvent{
		ID:             newID(g.rng),
		UserID:         s.UserID,
		SubscriptionID: s.ID,
		Amount:         delta.Round(2),
		EventType:      kind,
		OccurredAt:     at,
	})
}

// currentPlan is the plan a user holds at the end of the window.
func (g *generator) currentPlan(acc *account) *model.Plan {
	s := &g.ds.Subscriptions[acc.free]
	if acc.paid >= 0 && g.ds.Subscriptions[acc.paid].Status == model.SubscriptionActive {
		s = &g.ds.Subscriptions[acc.paid]
	}
	p, _ := g.ds.Plan(s.PlanID)
	return p
}

func (g *generator) generateProjects() {
	for i := range g.accounts {
		acc := &g.accounts[i]
		u := &g.ds.Users[i]
		if !u.Activated() || !chance(g.rng, g.cfg.ProjectRate) {
			continue
		}
		n := 1 + g.rng.Intn(g.cfg.MaxProjects)
		if limit := g.currentPlan(acc).MaxProjects; limit != model.Unlimited && n > limit {
			n = limit
		}

		activated := *u.ActivatedAt
		for k := 0; k < n; k++ {
			latest := g.end
			// A converter's first project precedes the upgrade so the funnel
			// stays in stage order.
			if k == 0 && acc.paid >= 0 {
				latest = acc.upgradeAt
			}
			created := between(g.rng, activated, latest)
			p := model.Project{
				ID:        newID(g.rng),
				UserID:    u.ID,
				Name:      fmt.Sprintf("%s project %d", projectThemes[g.rng.Intn(len(projectThemes))], k+1),
				CreatedAt: created,
				IsActive:  true,
			}
			if chance(g.rng, g.cfg.ProjectCompletionRate) {
				done := between(g.rng, created.Add(day), created.Add(60*day))
				if done.Before(g.end) {
					p.CompletedAt = &done
					p.IsActive = false
				}
			}
			g.ds.Projects = append(g.ds.Projects, p)
			acc.projects = append(acc.projects, len(g.ds.Projects)-1)
			if acc.firstProj == nil || created.Before(*acc.firstProj) {
				first := created
				acc.firstProj = &first
			}
		}
	}
}

var projectThemes = []string{"Website", "Launch", "Research", "Onboarding", "Marketing", "Roadmap", "Hiring", "Migration"}

var taskVerbs = []string{"Draft", "Review", "Ship", "Plan", "Fix", "Design", "Test", "Document"}

func (g *generator) generateTasks() {
	for i := range g.ds.Projects {
		p := g.ds.Projects[i]
		n := g.rng.Intn(g.cfg.MaxTasks + 1)
		for k := 0; k < n; k++ {
			created := between(g.rng, p.CreatedAt, minTime(g.end, p.CreatedAt.Add(90*day)))
			t := model.Task{
				ID:        newID(g.rng),
				ProjectID: p.ID,
				UserID:    p.UserID,
				Title:     fmt.Sprintf("%s item %d", taskVerbs[g.rng.Intn(len(taskVerbs))], k+1),
				CreatedAt: created,
			}
			if chance(g.rng, g.cfg.TaskCompletionRate) {
				done := between(g.rng, created.Add(time.Hour), created.Add(14*day))
				if done.Before(g.end) {
					t.CompletedAt = &done
					t.IsCompleted = true
				}
			}
			g.ds.Tasks = append(g.ds.Tasks, t)
		}
	}
}

var roles = []weighted[string]{{"admin", 0.1}, {"member", 0.7}, {"viewer", 0.2}}

func (g *generator) generateMemberships() {
	var pool []int
	for i := range g.ds.Users {
		if g.ds.Users[i].Status == model.UserActive {
			pool = append(pool, i)
		}
	}

	for _, acc := range g.accounts {
		owner := &g.ds.Users[acc.user]
		ownerPos := sort.SearchInts(pool, acc.user)
		inPool := ownerPos < len(pool) && pool[ownerPos] == acc.user
		others := len(pool)
		if inPool {
			others--
		}

		for _, pi := range acc.projects {
			if others == 0 || !chance(g.rng, g.cfg.InviteRate) {
				continue
			}
			p := &g.ds.Projects[pi]
			k := 1 + g.rng.Intn(g.cfg.MaxInvitees)
			for _, j := range sample(g.rng, others, k) {
				if inPool && j >= ownerPos {
					j++
				}
				invitee := &g.ds.Users[pool[j]]
				invitedAt := between(g.rng, p.CreatedAt, p.CreatedAt.Add(14*day))
				if !invitedAt.Before(g.end) {
					continue
				}
				m := model.TeamMembership{
					ID:            newID(g.rng),
					InviterUserID: owner.ID,
					InvitedUserID: invitee.ID,
					ProjectID:     p.ID,
					InvitedAt:     invitedAt,
					Role:          pick(g.rng, roles),
				}
				if chance(g.rng, g.cfg.AcceptRate) {
					accepted := between(g.rng, invitedAt, invitedAt.Add(3*day))
					if accepted.Before(g.end) {
						m.AcceptedAt = &accepted
					}
				}
				g.ds.Memberships = append(g.ds.Memberships, m)
			}
		}
	}
}

func (g *generator) generateRevenue() {
	for i := range g.ds.Subscriptions {
		s := g.ds.Subscriptions[i]
		if s.MRR.IsZero() {
			continue
		}
		for _, at := range BillingSchedule(&s, g.end) {
			payment := model.RevenueEvent{
				ID:              newID(g.rng),
				UserID:          s.UserID,
				SubscriptionID:  s.ID,
				Amount:          s.MRR,
				EventType:       model.RevenuePayment,
				OccurredAt:      at,
				StripePaymentID: token(g.rng, "pi_", 12),
			}
			g.ds.RevenueEvents = append(g.ds.RevenueEvents, payment)

			if !chance(g.rng, g.cfg.RefundRate) {
				continue
			}
			refundAt := between(g.rng, at.Add(day), at.Add(14*day))
			if !refundAt.Before(g.end) {
				continue
			}
			g.ds.RevenueEvents = append(g.ds.RevenueEvents, model.RevenueEvent{
				ID:              newID(g.rng),
				UserID:          s.UserID,
				SubscriptionID:  s.ID,
				Amount:          s.MRR.Neg(),
				EventType:       model.RevenueRefund,
				OccurredAt:      refundAt,
				StripePaymentID: payment.StripePaymentID,
			})
		}
	}
}

var devices = []weighted[string]{{"android", 0.2}, {"ios", 0.25}, {"web", 0.55}}

func (g *generator) activity(userID uuid.UUID, kind string, at time.Time, meta map[string]any) {
	g.ds.Activities = append(g.ds.Activities, model.ActivityEvent{
		ID:           newID(g.rng),
		UserID:       userID,
		ActivityType: kind,
		Metadata:     meta,
		OccurredAt:   at,
	})
}

// generateActivity derives the activity log from the timeline built so far.
func (g *generator) generateActivity() {
	for i := range g.ds.Users {
		u := &g.ds.Users[i]
		g.activity(u.ID, "signup", u.CreatedAt, map[string]any{"channel": string(u.SignupChannel)})
		if u.ActivatedAt == nil {
			continue
		}
		last := *u.LastLoginAt
		logins := g.rng.Intn(g.cfg.MaxLogins)
		for k := 0; k < logins; k++ {
			g.activity(u.ID, "login", between(g.rng, *u.ActivatedAt, last), map[string]any{"device": pick(g.rng, devices)})
		}
		g.activity(u.ID, "login", last, map[string]any{"device": pick(g.rng, devices)})
	}

	for i := range g.ds.Projects {
		p := &g.ds.Projects[i]
		g.activity(p.UserID, "project_created", p.CreatedAt, map[string]any{"project_id": p.ID.String()})
	}
	for i := range g.ds.Tasks {
		t := &g.ds.Tasks[i]
		if t.CompletedAt != nil {
			g.activity(t.UserID, "task_completed", *t.CompletedAt, map[string]any{
				"task_id":    t.ID.String(),
				"project_id": t.ProjectID.String(),
			})
		}
	}
	for i := range g.ds.Memberships {
		m := &g.ds.Memberships[i]
		g.activity(m.InviterUserID, "team_invite_sent", m.InvitedAt, map[string]any{
			"project_id": m.ProjectID.String(),
			"role":       m.Role,
		})
	}
	for i := range g.ds.Subscriptions {
		s := &g.ds.Subscriptions[i]
		name := g.ds.PlanOf(s)
		if !name.Paid() {
			continue
		}
		g.activity(s.UserID, "subscription_upgraded", s.StartedAt, map[string]any{"plan": string(name), "billing_cycle": string(s.BillingCycle)})
		if s.CancelledAt != nil {
			g.activity(s.UserID, "subscription_cancelled", *s.CancelledAt, map[string]any{"plan": string(name)})
		}
	}
}

var stagePages = map[model.FunnelStage]string{
	model.StageSignup:              "/signup",
	model.StageEmailVerified:       "/verify-email",
	model.StageOnboardingCompleted: "/onboarding",
	model.StageFirstProject:        "/projects/new",
	model.StagePaymentPageViewed:   "/pricing",
	model.StageSubscriptionCreated: "/checkout/success",
}

// generateFunnel emits each user's funnel checkpoints from the timeline.
// Stage instants are kept in funnel order.
func (g *generator) generateFunnel() {
	for i := range g.accounts {
		acc := &g.accounts[i]
		u := &g.ds.Users[i]
		session := token(g.rng, "sess_", 8)
		emit := func(stage model.FunnelStage, at time.Time) {
			g.ds.FunnelEvents = append(g.ds.FunnelEvents, model.FunnelEvent{
				ID:         newID(g.rng),
				UserID:     u.ID,
				EventName:  stage,
				OccurredAt: at,
				SessionID:  session,
				PageURL:    stagePages[stage],
			})
		}

		emit(model.StageSignup, u.CreatedAt)

		if u.ActivatedAt == nil {
			if chance(g.rng, g.cfg.EmailVerificationRate) {
				emit(model.StageEmailVerified, between(g.rng, u.CreatedAt, minTime(g.end, u.CreatedAt.Add(time.Hour))))
			}
			continue
		}

		activated := *u.ActivatedAt
		emit(model.StageEmailVerified, between(g.rng, u.CreatedAt, minTime(activated, u.CreatedAt.Add(time.Hour))))
		emit(model.StageOnboardingCompleted, activated)

		reached := activated
		if acc.firstProj != nil {
			emit(model.StageFirstProject, *acc.firstProj)
			reached = *acc.firstProj
		}

		if acc.paid >= 0 {
			emit(model.StagePaymentPageViewed, between(g.rng, minTime(reached, acc.upgradeAt), acc.upgradeAt))
			emit(model.StageSubscriptionCreated, acc.upgradeAt)
		} else if chance(g.rng, g.cfg.PaymentPageRate) {
			emit(model.StagePaymentPageViewed, between(g.rng, reached, g.end))
		}
	}
}
