package model

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Dataset is one complete instance of the domain model. Writers fill the
// exported slices and call Index once; from then on the dataset is treated
// as an immutable snapshot and may be shared by any number of readers.
type Dataset struct {
	Users         []User           `json:"users"`
	Plans         []Plan           `json:"plans"`
	Subscriptions []Subscription   `json:"subscriptions"`
	Projects      []Project        `json:"projects"`
	Tasks         []Task           `json:"tasks"`
	Memberships   []TeamMembership `json:"team_memberships"`
	RevenueEvents []RevenueEvent   `json:"revenue_events"`
	Activities    []ActivityEvent  `json:"user_activities"`
	FunnelEvents  []FunnelEvent    `json:"funnel_events"`

	users         map[uuid.UUID]int
	plans         map[int]int
	planNames     map[PlanName]int
	subscriptions map[uuid.UUID]int
	projects      map[uuid.UUID]int
	subsByUser    map[uuid.UUID][]int
	revenueBySub  map[uuid.UUID][]int
	funnelByUser  map[uuid.UUID][]int
}

// Index builds the lookup tables. It must run after the last write and
// before the first read.
func (d *Dataset) Index() *Dataset {
	d.users = make(map[uuid.UUID]int, len(d.Users))
	for i := range d.Users {
		d.users[d.Users[i].ID] = i
	}

	d.plans = make(map[int]int, len(d.Plans))
	d.planNames = make(map[PlanName]int, len(d.Plans))
	for i := range d.Plans {
		d.plans[d.Plans[i].ID] = i
		d.planNames[d.Plans[i].Name] = i
	}

	d.projects = make(map[uuid.UUID]int, len(d.Projects))
	for i := range d.Projects {
		d.projects[d.Projects[i].ID] = i
	}

	d.subscriptions = make(map[uuid.UUID]int, len(d.Subscriptions))
	d.subsByUser = make(map[uuid.UUID][]int)
	for i := range d.Subscriptions {
		s := &d.Subscriptions[i]
		d.subscriptions[s.ID] = i
		d.subsByUser[s.UserID] = append(d.subsByUser[s.UserID], i)
	}
	for _, idx := range d.subsByUser {
		sort.SliceStable(idx, func(a, b int) bool {
			return d.Subscriptions[idx[a]].StartedAt.Before(d.Subscriptions[idx[b]].StartedAt)
		})
	}

	d.revenueBySub = make(map[uuid.UUID][]int)
	for i := range d.RevenueEvents {
		sid := d.RevenueEvents[i].SubscriptionID
		d.revenueBySub[sid] = append(d.revenueBySub[sid], i)
	}

	d.funnelByUser = make(map[uuid.UUID][]int)
	for i := range d.FunnelEvents {
		uid := d.FunnelEvents[i].UserID
		d.funnelByUser[uid] = append(d.funnelByUser[uid], i)
	}
	return d
}

func (d *Dataset) User(id uuid.UUID) (*User, bool) {
	i, ok := d.users[id]
	if !ok {
		return nil, false
	}
	return &d.Users[i], true
}

func (d *Dataset) Plan(id int) (*Plan, bool) {
	i, ok := d.plans[id]
	if !ok {
		return nil, false
	}
	return &d.Plans[i], true
}

func (d *Dataset) PlanByName(name PlanName) (*Plan, bool) {
	i, ok := d.planNames[name]
	if !ok {
		return nil, false
	}
	return &d.Plans[i], true
}

// PlanOf returns the plan name of a subscription, or "" for a dangling
// plan reference.
func (d *Dataset) PlanOf(s *Subscription) PlanName {
	if p, ok := d.Plan(s.PlanID); ok {
		return p.Name
	}
	return ""
}

func (d *Dataset) Subscription(id uuid.UUID) (*Subscription, bool) {
	i, ok := d.subscriptions[id]
	if !ok {
		return nil, false
	}
	return &d.Subscriptions[i], true
}

func (d *Dataset) Project(id uuid.UUID) (*Project, bool) {
	i, ok := d.projects[id]
	if !ok {
		return nil, false
	}
	return &d.Projects[i], true
}

// SubscriptionsOf returns the user's subscription history ordered by start.
func (d *Dataset) SubscriptionsOf(userID uuid.UUID) []*Subscription {
	idx := d.subsByUser[userID]
	out := make([]*Subscription, len(idx))
	for i, j := range idx {
		out[i] = &d.Subscriptions[j]
	}
	return out
}

// CurrentSubscription returns the subscription that decides the user's plan
// at t. When rows overlap because of bad data the most recently started row
// wins; equal starts fall back to the later created row and then to the
// greater id so the answer never depends on row order.
func (d *Dataset) CurrentSubscription(userID uuid.UUID, t time.Time) (*Subscription, bool) {
	var best *Subscription
	for _, j := range d.subsByUser[userID] {
		s := &d.Subscriptions[j]
		if !s.ActiveAt(t) {
			continue
		}
		if best == nil || Supersedes(s, best) {
			best = s
		}
	}
	return best, best != nil
}

// Supersedes reports whether a takes precedence over b as the current row.
func Supersedes(a, b *Subscription) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func (d *Dataset) RevenueOf(subscriptionID uuid.UUID) []*RevenueEvent {
	idx := d.revenueBySub[subscriptionID]
	out := make([]*RevenueEvent, len(idx))
	for i, j := range idx {
		out[i] = &d.RevenueEvents[j]
	}
	return out
}

func (d *Dataset) FunnelOf(userID uuid.UUID) []*FunnelEvent {
	idx := d.funnelByUser[userID]
	out := make([]*FunnelEvent, len(idx))
	for i, j := range idx {
		out[i] = &d.FunnelEvents[j]
	}
	return out
}
