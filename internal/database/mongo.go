package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"saas-analytics/internal/model"
)

const DefaultMongoDatabase = "saas_analytics"

// MongoStore keeps one collection per table. Amounts are Decimal128 and ids
// are their canonical string form. Load needs a replica set because it
// runs in a multi-document transaction.
type MongoStore struct {
	Database string
	client   *mongo.Client
}

func (md *MongoStore) Connect(ctx context.Context, uri string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}
	md.client = client
	return nil
}

func (md *MongoStore) Close() error {
	if md.client == nil {
		return nil
	}
	return md.client.Disconnect(context.Background())
}

func (md *MongoStore) Ping(ctx context.Context) error {
	return md.client.Ping(ctx, nil)
}

func (md *MongoStore) db() *mongo.Database {
	return md.client.Database(md.Database)
}

func (md *MongoStore) Reset(ctx context.Context) error {
	return md.db().Drop(ctx)
}

// Migrate creates the collections and the indexes standing in for the
// relational constraints, including one active subscription per user.
func (md *MongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		"plans": {{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		"users": {{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		"subscriptions": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().
					SetName("subscriptions_one_active").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(model.SubscriptionActive)}),
			},
		},
		"revenue_events": {{Keys: bson.D{{Key: "occurred_at", Value: 1}}}},
		"funnel_events":  {{Keys: bson.D{{Key: "user_id", Value: 1}}}},
	}
	for _, name := range tables {
		// Collections must exist before a transaction writes to them.
		if err := md.db().CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		models, ok := indexes[name]
		if !ok {
			continue
		}
		if _, err := md.db().Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to index %s: %w", name, err)
		}
	}
	return nil
}

func (md *MongoStore) ExecuteTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := md.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

type planDoc struct {
	ID             int                  `bson:"_id"`
	Name           string               `bson:"name"`
	PriceMonthly   primitive.Decimal128 `bson:"price_monthly"`
	PriceAnnual    primitive.Decimal128 `bson:"price_annual"`
	MaxProjects    int                  `bson:"max_projects"`
	MaxTeamMembers int                  `bson:"max_team_members"`
	Features       map[string]bool      `bson:"features"`
}

type userDoc struct {
	ID             string     `bson:"_id"`
	Email          string     `bson:"email"`
	CreatedAt      time.Time  `bson:"created_at"`
	ActivatedAt    *time.Time `bson:"activated_at,omitempty"`
	LastLoginAt    *time.Time `bson:"last_login_at,omitempty"`
	Status         string     `bson:"status"`
	SignupChannel  string     `bson:"signup_channel"`
	CountryCode    string     `bson:"country_code"`
	UTMSource      string     `bson:"utm_source,omitempty"`
	UTMMedium      string     `bson:"utm_medium,omitempty"`
	UTMCampaign    string     `bson:"utm_campaign,omitempty"`
	ReferredByUser *string    `bson:"referred_by_user_id,omitempty"`
}

type subscriptionDoc struct {
	ID           string               `bson:"_id"`
	UserID       string               `bson:"user_id"`
	PlanID       int                  `bson:"plan_id"`
	Status       string               `bson:"status"`
	BillingCycle string               `bson:"billing_cycle"`
	StartedAt    time.Time            `bson:"started_at"`
	EndedAt      *time.Time           `bson:"ended_at,omitempty"`
	CancelledAt  *time.Time           `bson:"cancelled_at,omitempty"`
	MRR          primitive.Decimal128 `bson:"mrr"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type projectDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	Name        string     `bson:"name"`
	CreatedAt   time.Time  `bson:"created_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	IsActive    bool       `bson:"is_active"`
}

type taskDoc struct {
	ID          string     `bson:"_id"`
	ProjectID   string     `bson:"project_id"`
	UserID      string     `bson:"user_id"`
	Title       string     `bson:"title"`
	CreatedAt   time.Time  `bson:"created_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	IsCompleted bool       `bson:"is_completed"`
}

type membershipDoc struct {
	ID            string     `bson:"_id"`
	InviterUserID string     `bson:"inviter_user_id"`
	InvitedUserID string     `bson:"invited_user_id"`
	ProjectID     string     `bson:"project_id"`
	InvitedAt     time.Time  `bson:"invited_at"`
	AcceptedAt    *time.Time `bson:"accepted_at,omitempty"`
	Role          string     `bson:"role"`
}

type revenueDoc struct {
	ID              string               `bson:"_id"`
	UserID          string               `bson:"user_id"`
	SubscriptionID  string               `bson:"subscription_id"`
	Amount          primitive.Decimal128 `bson:"amount"`
	EventType       string               `bson:"event_type"`
	OccurredAt      time.Time            `bson:"occurred_at"`
	StripePaymentID string               `bson:"stripe_payment_id,omitempty"`
}

type activityDoc struct {
	ID           string         `bson:"_id"`
	UserID       string         `bson:"user_id"`
	ActivityType string         `bson:"activity_type"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	OccurredAt   time.Time      `bson:"occurred_at"`
}

type funnelDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	EventName  string    `bson:"event_name"`
	OccurredAt time.Time `bson:"occurred_at"`
	SessionID  string    `bson:"session_id,omitempty"`
	PageURL    string    `bson:"page_url,omitempty"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return amount(d.String())
}

// documents converts every table of ds to its documents, keyed by
// collection.
func documents(ds *model.Dataset) (map[string][]interface{}, error) {
	out := make(map[string][]interface{}, len(tables))

	for i := range ds.Plans {
		p := &ds.Plans[i]
		monthly, err := toDecimal128(p.PriceMonthly)
		if err != nil {
			return nil, err
		}
		annual, err := toDecimal128(p.PriceAnnual)
		if err != nil {
			return nil, err
		}
		out["plans"] = append(out["plans"], planDoc{p.ID, string(p.Name), monthly, annual, p.MaxProjects, p.MaxTeamMembers, p.Features})
	}
	for i := range ds.Users {
		u := &ds.Users[i]
		out["users"] = append(out["users"], userDoc{
			ID: u.ID.String(), Email: u.Email, CreatedAt: u.CreatedAt, ActivatedAt: u.ActivatedAt, LastLoginAt: u.LastLoginAt,
			Status: string(u.Status), SignupChannel: string(u.SignupChannel), CountryCode: u.CountryCode,
			UTMSource: u.UTMSource, UTMMedium: u.UTMMedium, UTMCampaign: u.UTMCampaign, ReferredByUser: nullUUID(u.ReferredByUser),
		})
	}
	for i := range ds.Subscriptions {
		s := &ds.Subscriptions[i]
		mrr, err := toDecimal128(s.MRR)
		if err != nil {
			return nil, err
		}
		out["subscriptions"] = append(out["subscriptions"], subscriptionDoc{
			ID: s.ID.String(), UserID: s.UserID.String(), PlanID: s.PlanID, Status: string(s.Status),
			BillingCycle: string(s.BillingCycle), StartedAt: s.StartedAt, EndedAt: s.EndedAt, CancelledAt: s.CancelledAt,
			MRR: mrr, CreatedAt: s.CreatedAt,
		})
	}
	for i := range ds.Projects {
		p := &ds.Projects[i]
		out["projects"] = append(out["projects"], projectDoc{p.ID.String(), p.UserID.String(), p.Name, p.CreatedAt, p.CompletedAt, p.IsActive})
	}
	for i := range ds.Tasks {
		t := &ds.Tasks[i]
		out["tasks"] = append(out["tasks"], taskDoc{t.ID.String(), t.ProjectID.String(), t.UserID.String(), t.Title, t.CreatedAt, t.CompletedAt, t.IsCompleted})
	}
	for i := range ds.Memberships {
		m := &ds.Memberships[i]
		out["team_memberships"] = append(out["team_memberships"], membershipDoc{
			m.ID.String(), m.InviterUserID.String(), m.InvitedUserID.String(), m.ProjectID.String(), m.InvitedAt, m.AcceptedAt, m.Role,
		})
	}
	for i := range ds.RevenueEvents {
		e := &ds.RevenueEvents[i]
		amt, err := toDecimal128(e.Amount)
		if err != nil {
			return nil, err
		}
		out["revenue_events"] = append(out["revenue_events"], revenueDoc{
			e.ID.String(), e.UserID.String(), e.SubscriptionID.String(), amt, string(e.EventType), e.OccurredAt, e.StripePaymentID,
		})
	}
	for i := range ds.Activities {
		a := &ds.Activities[i]
		out["user_activities"] = append(out["user_activities"], activityDoc{a.ID.String(), a.UserID.String(), a.ActivityType, a.Metadata, a.OccurredAt})
	}
	for i := range ds.FunnelEvents {
		f := &ds.FunnelEvents[i]
		out["funnel_events"] = append(out["funnel_events"], funnelDoc{
			f.ID.String(), f.UserID.String(), string(f.EventName), f.OccurredAt, f.SessionID, f.PageURL,
		})
	}
	return out, nil
}

func (md *MongoStore) Load(ctx context.Context, ds *model.Dataset) error {
	docs, err := documents(ds)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return md.ExecuteTx(ctx, func(sc mongo.SessionContext) error {
		for _, name := range tables {
			err := chunks(len(docs[name]), func(lo, hi int) error {
				_, err := md.db().Collection(name).InsertMany(sc, docs[name][lo:hi])
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", name, err)
			}
		}
		return nil
	})
}

// Snapshot reads every collection in one snapshot session so all reads see
// the same point in time.
func (md *MongoStore) Snapshot(ctx context.Context) (*model.Dataset, error) {
	session, err := md.client.StartSession(options.Session().SetSnapshot(true))
	if err != nil {
		return nil, fmt.Errorf("failed to start snapshot session: %w", err)
	}
	defer session.EndSession(ctx)

	var (
		plans       []planDoc
		users       []userDoc
		subs        []subscriptionDoc
		projects    []projectDoc
		tasks       []taskDoc
		memberships []membershipDoc
		revenue     []revenueDoc
		activities  []activityDoc
		funnel      []funnelDoc
	)
	targets := map[string]interface{}{
		"plans": &plans, "users": &users, "subscriptions": &subs, "projects": &projects, "tasks": &tasks,
		"team_memberships": &memberships, "revenue_events": &revenue, "user_activities": &activities, "funnel_events": &funnel,
	}
	err = mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		for _, name := range tables {
			cur, err := md.db().Collection(name).Find(sc, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}
			if err := cur.All(sc, targets[name]); err != nil {
				return fmt.Errorf("failed to decode %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return fromDocuments(plans, users, subs, projects, tasks, memberships, revenue, activities, funnel)
}

func fromDocuments(plans []planDoc, users []userDoc, subs []subscriptionDoc, projects []projectDoc, tasks []taskDoc,
	memberships []membershipDoc, revenue []revenueDoc, activities []activityDoc, funnel []funnelDoc) (*model.Dataset, error) {
	ds := &model.Dataset{}
	var firstErr error
	id := func(s string) uuid.UUID {
		u, err := uuid.Parse(s)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid id %q: %w", s, err)
		}
		return u
	}
	money := func(d primitive.Decimal128) decimal.Decimal {
		v, err := fromDecimal128(d)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	}

	for _, p := range plans {
		ds.Plans = append(ds.Plans, model.Plan{
			ID: p.ID, Name: model.PlanName(p.Name), PriceMonthly: money(p.PriceMonthly), PriceAnnual: money(p.PriceAnnual),
			MaxProjects: p.MaxProjects, MaxTeamMembers: p.MaxTeamMembers, Features: p.Features,
		})
	}
	for _, u := range users {
		ref, err := parseNullUUID(u.ReferredByUser)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		ds.Users = append(ds.Users, model.User{
			ID: id(u.ID), Email: u.Email, CreatedAt: u.CreatedAt.UTC(), ActivatedAt: utc(u.ActivatedAt), LastLoginAt: utc(u.LastLoginAt),
			Status: model.UserStatus(u.Status), SignupChannel: model.SignupChannel(u.SignupChannel), CountryCode: u.CountryCode,
			UTMSource: u.UTMSource, UTMMedium: u.UTMMedium, UTMCampaign: u.UTMCampaign, ReferredByUser: ref,
		})
	}
	for _, s := range subs {
		ds.Subscriptions = append(ds.Subscriptions, model.Subscription{
			ID: id(s.ID), UserID: id(s.UserID), PlanID: s.PlanID, Status: model.SubscriptionStatus(s.Status),
			BillingCycle: model.BillingCycle(s.BillingCycle), StartedAt: s.StartedAt.UTC(), EndedAt: utc(s.EndedAt),
			CancelledAt: utc(s.CancelledAt), MRR: money(s.MRR), CreatedAt: s.CreatedAt.UTC(),
		})
	}
	for _, p := range projects {
		ds.Projects = append(ds.Projects, model.Project{
			ID: id(p.ID), UserID: id(p.UserID), Name: p.Name, CreatedAt: p.CreatedAt.UTC(), CompletedAt: utc(p.CompletedAt), IsActive: p.IsActive,
		})
	}
	for _, t := range tasks {
		ds.Tasks = append(ds.Tasks, model.Task{
			ID: id(t.ID), ProjectID: id(t.ProjectID), UserID: id(t.UserID), Title: t.Title,
			CreatedAt: t.CreatedAt.UTC(), CompletedAt: utc(t.CompletedAt), IsCompleted: t.IsCompleted,
		})
	}
	for _, m := range memberships {
		ds.Memberships = append(ds.Memberships, model.TeamMembership{
			ID: id(m.ID), InviterUserID: id(m.InviterUserID), InvitedUserID: id(m.InvitedUserID), ProjectID: id(m.ProjectID),
			InvitedAt: m.InvitedAt.UTC(), AcceptedAt: utc(m.AcceptedAt), Role: m.Role,
		})
	}
	for _, e := range revenue {
		ds.RevenueEvents = append(ds.RevenueEvents, model.RevenueEvent{
			ID: id(e.ID), UserID: id(e.UserID), SubscriptionID: id(e.SubscriptionID), Amount: money(e.Amount),
			EventType: model.RevenueEventType(e.EventType), OccurredAt: e.OccurredAt.UTC(), StripePaymentID: e.StripePaymentID,
		})
	}
	for _, a := range activities {
		ds.Activities = append(ds.Activities, model.ActivityEvent{
			ID: id(a.ID), UserID: id(a.UserID), ActivityType: a.ActivityType, Metadata: a.Metadata, OccurredAt: a.OccurredAt.UTC(),
		})
	}
	for _, f := range funnel {
		ds.FunnelEvents = append(ds.FunnelEvents, model.FunnelEvent{
			ID: id(f.ID), UserID: id(f.UserID), EventName: model.FunnelStage(f.EventName), OccurredAt: f.OccurredAt.UTC(),
			SessionID: f.SessionID, PageURL: f.PageURL,
		})
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return ds.Index(), nil
}
