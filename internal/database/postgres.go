package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"saas-analytics/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func (ps *PostgresStore) Connect(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres pool: %w", err)
	}
	ps.pool = pool
	return nil
}

func (ps *PostgresStore) Close() error {
	if ps.pool != nil {
		ps.pool.Close()
	}
	return nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStore) Reset(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := ps.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", tables[i])); err != nil {
			return fmt.Errorf("failed to drop %s: %w", tables[i], err)
		}
	}
	if _, err := ps.pool.Exec(ctx, "DROP FUNCTION IF EXISTS monthly_mrr(billing_cycle, NUMERIC)"); err != nil {
		return fmt.Errorf("failed to drop monthly_mrr: %w", err)
	}
	for _, typ := range PostgresTypes {
		if _, err := ps.pool.Exec(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s CASCADE", typ)); err != nil {
			return fmt.Errorf("failed to drop type %s: %w", typ, err)
		}
	}
	return nil
}

func (ps *PostgresStore) Migrate(ctx context.Context) error {
	return ps.ExecuteTx(ctx, func(ctx context.Context) error {
		for _, stmt := range PostgresSchema() {
			if _, err := ps.exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return nil
	})
}

// ExecuteTx runs fn inside a transaction carried on the context. The
// transaction commits when fn returns nil and rolls back otherwise,
// including on panic.
func (ps *PostgresStore) ExecuteTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

func (ps *PostgresStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx.Exec(ctx, sql, args...)
	}
	return ps.pool.Exec(ctx, sql, args...)
}

func (ps *PostgresStore) sendBatch(ctx context.Context, b *pgx.Batch) error {
	var br pgx.BatchResults
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		br = tx.SendBatch(ctx, b)
	} else {
		br = ps.pool.SendBatch(ctx, b)
	}
	return br.Close()
}

// Load inserts the dataset table by table in one transaction. Every
// parameter is sent as text and cast in SQL.
func (ps *PostgresStore) Load(ctx context.Context, ds *model.Dataset) error {
	return ps.ExecuteTx(ctx, func(ctx context.Context) error {
		steps := []struct {
			table string
			n     int
			queue func(b *pgx.Batch, i int) error
		}{
			{"plans", len(ds.Plans), func(b *pgx.Batch, i int) error {
				p := &ds.Plans[i]
				features, err := encodeJSON(p.Features)
				if err != nil {
					return err
				}
				b.Queue(`INSERT INTO plans (id, name, price_monthly, price_annual, max_projects, max_team_members, features)
					VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5, $6, $7::text::jsonb)`,
					p.ID, string(p.Name), p.PriceMonthly.String(), p.PriceAnnual.String(), p.MaxProjects, p.MaxTeamMembers, features)
				return nil
			}},
			{"users", len(ds.Users), func(b *pgx.Batch, i int) error {
				u := &ds.Users[i]
				b.Queue(`INSERT INTO users (id, email, created_at, activated_at, last_login_at, status, signup_channel,
						country_code, utm_source, utm_medium, utm_campaign, referred_by_user_id)
					VALUES ($1::text::uuid, $2, $3, $4, $5, $6::text::user_status, $7::text::signup_channel,
						$8, $9, $10, $11, $12::text::uuid)`,
					u.ID.String(), u.Email, u.CreatedAt, u.ActivatedAt, u.LastLoginAt, string(u.Status), string(u.SignupChannel),
					u.CountryCode, nullString(u.UTMSource), nullString(u.UTMMedium), nullString(u.UTMCampaign), nullUUID(u.ReferredByUser))
				return nil
			}},
			{"subscriptions", len(ds.Subscriptions), func(b *pgx.Batch, i int) error {
				s := &ds.Subscriptions[i]
				b.Queue(`INSERT INTO subscriptions (id, user_id, plan_id, status, billing_cycle, started_at, ended_at,
						cancelled_at, mrr, created_at)
					VALUES ($1::text::uuid, $2::text::uuid, $3, $4::text::subscription_status, $5::text::billing_cycle,
						$6, $7, $8, $9::text::numeric, $10)`,
					s.ID.String(), s.UserID.String(), s.PlanID, string(s.Status), string(s.BillingCycle),
					s.StartedAt, s.EndedAt, s.CancelledAt, s.MRR.String(), s.CreatedAt)
				return nil
			}},
			{"projects", len(ds.Projects), func(b *pgx.Batch, i int) error {
				p := &ds.Projects[i]
				b.Queue(`INSERT INTO projects (id, user_id, name, created_at, completed_at, is_active)
					VALUES ($1::text::uuid, $2::text::uuid, $3, $4, $5, $6)`,
					p.ID.String(), p.UserID.String(), p.Name, p.CreatedAt, p.CompletedAt, p.IsActive)
				return nil
			}},
			{"tasks", len(ds.Tasks), func(b *pgx.Batch, i int) error {
				t := &ds.Tasks[i]
				b.Queue(`INSERT INTO tasks (id, project_id, user_id, title, created_at, completed_at, is_completed)
					VALUES ($1::text::uuid, $2::text::uuid, $3::text::uuid, $4, $5, $6, $7)`,
					t.ID.String(), t.ProjectID.String(), t.UserID.String(), t.Title, t.CreatedAt, t.CompletedAt, t.IsCompleted)
				return nil
			}},
			{"team_memberships", len(ds.Memberships), func(b *pgx.Batch, i int) error {
				m := &ds.Memberships[i]
				b.Queue(`INSERT INTO team_memberships (id, inviter_user_id, invited_user_id, project_id, invited_at, accepted_at, role)
					VALUES ($1::text::uuid, $2::text::uuid, $3::text::uuid, $4::text::uuid, $5, $6, $7)`,
					m.ID.String(), m.InviterUserID.String(), m.InvitedUserID.String(), m.ProjectID.String(), m.InvitedAt, m.AcceptedAt, m.Role)
				return nil
			}},
			{"revenue_events", len(ds.RevenueEvents), func(b *pgx.Batch, i int) error {
				e := &ds.RevenueEvents[i]
				b.Queue(`INSERT INTO revenue_events (id, user_id, subscription_id, amount, event_type, occurred_at, stripe_payment_id)
					VALUES ($1::text::uuid, $2::text::uuid, $3::text::uuid, $4::text::numeric, $5::text::revenue_event_type, $6, $7)`,
					e.ID.String(), e.UserID.String(), e.SubscriptionID.String(), e.Amount.String(), string(e.EventType), e.OccurredAt, nullString(e.StripePaymentID))
				return nil
			}},
			{"user_activities", len(ds.Activities), func(b *pgx.Batch, i int) error {
				a := &ds.Activities[i]
				var meta *string
				if a.Metadata != nil {
					s, err := encodeJSON(a.Metadata)
					if err != nil {
						return err
					}
					meta = &s
				}
				b.Queue(`INSERT INTO user_activities (id, user_id, activity_type, metadata, occurred_at)
					VALUES ($1::text::uuid, $2::text::uuid, $3, $4::text::jsonb, $5)`,
					a.ID.String(), a.UserID.String(), a.ActivityType, meta, a.OccurredAt)
				return nil
			}},
			{"funnel_events", len(ds.FunnelEvents), func(b *pgx.Batch, i int) error {
				f := &ds.FunnelEvents[i]
				b.Queue(`INSERT INTO funnel_events (id, user_id, event_name, occurred_at, session_id, page_url)
					VALUES ($1::text::uuid, $2::text::uuid, $3, $4, $5, $6)`,
					f.ID.String(), f.UserID.String(), string(f.EventName), f.OccurredAt, nullString(f.SessionID), nullString(f.PageURL))
				return nil
			}},
		}

		for _, step := range steps {
			err := chunks(step.n, func(lo, hi int) error {
				b := &pgx.Batch{}
				for i := lo; i < hi; i++ {
					if err := step.queue(b, i); err != nil {
						return err
					}
				}
				return ps.sendBatch(ctx, b)
			})
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", step.table, err)
			}
		}
		return nil
	})
}

// Snapshot reads every table in one repeatable-read, read-only transaction.
func (ps *PostgresStore) Snapshot(ctx context.Context) (*model.Dataset, error) {
	tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	ds := &model.Dataset{}
	readers := []struct {
		table string
		query string
		scan  func(pgx.Rows) error
	}{
		{"plans", `SELECT id, name, price_monthly::text, price_annual::text, max_projects, max_team_members, features::text
			FROM plans ORDER BY id`, func(rows pgx.Rows) error {
			var p model.Plan
			var name, monthly, annual, features string
			if err := rows.Scan(&p.ID, &name, &monthly, &annual, &p.MaxProjects, &p.MaxTeamMembers, &features); err != nil {
				return err
			}
			var err error
			p.Name = model.PlanName(name)
			if p.PriceMonthly, err = amount(monthly); err != nil {
				return err
			}
			if p.PriceAnnual, err = amount(annual); err != nil {
				return err
			}
			if err := decodeInto(features, &p.Features); err != nil {
				return err
			}
			ds.Plans = append(ds.Plans, p)
			return nil
		}},
		{"users", `SELECT id::text, email, created_at, activated_at, last_login_at, status::text, signup_channel::text,
				country_code, utm_source, utm_medium, utm_campaign, referred_by_user_id::text
			FROM users ORDER BY created_at, id`, func(rows pgx.Rows) error {
			var u model.User
			var id, status, channel string
			var source, medium, campaign, referrer *string
			if err := rows.Scan(&id, &u.Email, &u.CreatedAt, &u.ActivatedAt, &u.LastLoginAt, &status, &channel,
				&u.CountryCode, &source, &medium, &campaign, &referrer); err != nil {
				return err
			}
			var err error
			if u.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if u.ReferredByUser, err = parseNullUUID(referrer); err != nil {
				return err
			}
			u.Status, u.SignupChannel = model.UserStatus(status), model.SignupChannel(channel)
			u.UTMSource, u.UTMMedium, u.UTMCampaign = deref(source), deref(medium), deref(campaign)
			u.CreatedAt, u.ActivatedAt, u.LastLoginAt = u.CreatedAt.UTC(), utc(u.ActivatedAt), utc(u.LastLoginAt)
			ds.Users = append(ds.Users, u)
			return nil
		}},
		{"subscriptions", `SELECT id::text, user_id::text, plan_id, status::text, billing_cycle::text, started_at,
				ended_at, cancelled_at, mrr::text, created_at
			FROM subscriptions ORDER BY started_at, id`, func(rows pgx.Rows) error {
			var s model.Subscription
			var id, userID, status, cycle, mrr string
			if err := rows.Scan(&id, &userID, &s.PlanID, &status, &cycle, &s.StartedAt, &s.EndedAt, &s.CancelledAt, &mrr, &s.CreatedAt); err != nil {
				return err
			}
			var err error
			if s.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if s.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			if s.MRR, err = amount(mrr); err != nil {
				return err
			}
			s.Status, s.BillingCycle = model.SubscriptionStatus(status), model.BillingCycle(cycle)
			s.StartedAt, s.CreatedAt = s.StartedAt.UTC(), s.CreatedAt.UTC()
			s.EndedAt, s.CancelledAt = utc(s.EndedAt), utc(s.CancelledAt)
			ds.Subscriptions = append(ds.Subscriptions, s)
			return nil
		}},
		{"projects", `SELECT id::text, user_id::text, name, created_at, completed_at, is_active
			FROM projects ORDER BY created_at, id`, func(rows pgx.Rows) error {
			var p model.Project
			var id, userID string
			if err := rows.Scan(&id, &userID, &p.Name, &p.CreatedAt, &p.CompletedAt, &p.IsActive); err != nil {
				return err
			}
			var err error
			if p.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if p.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			p.CreatedAt, p.CompletedAt = p.CreatedAt.UTC(), utc(p.CompletedAt)
			ds.Projects = append(ds.Projects, p)
			return nil
		}},
		{"tasks", `SELECT id::text, project_id::text, user_id::text, title, created_at, completed_at, is_completed
			FROM tasks ORDER BY created_at, id`, func(rows pgx.Rows) error {
			var t model.Task
			var id, projectID, userID string
			if err := rows.Scan(&id, &projectID, &userID, &t.Title, &t.CreatedAt, &t.CompletedAt, &t.IsCompleted); err != nil {
				return err
			}
			var err error
			if t.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if t.ProjectID, err = uuid.Parse(projectID); err != nil {
				return err
			}
			if t.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			t.CreatedAt, t.CompletedAt = t.CreatedAt.UTC(), utc(t.CompletedAt)
			ds.Tasks = append(ds.Tasks, t)
			return nil
		}},
		{"team_memberships", `SELECT id::text, inviter_user_id::text, invited_user_id::text, project_id::text,
				invited_at, accepted_at, role
			FROM team_memberships ORDER BY invited_at, id`, func(rows pgx.Rows) error {
			var m model.TeamMembership
			var id, inviter, invited, projectID string
			if err := rows.Scan(&id, &inviter, &invited, &projectID, &m.InvitedAt, &m.AcceptedAt, &m.Role); err != nil {
				return err
			}
			var err error
			for _, f := range []struct {
				dst *uuid.UUID
				src string
			}{{&m.ID, id}, {&m.InviterUserID, inviter}, {&m.InvitedUserID, invited}, {&m.ProjectID, projectID}} {
				if *f.dst, err = uuid.Parse(f.src); err != nil {
					return err
				}
			}
			m.InvitedAt, m.AcceptedAt = m.InvitedAt.UTC(), utc(m.AcceptedAt)
			ds.Memberships = append(ds.Memberships, m)
			return nil
		}},
		{"revenue_events", `SELECT id::text, user_id::text, subscription_id::text, amount::text, event_type::text,
				occurred_at, stripe_payment_id
			FROM revenue_events ORDER BY occurred_at, id`, func(rows pgx.Rows) error {
			var e model.RevenueEvent
			var id, userID, subID, amt, kind string
			var stripe *string
			if err := rows.Scan(&id, &userID, &subID, &amt, &kind, &e.OccurredAt, &stripe); err != nil {
				return err
			}
			var err error
			if e.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if e.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			if e.SubscriptionID, err = uuid.Parse(subID); err != nil {
				return err
			}
			if e.Amount, err = amount(amt); err != nil {
				return err
			}
			e.EventType, e.StripePaymentID = model.RevenueEventType(kind), deref(stripe)
			e.OccurredAt = e.OccurredAt.UTC()
			ds.RevenueEvents = append(ds.RevenueEvents, e)
			return nil
		}},
		{"user_activities", `SELECT id::text, user_id::text, activity_type, metadata::text, occurred_at
			FROM user_activities ORDER BY occurred_at, id`, func(rows pgx.Rows) error {
			var a model.ActivityEvent
			var id, userID string
			var meta *string
			if err := rows.Scan(&id, &userID, &a.ActivityType, &meta, &a.OccurredAt); err != nil {
				return err
			}
			var err error
			if a.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if a.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			if a.Metadata, err = decodeMetadata(meta); err != nil {
				return err
			}
			a.OccurredAt = a.OccurredAt.UTC()
			ds.Activities = append(ds.Activities, a)
			return nil
		}},
		{"funnel_events", `SELECT id::text, user_id::text, event_name, occurred_at, session_id, page_url
			FROM funnel_events ORDER BY occurred_at, id`, func(rows pgx.Rows) error {
			var f model.FunnelEvent
			var id, userID, name string
			var session, page *string
			if err := rows.Scan(&id, &userID, &name, &f.OccurredAt, &session, &page); err != nil {
				return err
			}
			var err error
			if f.ID, err = uuid.Parse(id); err != nil {
				return err
			}
			if f.UserID, err = uuid.Parse(userID); err != nil {
				return err
			}
			f.EventName, f.SessionID, f.PageURL = model.FunnelStage(name), deref(session), deref(page)
			f.OccurredAt = f.OccurredAt.UTC()
			ds.FunnelEvents = append(ds.FunnelEvents, f)
			return nil
		}},
	}

	for _, r := range readers {
		rows, err := tx.Query(ctx, r.query)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", r.table, err)
		}
		for rows.Next() {
			if err := r.scan(rows); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s: %w", r.table, err)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating %s: %w", r.table, err)
		}
	}

	return ds.Index(), nil
}
