package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"saas-analytics/internal/model"
)

type MySQLStore struct {
	db *sql.DB
}

// Connect forces parseTime and UTC on the DSN so DATETIME columns scan
// back into the instants that were written.
func (ms *MySQLStore) Connect(ctx context.Context, dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["time_zone"] = "'+00:00'"

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	ms.db = db
	return nil
}

func (ms *MySQLStore) Close() error {
	if ms.db == nil {
		return nil
	}
	return ms.db.Close()
}

func (ms *MySQLStore) Ping(ctx context.Context) error {
	return ms.db.PingContext(ctx)
}

func (ms *MySQLStore) Reset(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := ms.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tables[i]); err != nil {
			return fmt.Errorf("failed to drop %s: %w", tables[i], err)
		}
	}
	return nil
}

// Migrate runs the DDL statement by statement; MySQL commits DDL
// implicitly so there is no transaction to share.
func (ms *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range MySQLSchema() {
		if _, err := ms.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (ms *MySQLStore) ExecuteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// insertRows writes n rows with one multi-row INSERT per chunk.
func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(i int) ([]any, error)) error {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	return chunks(n, func(lo, hi int) error {
		values := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*len(columns))
		for i := lo; i < hi; i++ {
			r, err := row(i)
			if err != nil {
				return err
			}
			values = append(values, placeholder)
			args = append(args, r...)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(columns, ", "), strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to load %s: %w", table, err)
		}
		return nil
	})
}

func (ms *MySQLStore) Load(ctx context.Context, ds *model.Dataset) error {
	return ms.ExecuteTx(ctx, func(tx *sql.Tx) error {
		if err := insertRows(ctx, tx, "plans",
			[]string{"id", "name", "price_monthly", "price_annual", "max_projects", "max_team_members", "features"},
			len(ds.Plans), func(i int) ([]any, error) {
				p := &ds.Plans[i]
				features, err := encodeJSON(p.Features)
				if err != nil {
					return nil, err
				}
				return []any{p.ID, string(p.Name), p.PriceMonthly.String(), p.PriceAnnual.String(), p.MaxProjects, p.MaxTeamMembers, features}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "users",
			[]string{"id", "email", "created_at", "activated_at", "last_login_at", "status", "signup_channel",
				"country_code", "utm_source", "utm_medium", "utm_campaign", "referred_by_user_id"},
			len(ds.Users), func(i int) ([]any, error) {
				u := &ds.Users[i]
				return []any{u.ID.String(), u.Email, u.CreatedAt, u.ActivatedAt, u.LastLoginAt, string(u.Status), string(u.SignupChannel),
					u.CountryCode, nullString(u.UTMSource), nullString(u.UTMMedium), nullString(u.UTMCampaign), nullUUID(u.ReferredByUser)}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "subscriptions",
			[]string{"id", "user_id", "plan_id", "status", "billing_cycle", "started_at", "ended_at", "cancelled_at", "mrr", "created_at"},
			len(ds.Subscriptions), func(i int) ([]any, error) {
				s := &ds.Subscriptions[i]
				return []any{s.ID.String(), s.UserID.String(), s.PlanID, string(s.Status), string(s.BillingCycle),
					s.StartedAt, s.EndedAt, s.CancelledAt, s.MRR.String(), s.CreatedAt}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "projects",
			[]string{"id", "user_id", "name", "created_at", "completed_at", "is_active"},
			len(ds.Projects), func(i int) ([]any, error) {
				p := &ds.Projects[i]
				return []any{p.ID.String(), p.UserID.String(), p.Name, p.CreatedAt, p.CompletedAt, p.IsActive}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "tasks",
			[]string{"id", "project_id", "user_id", "title", "created_at", "completed_at", "is_completed"},
			len(ds.Tasks), func(i int) ([]any, error) {
				t := &ds.Tasks[i]
				return []any{t.ID.String(), t.ProjectID.String(), t.UserID.String(), t.Title, t.CreatedAt, t.CompletedAt, t.IsCompleted}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "team_memberships",
			[]string{"id", "inviter_user_id", "invited_user_id", "project_id", "invited_at", "accepted_at", "role"},
			len(ds.Memberships), func(i int) ([]any, error) {
				m := &ds.Memberships[i]
				return []any{m.ID.String(), m.InviterUserID.String(), m.InvitedUserID.String(), m.ProjectID.String(), m.InvitedAt, m.AcceptedAt, m.Role}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "revenue_events",
			[]string{"id", "user_id", "subscription_id", "amount", "event_type", "occurred_at", "stripe_payment_id"},
			len(ds.RevenueEvents), func(i int) ([]any, error) {
				e := &ds.RevenueEvents[i]
				return []any{e.ID.String(), e.UserID.String(), e.SubscriptionID.String(), e.Amount.String(), string(e.EventType), e.OccurredAt, nullString(e.StripePaymentID)}, nil
			}); err != nil {
			return err
		}

		if err := insertRows(ctx, tx, "user_activities",
			[]string{"id", "user_id", "activity_type", "metadata", "occurred_at"},
			len(ds.Activities), func(i int) ([]any, error) {
				a := &ds.Activities[i]
				var meta *string
				if a.Metadata != nil {
					s, err := encodeJSON(a.Metadata)
					if err != nil {
						return nil, err
					}
					meta = &s
				}
				return []any{a.ID.String(), a.UserID.String(), a.ActivityType, meta, a.OccurredAt}, nil
			}); err != nil {
			return err
		}

		return insertRows(ctx, tx, "funnel_events",
			[]string{"id", "user_id", "event_name", "occurred_at", "session_id", "page_url"},
			len(ds.FunnelEvents), func(i int) ([]any, error) {
				f := &ds.FunnelEvents[i]
				return []any{f.ID.String(), f.UserID.String(), string(f.EventName), f.OccurredAt, nullString(f.SessionID), nullString(f.PageURL)}, nil
			})
	})
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// Snapshot reads every table inside one repeatable-read, read-only
// transaction.
func (ms *MySQLStore) Snapshot(ctx context.Context) (*model.Dataset, error) {
	tx, err := ms.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	ds := &model.Dataset{}
	read := func(table, query string, scan func(*sql.Rows) error) error {
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", table, err)
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return fmt.Errorf("failed to scan %s: %w", table, err)
			}
		}
		return rows.Err()
	}

	parse := func(dst *uuid.UUID, src string) error {
		id, err := uuid.Parse(src)
		if err != nil {
			return err
		}
		*dst = id
		return nil
	}

	steps := []struct {
		table, query string
		scan         func(*sql.Rows) error
	}{
		{"plans", `SELECT id, name, price_monthly, price_annual, max_projects, max_team_members, features FROM plans ORDER BY id`,
			func(rows *sql.Rows) error {
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
		{"users", `SELECT id, email, created_at, activated_at, last_login_at, status, signup_channel, country_code,
				utm_source, utm_medium, utm_campaign, referred_by_user_id
			FROM users ORDER BY created_at, id`,
			func(rows *sql.Rows) error {
				var u model.User
				var id, status, channel string
				var activated, lastLogin sql.NullTime
				var source, medium, campaign, referrer sql.NullString
				if err := rows.Scan(&id, &u.Email, &u.CreatedAt, &activated, &lastLogin, &status, &channel, &u.CountryCode,
					&source, &medium, &campaign, &referrer); err != nil {
					return err
				}
				if err := parse(&u.ID, id); err != nil {
					return err
				}
				ref, err := parseNullUUID(fromNull(referrer))
				if err != nil {
					return err
				}
				u.ReferredByUser = ref
				u.CreatedAt = u.CreatedAt.UTC()
				u.ActivatedAt, u.LastLoginAt = nullTime(activated), nullTime(lastLogin)
				u.Status, u.SignupChannel = model.UserStatus(status), model.SignupChannel(channel)
				u.UTMSource, u.UTMMedium, u.UTMCampaign = source.String, medium.String, campaign.String
				ds.Users = append(ds.Users, u)
				return nil
			}},
		{"subscriptions", `SELECT id, user_id, plan_id, status, billing_cycle, started_at, ended_at, cancelled_at, mrr, created_at
			FROM subscriptions ORDER BY started_at, id`,
			func(rows *sql.Rows) error {
				var s model.Subscription
				var id, userID, status, cycle, mrr string
				var ended, cancelled sql.NullTime
				if err := rows.Scan(&id, &userID, &s.PlanID, &status, &cycle, &s.StartedAt, &ended, &cancelled, &mrr, &s.CreatedAt); err != nil {
					return err
				}
				if err := parse(&s.ID, id); err != nil {
					return err
				}
				if err := parse(&s.UserID, userID); err != nil {
					return err
				}
				var err error
				if s.MRR, err = amount(mrr); err != nil {
					return err
				}
				s.Status, s.BillingCycle = model.SubscriptionStatus(status), model.BillingCycle(cycle)
				s.StartedAt, s.CreatedAt = s.StartedAt.UTC(), s.CreatedAt.UTC()
				s.EndedAt, s.CancelledAt = nullTime(ended), nullTime(cancelled)
				ds.Subscriptions = append(ds.Subscriptions, s)
				return nil
			}},
		{"projects", `SELECT id, user_id, name, created_at, completed_at, is_active FROM projects ORDER BY created_at, id`,
			func(rows *sql.Rows) error {
				var p model.Project
				var id, userID string
				var completed sql.NullTime
				if err := rows.Scan(&id, &userID, &p.Name, &p.CreatedAt, &completed, &p.IsActive); err != nil {
					return err
				}
				if err := parse(&p.ID, id); err != nil {
					return err
				}
				if err := parse(&p.UserID, userID); err != nil {
					return err
				}
				p.CreatedAt, p.CompletedAt = p.CreatedAt.UTC(), nullTime(completed)
				ds.Projects = append(ds.Projects, p)
				return nil
			}},
		{"tasks", `SELECT id, project_id, user_id, title, created_at, completed_at, is_completed FROM tasks ORDER BY created_at, id`,
			func(rows *sql.Rows) error {
				var t model.Task
				var id, projectID, userID string
				var completed sql.NullTime
				if err := rows.Scan(&id, &projectID, &userID, &t.Title, &t.CreatedAt, &completed, &t.IsCompleted); err != nil {
					return err
				}
				for _, f := range []struct {
					dst *uuid.UUID
					src string
				}{{&t.ID, id}, {&t.ProjectID, projectID}, {&t.UserID, userID}} {
					if err := parse(f.dst, f.src); err != nil {
						return err
					}
				}
				t.CreatedAt, t.CompletedAt = t.CreatedAt.UTC(), nullTime(completed)
				ds.Tasks = append(ds.Tasks, t)
				return nil
			}},
		{"team_memberships", `SELECT id, inviter_user_id, invited_user_id, project_id, invited_at, accepted_at, role
			FROM team_memberships ORDER BY invited_at, id`,
			func(rows *sql.Rows) error {
				var m model.TeamMembership
				var id, inviter, invited, projectID string
				var accepted sql.NullTime
				if err := rows.Scan(&id, &inviter, &invited, &projectID, &m.InvitedAt, &accepted, &m.Role); err != nil {
					return err
				}
				for _, f := range []struct {
					dst *uuid.UUID
					src string
				}{{&m.ID, id}, {&m.InviterUserID, inviter}, {&m.InvitedUserID, invited}, {&m.ProjectID, projectID}} {
					if err := parse(f.dst, f.src); err != nil {
						return err
					}
				}
				m.InvitedAt, m.AcceptedAt = m.InvitedAt.UTC(), nullTime(accepted)
				ds.Memberships = append(ds.Memberships, m)
				return nil
			}},
		{"revenue_events", `SELECT id, user_id, subscription_id, amount, event_type, occurred_at, stripe_payment_id
			FROM revenue_events ORDER BY occurred_at, id`,
			func(rows *sql.Rows) error {
				var e model.RevenueEvent
				var id, userID, subID, amt, kind string
				var stripe sql.NullString
				if err := rows.Scan(&id, &userID, &subID, &amt, &kind, &e.OccurredAt, &stripe); err != nil {
					return err
				}
				for _, f := range []struct {
					dst *uuid.UUID
					src string
				}{{&e.ID, id}, {&e.UserID, userID}, {&e.SubscriptionID, subID}} {
					if err := parse(f.dst, f.src); err != nil {
						return err
					}
				}
				var err error
				if e.Amount, err = amount(amt); err != nil {
					return err
				}
				e.EventType, e.StripePaymentID = model.RevenueEventType(kind), stripe.String
				e.OccurredAt = e.OccurredAt.UTC()
				ds.RevenueEvents = append(ds.RevenueEvents, e)
				return nil
			}},
		{"user_activities", `SELECT id, user_id, activity_type, metadata, occurred_at FROM user_activities ORDER BY occurred_at, id`,
			func(rows *sql.Rows) error {
				var a model.ActivityEvent
				var id, userID string
				var meta sql.NullString
				if err := rows.Scan(&id, &userID, &a.ActivityType, &meta, &a.OccurredAt); err != nil {
					return err
				}
				if err := parse(&a.ID, id); err != nil {
					return err
				}
				if err := parse(&a.UserID, userID); err != nil {
					return err
				}
				var err error
				if a.Metadata, err = decodeMetadata(fromNull(meta)); err != nil {
					return err
				}
				a.OccurredAt = a.OccurredAt.UTC()
				ds.Activities = append(ds.Activities, a)
				return nil
			}},
		{"funnel_events", `SELECT id, user_id, event_name, occurred_at, session_id, page_url FROM funnel_events ORDER BY occurred_at, id`,
			func(rows *sql.Rows) error {
				var f model.FunnelEvent
				var id, userID, name string
				var session, page sql.NullString
				if err := rows.Scan(&id, &userID, &name, &f.OccurredAt, &session, &page); err != nil {
					return err
				}
				if err := parse(&f.ID, id); err != nil {
					return err
				}
				if err := parse(&f.UserID, userID); err != nil {
					return err
				}
				f.EventName, f.SessionID, f.PageURL = model.FunnelStage(name), session.String, page.String
				f.OccurredAt = f.OccurredAt.UTC()
				ds.FunnelEvents = append(ds.FunnelEvents, f)
				return nil
			}},
	}

	for _, step := range steps {
		if err := read(step.table, step.query, step.scan); err != nil {
			return nil, err
		}
	}
	return ds.Index(), nil
}
