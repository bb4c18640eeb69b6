package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"saas-analytics/internal/database"
	"saas-analytics/internal/httpapi"
	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
	"saas-analytics/internal/report"
	"saas-analytics/internal/runner"
)

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use RFC 3339 or YYYY-MM-DD", v)
}

func (a *app) generateCmd() *cobra.Command {
	var (
		users  int
		months int
		seed   int64
		now    string
		dump   bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic dataset and print a summary or the full dataset as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("users") {
				a.cfg.Generator.Users = users
			}
			if flags.Changed("months") {
				a.cfg.Generator.Months = months
			}
			if flags.Changed("seed") {
				a.cfg.Generator.Seed = seed
			}
			if now != "" {
				t, err := parseDate(now)
				if err != nil {
					return err
				}
				a.cfg.Generator.Now = t
			}

			ds, err := a.generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dump {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ds)
			}
			fmt.Fprintf(out, "plans:            %d\n", len(ds.Plans))
			fmt.Fprintf(out, "users:            %d\n", len(ds.Users))
			fmt.Fprintf(out, "subscriptions:    %d\n", len(ds.Subscriptions))
			fmt.Fprintf(out, "projects:         %d\n", len(ds.Projects))
			fmt.Fprintf(out, "tasks:            %d\n", len(ds.Tasks))
			fmt.Fprintf(out, "team memberships: %d\n", len(ds.Memberships))
			fmt.Fprintf(out, "revenue events:   %d\n", len(ds.RevenueEvents))
			fmt.Fprintf(out, "activities:       %d\n", len(ds.Activities))
			fmt.Fprintf(out, "funnel events:    %d\n", len(ds.FunnelEvents))
			return nil
		},
	}
	cmd.Flags().IntVar(&users, "users", 0, "number of users to generate")
	cmd.Flags().IntVar(&months, "months", 0, "length of the generated history in months")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	cmd.Flags().StringVar(&now, "now", "", "end of the generated window (defaults to the current time)")
	cmd.Flags().BoolVar(&dump, "json", false, "print the whole dataset as JSON")
	return cmd
}

func (a *app) seedCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the database, create the schema and load a generated dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := a.generate()
			if err != nil {
				return err
			}
			store, err := a.connect(ctx, kind)
			if err != nil {
				return err
			}
			defer store.Close()

			// Reset the database to ensure a clean state before loading
			if err := store.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset database: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
			start := time.Now()
			if err := store.Load(ctx, ds); err != nil {
				return fmt.Errorf("failed to load dataset: %w", err)
			}
			a.logger.Info("dataset loaded", "db", kind, "took", time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "db", "postgres", "database type (postgres, mysql, or mongo)")
	return cmd
}

type reportFlags struct {
	kind   string
	format string
	start  string
	end    string
	plan   string
	asOf   string
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "db", "", "read a snapshot from this database instead of generating in memory")
	cmd.Flags().StringVar(&f.start, "start", "", "inclusive start of the reporting window")
	cmd.Flags().StringVar(&f.end, "end", "", "exclusive end of the reporting window")
	cmd.Flags().StringVar(&f.plan, "plan", "", "restrict to one plan (free, basic, or premium)")
	cmd.Flags().StringVar(&f.asOf, "as-of", "", "instant point-in-time metrics are evaluated at")
}

func (f *reportFlags) options(base metrics.Options) (metrics.Options, error) {
	opts := base
	for _, p := range []struct {
		value string
		dst   **time.Time
	}{{f.start, &opts.Filter.Start}, {f.end, &opts.Filter.End}} {
		if p.value == "" {
			continue
		}
		t, err := parseDate(p.value)
		if err != nil {
			return opts, err
		}
		*p.dst = &t
	}
	if f.asOf != "" {
		t, err := parseDate(f.asOf)
		if err != nil {
			return opts, err
		}
		opts.AsOf = t
	}
	if f.plan != "" {
		plan := model.PlanName(f.plan)
		if !plan.Valid() {
			return opts, fmt.Errorf("unknown plan %q", f.plan)
		}
		opts.Filter.Plan = plan
	}
	return opts, nil
}

func (a *app) reportCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute every metric and print the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(a.cfg.Report.Options)
			if err != nil {
				return err
			}
			format := a.cfg.Report.Format
			if flags.format != "" {
				format = flags.format
			}
			ds, err := a.dataset(cmd.Context(), flags.kind)
			if err != nil {
				return err
			}
			return report.Write(cmd.OutOrStdout(), metrics.Compute(ds, opts), format)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.format, "format", "f", "", "output format (text, json, or yaml)")
	return cmd
}

var errViolations = errors.New("dataset violates model invariants")

func (a *app) checkCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate referential integrity and business rules of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.dataset(cmd.Context(), kind)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			violations := model.Validate(ds)
			for _, v := range violations {
				fmt.Fprintf(out, "violation: %s\n", v)
			}
			warnings := metrics.FunnelOrderWarnings(ds)
			if kind == "postgres" {
				mismatches, err := a.crossCheck(cmd.Context(), ds)
				if err != nil {
					return err
				}
				warnings = append(warnings, mismatches...)
			}
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "%d violations, %d warnings\n", len(violations), len(warnings))
			if len(violations) > 0 {
				return errViolations
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "db", "", "check a snapshot from this database instead of a fresh generation; postgres also cross-checks its SQL reports")
	return cmd
}

// crossCheck answers the headline questions in SQL and compares them with the
// derivations over the snapshot ds read from the same database.
func (a *app) crossCheck(ctx context.Context, ds *model.Dataset) ([]string, error) {
	store, err := a.connect(ctx, "postgres")
	if err != nil {
		return nil, err
	}
	defer store.Close()
	pg, ok := store.(*database.PostgresStore)
	if !ok {
		return nil, fmt.Errorf("unexpected store %T for postgres", store)
	}

	opts := a.cfg.Report.Options
	at := opts.AsOf
	if at.IsZero() {
		at = time.Now().UTC()
	}
	reports, err := pg.Reports(ctx, at, at.AddDate(0, 0, -opts.RevenueDays))
	if err != nil {
		return nil, fmt.Errorf("failed to run sql reports: %w", err)
	}
	mismatches := reports.Mismatches(ds)
	a.logger.Info("sql reports cross-checked", "at", at, "mismatches", len(mismatches))
	return mismatches, nil
}

func (a *app) benchCmd() *cobra.Command {
	var (
		kind        string
		concurrency int
		duration    time.Duration
		iterations  int64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compute reports concurrently over one snapshot and report latency and consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.cfg.Bench
			opts.Report = a.cfg.Report.Options
			flags := cmd.Flags()
			if flags.Changed("concurrency") {
				opts.Concurrency = concurrency
			}
			if flags.Changed("duration") {
				opts.Duration = duration
			}
			if flags.Changed("iterations") {
				opts.Iterations = iterations
			}

			ds, err := a.dataset(cmd.Context(), kind)
			if err != nil {
				return err
			}
			result, err := runner.Run(cmd.Context(), ds, opts, a.logger)
			if err != nil {
				return fmt.Errorf("benchmark failed: %w", err)
			}

			jsonOutput, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonOutput))
			if !result.DataIntegrity {
				return errors.New("reports over the same snapshot disagreed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "db", "", "read the snapshot from this database")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent readers")
	cmd.Flags().DurationVar(&duration, "duration", 0, "duration of the run")
	cmd.Flags().Int64Var(&iterations, "iterations", 0, "stop after this many reports")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var (
		kind string
		addr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports over HTTP from one snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ds, err := a.dataset(ctx, kind)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         addr,
				Handler:      httpapi.New(ds, a.cfg.Report.Options, a.logger),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&kind, "db", "", "read the snapshot from this database")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
