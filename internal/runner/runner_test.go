package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"saas-analytics/internal/generator"
	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func dataset(tb testing.TB, users int) *model.Dataset {
	tb.Helper()
	cfg := generator.DefaultConfig()
	cfg.Users = users
	cfg.Now = now
	cfg.Seed = 11
	ds, err := generator.FromSeed(cfg)
	if err != nil {
		tb.Fatalf("generate: %v", err)
	}
	return ds
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunIterations(t *testing.T) {
	ds := dataset(t, 120)
	opts := Options{Concurrency: 4, Iterations: 20, Report: metrics.DefaultOptions()}

	result, err := Run(context.Background(), ds, opts, discard())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Operations != 20 {
		t.Errorf("expected 20 operations, got %d", result.Operations)
	}
	if result.Errors != 0 {
		t.Errorf("expected no errors, got %d", result.Errors)
	}
	if !result.DataIntegrity {
		t.Error("expected every report to match the baseline")
	}
	if result.P99Latency < result.P95Latency {
		t.Errorf("p99 %s below p95 %s", result.P99Latency, result.P95Latency)
	}
	if result.Fingerprint == "" {
		t.Error("expected a baseline fingerprint")
	}
}

func TestRunDuration(t *testing.T) {
	ds := dataset(t, 50)
	opts := Options{Concurrency: 2, Duration: 200 * time.Millisecond, Report: metrics.DefaultOptions()}

	start := time.Now()
	result, err := Run(context.Background(), ds, opts, discard())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run did not stop at its deadline, took %s", elapsed)
	}
	if result.Operations == 0 {
		t.Error("expected at least one operation")
	}
	if !result.DataIntegrity {
		t.Error("expected integrity to hold")
	}
}

func TestRunNeedsABound(t *testing.T) {
	_, err := Run(context.Background(), &model.Dataset{}, Options{Concurrency: 1}, discard())
	if !errors.Is(err, ErrUnbounded) {
		t.Fatalf("expected ErrUnbounded, got %v", err)
	}
}

func BenchmarkReports(b *testing.B) {
	ds := dataset(b, 1000)
	opts := metrics.DefaultOptions()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.Compute(ds, opts)
	}
}
