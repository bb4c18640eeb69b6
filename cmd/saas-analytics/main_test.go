package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"saas-analytics/internal/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateSummary(t *testing.T) {
	out, err := execute(t, "generate", "--users", "40", "--seed", "5", "--now", "2024-06-01")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "users:            40") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestReportJSON(t *testing.T) {
	out, err := execute(t, "report", "--format", "json", "--plan", "premium", "--as-of", "2024-05-01")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var rep metrics.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid json report: %v", err)
	}
	if rep.Filter.Plan != "premium" {
		t.Errorf("expected premium filter, got %q", rep.Filter.Plan)
	}
}

func TestReportRejectsUnknownPlan(t *testing.T) {
	if _, err := execute(t, "report", "--plan", "gold"); err == nil {
		t.Fatal("expected an error for an unknown plan")
	}
}

func TestCheckGeneratedData(t *testing.T) {
	out, err := execute(t, "check")
	if errors.Is(err, errViolations) {
		t.Fatalf("generated data should hold every invariant:\n%s", out)
	}
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0 violations, 0 warnings") {
		t.Errorf("unexpected check output:\n%s", out)
	}
}

func TestCheckCrossChecksPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	t.Setenv("POSTGRES_DSN", dsn)
	if out, err := execute(t, "seed", "--db", "postgres"); err != nil {
		t.Fatalf("seed: %v\n%s", err, out)
	}
	out, err := execute(t, "check", "--db", "postgres")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 violations, 0 warnings") {
		t.Errorf("expected sql reports to agree with the derivations:\n%s", out)
	}
}

func TestBenchIterations(t *testing.T) {
	out, err := execute(t, "bench", "--iterations", "4", "--concurrency", "2", "--duration", "0s")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if !strings.Contains(out, `"data_integrity": true`) {
		t.Errorf("unexpected bench output:\n%s", out)
	}
}
