package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
)

// Options bounds a run. It stops when Duration elapses or Iterations
// reports have been computed, whichever comes first; a zero value disables
// that bound.
type Options struct {
	Concurrency int             `yaml:"concurrency"`
	Duration    time.Duration   `yaml:"duration"`
	Iterations  int64           `yaml:"iterations"`
	Report      metrics.Options `yaml:"-"`
}

type Result struct {
	Operations     int64         `json:"operations"`
	Errors         int64         `json:"errors"`
	Throughput     float64       `json:"throughput"`
	P95Latency     time.Duration `json:"p95_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	ErrorRate      float64       `json:"error_rate"`
	TotalTime      time.Duration `json:"total_time"`
	DataIntegrity  bool          `json:"data_integrity"`
	Fingerprint    string        `json:"fingerprint"`
}

var ErrUnbounded = errors.New("runner needs a duration or an iteration count")

// Run computes the full report over ds from Concurrency readers at once and
// checks every result against the first one. ds must be indexed and is
// never written.
func Run(ctx context.Context, ds *model.Dataset, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.Duration <= 0 && opts.Iterations <= 0 {
		return nil, ErrUnbounded
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	baseline, err := metrics.Compute(ds, opts.Report).Fingerprint()
	if err != nil {
		return nil, err
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	// Max latency of 10 minutes in microseconds, significant figures of 3
	histogram := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		started    atomic.Int64
		operations atomic.Int64
		failures   atomic.Int64
		mismatches atomic.Int64
	)

	logger.Info("starting report run", "concurrency", opts.Concurrency, "duration", opts.Duration, "iterations", opts.Iterations)
	totalStartTime := time.Now()

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for ctx.Err() == nil {
				if opts.Iterations > 0 && started.Add(1) > opts.Iterations {
					return
				}
				opStartTime := time.Now()
				fp, err := metrics.Compute(ds, opts.Report).Fingerprint()
				latency := time.Since(opStartTime)
				if err != nil {
					failures.Add(1)
					logger.Error("report failed", "worker", worker, "error", err)
					continue
				}
				if fp != baseline {
					mismatches.Add(1)
					logger.Warn("report differs from baseline", "worker", worker, "fingerprint", fp)
				}
				operations.Add(1)

				mu.Lock()
				histogram.RecordValue(latency.Microseconds())
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	result := &Result{
		Operations:    operations.Load(),
		Errors:        failures.Load() + mismatches.Load(),
		TotalTime:     time.Since(totalStartTime),
		DataIntegrity: mismatches.Load() == 0,
		Fingerprint:   baseline,
	}
	if secs := result.TotalTime.Seconds(); secs > 0 {
		result.Throughput = float64(result.Operations) / secs
	}
	if total := result.Operations + failures.Load(); total > 0 {
		result.ErrorRate = float64(result.Errors) / float64(total)
	}
	result.AverageLatency = time.Duration(histogram.Mean()) * time.Microsecond
	result.P95Latency = time.Duration(histogram.ValueAtQuantile(95)) * time.Microsecond
	result.P99Latency = time.Duration(histogram.ValueAtQuantile(99)) * time.Microsecond

	logger.Info("report run finished",
		"operations", result.Operations,
		"errors", result.Errors,
		"p95", result.P95Latency,
		"integrity", result.DataIntegrity,
	)
	return result, nil
}
