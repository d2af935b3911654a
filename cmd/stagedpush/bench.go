package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/internal/config"
	"github.com/velmie/stagedpush/redis"
)

const (
	defaultBenchRecords      = 10000
	defaultBenchPayloadBytes = 512
	defaultBenchWorkers      = 4
	defaultProgressInterval  = 10 * time.Second
	benchPollInterval        = 10 * time.Millisecond
	percentileP50            = 0.50
	percentileP95            = 0.95
	percentileP99            = 0.99
)

var errProcessedMismatch = errors.New("stagedpush bench: processed records mismatch")

type benchResult struct {
	Records      int           `json:"records"`
	Processed    int64         `json:"processed"`
	Failures     int64         `json:"failures"`
	SeedDuration time.Duration `json:"seed_duration"`
	RunDuration  time.Duration `json:"run_duration"`
	Throughput   float64       `json:"throughput_jobs_per_sec"`
	Workers      int           `json:"workers"`
	BatchSize    int           `json:"batch_size"`
	MaxSlots     int           `json:"max_slots"`
	PayloadBytes int           `json:"payload_bytes"`
	Forwarder    string        `json:"forwarder"`
	BatchP50Ms   float64       `json:"batch_p50_ms"`
	BatchP95Ms   float64       `json:"batch_p95_ms"`
	BatchP99Ms   float64       `json:"batch_p99_ms"`
	BatchMaxMs   float64       `json:"batch_max_ms"`
	BatchMeanMs  float64       `json:"batch_mean_ms"`
	BatchSamples int           `json:"batch_samples"`
}

type benchOptions struct {
	records          int
	payloadBytes     int
	workers          int
	discard          bool
	progressInterval time.Duration
	jsonOut          bool
}

func newBenchCmd(flags *globalFlags) *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Seed the staging table and measure relay throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.records < 1 || opts.workers < 1 {
				return usageError{msg: "--records and --workers must be at least 1"}
			}
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}

			res, err := runBench(cmd.Context(), cfg, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			return printBenchResult(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
	cmd.Flags().IntVar(&opts.records, "records", defaultBenchRecords, "number of jobs to stage and relay")
	cmd.Flags().IntVar(&opts.payloadBytes, "payload-bytes", defaultBenchPayloadBytes, "approximate size of each job payload")
	cmd.Flags().IntVar(&opts.workers, "workers", defaultBenchWorkers, "enqueuer workers")
	cmd.Flags().BoolVar(&opts.discard, "discard", true, "drop forwarded jobs instead of using the configured forwarder")
	cmd.Flags().DurationVar(&opts.progressInterval, "progress-interval", defaultProgressInterval, "progress update interval on stderr (0 disables)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print JSON result")

	return cmd
}

func runBench(ctx context.Context, cfg *config.Config, opts benchOptions, progress io.Writer) (benchResult, error) {
	st, err := openStaging(ctx, cfg)
	if err != nil {
		return benchResult{}, err
	}
	defer st.close()

	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return benchResult{}, err
	}
	defer func() { _ = client.Close() }()

	var (
		forwarder stagedpush.Forwarder = discardForwarder{}
		kind                           = "discard"
	)
	if !opts.discard {
		configured, closeForwarder, err := newForwarder(cfg, client)
		if err != nil {
			return benchResult{}, err
		}
		defer closeForwarder()
		forwarder, kind = configured, cfg.Forwarder.Kind
	}

	payload := buildPayload(opts.payloadBytes)
	seedStart := time.Now()
	for i := 0; i < opts.records; i++ {
		if _, err := st.stage(ctx, payload); err != nil {
			return benchResult{}, fmt.Errorf("seed job %d: %w", i, err)
		}
	}
	seedDuration := time.Since(seedStart)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	metrics := &benchMetrics{target: int64(opts.records), cancel: cancel}
	if opts.progressInterval > 0 {
		go reportProgress(runCtx, progress, opts.progressInterval, metrics, int64(opts.records))
	}

	slots := redis.NewSlotStore(client)
	relayOpts := append(cfg.RelayOptions(), stagedpush.WithPollInterval(benchPollInterval), stagedpush.WithMetrics(metrics))

	start := time.Now()
	err = stagedpush.RunWorkers(runCtx, opts.workers, func(int) *stagedpush.Enqueuer {
		return stagedpush.NewEnqueuer(st.claimer, forwarder, slots, relayOpts...)
	})
	duration := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return benchResult{}, err
	}

	processed := metrics.Processed()
	if processed < int64(opts.records) {
		return benchResult{}, fmt.Errorf("%w: processed %d records, expected %d", errProcessedMismatch, processed, opts.records)
	}

	snap := metrics.batch.Snapshot()
	runCfg := stagedpush.NewConfig(relayOpts...)

	return benchResult{
		Records:      opts.records,
		Processed:    processed,
		Failures:     metrics.Failures(),
		SeedDuration: seedDuration,
		RunDuration:  duration,
		Throughput:   float64(processed) / duration.Seconds(),
		Workers:      opts.workers,
		BatchSize:    runCfg.BatchSize,
		MaxSlots:     runCfg.MaxSlots,
		PayloadBytes: opts.payloadBytes,
		Forwarder:    kind,
		BatchP50Ms:   msFloat(snap.P50),
		BatchP95Ms:   msFloat(snap.P95),
		BatchP99Ms:   msFloat(snap.P99),
		BatchMaxMs:   msFloat(snap.Max),
		BatchMeanMs:  msFloat(snap.Mean),
		BatchSamples: snap.Count,
	}, nil
}

func printBenchResult(w io.Writer, res benchResult, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(res)
	}

	_, err := fmt.Fprintf(w,
		"RESULT records=%d run=%s throughput=%.0f/s workers=%d slots=%d batch=%d payload=%dB forwarder=%s batch_p99=%.2fms\n",
		res.Records,
		res.RunDuration,
		res.Throughput,
		res.Workers,
		res.MaxSlots,
		res.BatchSize,
		res.PayloadBytes,
		res.Forwarder,
		res.BatchP99Ms,
	)

	return err
}

func reportProgress(ctx context.Context, w io.Writer, interval time.Duration, metrics *benchMetrics, target int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, "progress processed=%d/%d failures=%d\n", metrics.Processed(), target, metrics.Failures())
		}
	}
}

type discardForwarder struct{}

func (discardForwarder) Forward(context.Context, []stagedpush.Payload) error {
	return nil
}

// benchMetrics counts forwarded jobs and cancels the run once target is reached.
type benchMetrics struct {
	forwarded atomic.Int64
	failures  atomic.Int64
	target    int64
	cancel    func()
	batch     batchStats
}

func (m *benchMetrics) ObserveBatchDuration(d time.Duration) {
	m.batch.Add(d)
}

func (m *benchMetrics) AddForwarded(n int) {
	if n == 0 {
		return
	}
	total := m.forwarded.Add(int64(n))
	if m.target > 0 && m.cancel != nil && total >= m.target {
		m.cancel()
	}
}

func (m *benchMetrics) AddFailures(n int) {
	m.failures.Add(int64(n))
}

func (m *benchMetrics) SetPending(int)   {}
func (m *benchMetrics) SetSlotHeld(bool) {}

func (m *benchMetrics) Processed() int64 {
	return m.forwarded.Load()
}

func (m *benchMetrics) Failures() int64 {
	return m.failures.Load()
}

type batchStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (b *batchStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, d)
	b.mu.Unlock()
}

func (b *batchStats) Snapshot() batchSnapshot {
	b.mu.Lock()
	samples := append([]time.Duration(nil), b.samples...)
	b.mu.Unlock()
	if len(samples) == 0 {
		return batchSnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return batchSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

type batchSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// buildPayload returns a job whose JSON encoding is roughly size bytes.
func buildPayload(size int) stagedpush.Payload {
	payload := stagedpush.Payload{
		"class": "BenchJob",
		"args":  []any{""},
	}
	base, _ := json.Marshal(payload)
	// queue, jid and created_at are added when the job is staged
	pad := size - len(base) - 90
	if pad > 0 {
		payload["args"] = []any{strings.Repeat("a", pad)}
	}

	return payload
}
