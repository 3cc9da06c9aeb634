// Command benchmark drives peer transfers against a running ledgerd seeded
// by the seeder.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/logging"
	"github.com/punchamoorthee/neoledger/internal/seed"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	amount      string
	replayRatio float64
	output      string
}

type counters struct {
	total     atomic.Uint64
	created   atomic.Uint64 // 201
	replayed  atomic.Uint64 // 200
	rejected  atomic.Uint64 // 422
	conflicts atomic.Uint64 // 409
	failed    atomic.Uint64
}

func main() {
	if err := newBenchmarkCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newBenchmarkCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "benchmark",
		Short:        "Load-test the peer transfer endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.workload != "uniform" && o.workload != "hotspot" {
				return fmt.Errorf("unknown workload %q", o.workload)
			}
			if o.accounts < 2 {
				return fmt.Errorf("need at least two seeded accounts")
			}
			return run(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.targetURL, "url", "http://localhost:8080", "API base URL")
	f.IntVar(&o.concurrency, "workers", 10, "number of concurrent workers")
	f.DurationVar(&o.duration, "duration", 30*time.Second, "test duration")
	f.StringVar(&o.workload, "workload", "uniform", "workload type: uniform | hotspot")
	f.IntVar(&o.accounts, "accounts", 1000, "number of seeded users to draw from")
	f.StringVar(&o.amount, "amount", "1.00", "amount of every transfer")
	f.Float64Var(&o.replayRatio, "replay-ratio", 0.05, "share of requests that resend the previous idempotency key")
	f.StringVar(&o.output, "output", "", "results file (default results_<workload>.json)")
	return cmd
}

func run(ctx context.Context, o options, out io.Writer) error {
	logging.L.Info("starting benchmark", "workload", o.workload, "workers", o.concurrency, "duration", o.duration)

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	var c counters
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for range o.concurrency {
		g.Go(func() error {
			worker(ctx, o, &c)
			return nil
		})
	}
	_ = g.Wait()

	return report(o, &c, time.Since(start), out)
}

type transfer struct {
	key    string
	sender uuid.UUID
	body   []byte
}

func worker(ctx context.Context, o options, c *counters) {
	client := &http.Client{Timeout: 5 * time.Second}
	var last transfer

	for ctx.Err() == nil {
		t := last
		if t.key == "" || rand.Float64() >= o.replayRatio {
			from, to := pick(o)
			body, _ := json.Marshal(map[string]string{
				"recipient": seed.AccountNumber(to),
				"amount":    o.amount,
			})
			t = transfer{key: uuid.NewString(), sender: seed.UserID(from), body: body}
			last = t
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.targetURL+"/api/v1/transfers/peer", bytes.NewReader(t.body))
		if err != nil {
			c.failed.Add(1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", t.key)
		req.Header.Set("X-User-ID", t.sender.String())

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.failed.Add(1)
			}
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.total.Add(1)
		switch resp.StatusCode {
		case http.StatusCreated:
			c.created.Add(1)
		case http.StatusOK:
			c.replayed.Add(1)
		case http.StatusUnprocessableEntity:
			c.rejected.Add(1)
		case http.StatusConflict:
			c.conflicts.Add(1)
		default:
			c.failed.Add(1)
		}
	}
}

// pick chooses sender and recipient indexes. The hotspot workload sends 90%
// of traffic between the first two users.
func pick(o options) (int, int) {
	if o.workload == "hotspot" && rand.Float32() < 0.90 {
		if rand.Float32() < 0.5 {
			return 0, 1
		}
		return 1, 0
	}
	a := rand.IntN(o.accounts)
	b := rand.IntN(o.accounts)
	for a == b {
		b = rand.IntN(o.accounts)
	}
	return a, b
}

func report(o options, c *counters, d time.Duration, out io.Writer) error {
	total := c.total.Load()
	rate := func(n uint64) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total) * 100
	}

	results := map[string]any{
		"workload":        o.workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_created": c.created.Load(),
		"success_replay":  c.replayed.Load(),
		"rejected":        c.rejected.Load(),
		"rejection_rate":  rate(c.rejected.Load()),
		"aborts_conflict": c.conflicts.Load(),
		"abort_rate_pct":  rate(c.conflicts.Load()),
		"errors":          c.failed.Load(),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	filename := o.output
	if filename == "" {
		filename = fmt.Sprintf("results_%s.json", o.workload)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
