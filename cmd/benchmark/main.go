package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/teampool/internal/api"
	"github.com/punchamoorthee/teampool/internal/models"
)

// settings holds the benchmark flags
type settings struct {
	targetURL   string
	secret      string
	concurrency int
	members     int
	pools       int
	maxMembers  uint32
	price       string
	prefix      string
	workload    string
}

// Metrics
type counters struct {
	totalRequests uint64
	joined200     uint64
	conflict409   uint64 // Full, already member, not open
	reject422     uint64
	failOther     uint64
}

func main() {
	var s settings
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Join storm against a running teampool API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), s)
		},
	}

	f := cmd.Flags()
	f.StringVar(&s.targetURL, "url", "http://localhost:8080", "API Base URL")
	f.StringVar(&s.secret, "jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret used to mint caller tokens")
	f.IntVar(&s.concurrency, "workers", 10, "Number of concurrent workers")
	f.IntVar(&s.members, "members", 1000, "Number of seeded member accounts to join with")
	f.IntVar(&s.pools, "pools", 10, "Number of pools for the uniform workload")
	f.Uint32Var(&s.maxMembers, "max-members", 50, "max_members of every created pool")
	f.StringVar(&s.price, "price", "1", "Pool price in whole units")
	f.StringVar(&s.prefix, "prefix", "member", "Seeded account id prefix")
	f.StringVar(&s.workload, "workload", "hotspot", "Workload type: uniform | hotspot")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Fatal("benchmark failed")
	}
}

func run(ctx context.Context, s settings) error {
	auth, err := api.NewAuthenticator(s.secret)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}

	poolCount := s.pools
	if s.workload == "hotspot" {
		// Hotspot: every worker races for the same pool
		poolCount = 1
	}

	creatorToken, err := auth.Issue("bench-creator", time.Hour)
	if err != nil {
		return err
	}
	poolIDs := make([]string, 0, poolCount)
	for i := 0; i < poolCount; i++ {
		id, err := createPool(ctx, client, s, creatorToken)
		if err != nil {
			return err
		}
		poolIDs = append(poolIDs, id)
	}

	logrus.WithFields(logrus.Fields{
		"workload": s.workload,
		"workers":  s.concurrency,
		"members":  s.members,
		"pools":    len(poolIDs),
	}).Info("starting benchmark")

	var c counters
	var next int64 = -1
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.concurrency; w++ {
		g.Go(func() error {
			for {
				i := atomic.AddInt64(&next, 1)
				if i >= int64(s.members) || gctx.Err() != nil {
					return nil
				}
				member := fmt.Sprintf("%s-%04d", s.prefix, i)
				token, err := auth.Issue(member, time.Hour)
				if err != nil {
					return err
				}
				poolID := poolIDs[rand.Intn(len(poolIDs))]
				join(gctx, client, s.targetURL, poolID, token, &c)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	printResults(s, &c, len(poolIDs), time.Since(start))
	return nil
}

func createPool(ctx context.Context, client *http.Client, s settings, token string) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"max_members": s.maxMembers,
		"price":       json.RawMessage(s.price),
		"privacy":     "public",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL+"/api/v1/pools", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create pool: unexpected status %d", resp.StatusCode)
	}
	var out models.PoolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create pool: %w", err)
	}
	return out.Pool.ID, nil
}

func join(ctx context.Context, client *http.Client, baseURL, poolID, token string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/pools/"+poolID+"/join", http.NoBody)
	if err != nil {
		atomic.AddUint64(&c.failOther, 1)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&c.failOther, 1)
		return
	}
	defer resp.Body.Close()

	atomic.AddUint64(&c.totalRequests, 1)
	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddUint64(&c.joined200, 1)
	case http.StatusConflict:
		atomic.AddUint64(&c.conflict409, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddUint64(&c.reject422, 1)
	default:
		atomic.AddUint64(&c.failOther, 1)
	}
}

func printResults(s settings, c *counters, pools int, d time.Duration) {
	total := atomic.LoadUint64(&c.totalRequests)
	joined := atomic.LoadUint64(&c.joined200)
	f409 := atomic.LoadUint64(&c.conflict409)

	rejectRate := 0.0
	if total > 0 {
		rejectRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          s.workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"joined":            joined,
		"joined_capacity":   uint64(s.maxMembers) * uint64(pools),
		"conflicts":         f409,
		"conflict_rate_pct": rejectRate,
		"rejected":          atomic.LoadUint64(&c.reject422),
		"errors":            atomic.LoadUint64(&c.failOther),
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", s.workload)
	file, err := os.Create(filename)
	if err != nil {
		logrus.WithError(err).Warn("could not write results file")
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
