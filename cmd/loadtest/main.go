package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

type config struct {
	baseURL     string
	requests    int
	concurrency int
	timeout     time.Duration
	paymentID   string
}

type result struct {
	latency time.Duration
	outcome string
	err     error
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var cfg config
	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the recon service")
	flag.IntVar(&cfg.requests, "requests", 1000, "total number of webhook deliveries")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.StringVar(&cfg.paymentID, "payment-id", "loadtest-pay-1", "payment id to deliver repeatedly")
	flag.Parse()

	if cfg.requests <= 0 || cfg.concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "requests and concurrency must be > 0")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"url":         cfg.baseURL,
		"requests":    cfg.requests,
		"concurrency": cfg.concurrency,
	}).Info("starting webhook load test")

	results := runLoad(ctx, cfg)
	report(results)
}

// runLoad отправляет одно и то же уведомление много раз подряд: нагрузочный
// профиль намеренно проверяет идемпотентность сверки под конкуренцией.
func runLoad(ctx context.Context, cfg config) []result {
	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{"id": cfg.paymentID},
	})

	client := &http.Client{Timeout: cfg.timeout}
	jobs := make(chan struct{})
	results := make([]result, 0, cfg.requests)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				res := deliver(ctx, client, cfg.baseURL, payload)

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < cfg.requests; i++ {
		select {
		case jobs <- struct{}{}:
		case <-ctx.Done():
			log.Warn("interrupted, finishing early")
			i = cfg.requests
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func deliver(ctx context.Context, client *http.Client, baseURL string, payload []byte) result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/payment/webhook", bytes.NewReader(payload))
	if err != nil {
		return result{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return result{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ack struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &ack)

	if resp.StatusCode != http.StatusOK {
		return result{latency: time.Since(start), err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return result{latency: time.Since(start), outcome: ack.Status}
}

func report(results []result) {
	if len(results) == 0 {
		log.Warn("no results collected")
		return
	}

	outcomes := make(map[string]int)
	latencies := make([]time.Duration, 0, len(results))
	var failed int
	for _, res := range results {
		if res.err != nil {
			failed++
			continue
		}
		outcomes[res.outcome]++
		latencies = append(latencies, res.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fields := log.Fields{
		"total":  len(results),
		"failed": failed,
	}
	for outcome, count := range outcomes {
		fields["outcome_"+outcome] = count
	}
	if len(latencies) > 0 {
		fields["p50"] = percentile(latencies, 50).String()
		fields["p95"] = percentile(latencies, 95).String()
		fields["p99"] = percentile(latencies, 99).String()
	}
	log.WithFields(fields).Info("load test finished")
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
