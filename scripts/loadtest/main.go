// Script loadtest pushes a high volume of items to benchmark throughput.
// A share of the items goes to the flaky queue so released items show up
// in the metrics while workers drain the load.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leejennwah/reliable-queue/pkg/client"
)

const (
	defaultItemCount   = 100000
	defaultConcurrency = 200
	maxRetries         = 3
)

func main() {
	apiURL := getEnv("API_URL", "http://localhost:8080")
	itemCount := getEnvInt("ITEM_COUNT", defaultItemCount)
	concurrency := getEnvInt("CONCURRENCY", defaultConcurrency)

	fmt.Printf("=== Reliable Queue Load Test ===\n")
	fmt.Printf("Target:      %s\n", apiURL)
	fmt.Printf("Total Items: %d\n", itemCount)
	fmt.Printf("Concurrency: %d\n", concurrency)
	fmt.Printf("Item Mix:    80%% default, 20%% flaky (50%% failure rate)\n\n")

	ctx := context.Background()
	c := client.New(apiURL)

	var (
		createSuccess int64
		createFail    int64
		retries       int64
		flakyCount    int64
		wg            sync.WaitGroup
		sem           = make(chan struct{}, concurrency)
	)

	start := time.Now()

	for i := 0; i < itemCount; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			name := "default"
			payload := map[string]any{"load_test": true, "index": idx}
			if idx%5 == 0 {
				name = "flaky"
				payload["failure_rate"] = 0.5
				atomic.AddInt64(&flakyCount, 1)
			}
			body, _ := json.Marshal(payload)

			// Retry on transient server errors.
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				if attempt > 0 {
					atomic.AddInt64(&retries, 1)
					time.Sleep(time.Duration(attempt*50) * time.Millisecond)
				}
				_, lastErr = c.CreateItem(ctx, name, body)
				if lastErr == nil {
					break
				}
				var se *client.StatusError
				if errors.As(lastErr, &se) && se.Code < http.StatusInternalServerError {
					break
				}
			}

			if lastErr != nil {
				atomic.AddInt64(&createFail, 1)
			} else {
				atomic.AddInt64(&createSuccess, 1)
			}

			count := atomic.LoadInt64(&createSuccess) + atomic.LoadInt64(&createFail)
			if count%10000 == 0 {
				rate := float64(count) / time.Since(start).Seconds() * 60
				fmt.Printf("  Progress: %d/%d items created (%.0f items/min)\n", count, itemCount, rate)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("\n=== Create Results ===\n")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Created:       %d / %d\n", createSuccess, itemCount)
	fmt.Printf("Create Fails:  %d\n", createFail)
	fmt.Printf("Retries:       %d\n", retries)
	fmt.Printf("Throughput:    %.0f items/min\n", float64(createSuccess)/elapsed.Seconds()*60)
	fmt.Printf("Flaky items:   %d (each is released until it succeeds)\n", flakyCount)

	for _, name := range []string{"default", "flaky"} {
		if n, err := c.Count(ctx, name); err == nil {
			fmt.Printf("Depth %-8s %d\n", name+":", n)
		}
	}

	if createFail > 0 {
		fmt.Printf("\nWARNING: %d items failed to create\n", createFail)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}
