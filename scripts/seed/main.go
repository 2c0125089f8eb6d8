// Script seed pushes sample items to the API for development.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/leejennwah/reliable-queue/pkg/client"
)

func main() {
	apiURL := getEnv("API_URL", "http://localhost:8080")
	c := client.New(apiURL)
	ctx := context.Background()

	queues := []string{"default", "compute", "flaky"}
	created := 0
	for i := 0; i < 30; i++ {
		name := queues[i%len(queues)]
		payload, _ := json.Marshal(map[string]any{
			"seed":         true,
			"index":        i,
			"iterations":   1000,
			"failure_rate": 0.3,
		})

		id, err := c.CreateItem(ctx, name, payload)
		if err != nil {
			log.Printf("failed to create item %d in %s: %v", i, name, err)
			continue
		}
		created++
		fmt.Printf("created item %d in %s\n", id, name)
	}

	for _, name := range queues {
		n, err := c.Count(ctx, name)
		if err != nil {
			log.Fatalf("count %s: %v", name, err)
		}
		fmt.Printf("%s: %d items\n", name, n)
	}
	fmt.Printf("\nseed complete: %d items\n", created)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
