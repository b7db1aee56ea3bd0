package seeder

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aegis-telemetry/aegis/cli/internal/client"
)

// Runner sends a stream of generated events to the ingest API at a fixed
// rate until the context is cancelled or count events have been sent.
type Runner struct {
	client    *client.IngestClient
	generator *Generator
	apiKey    string
	rate      int // events per minute
	out       io.Writer
}

// NewRunner creates a seeding runner.
func NewRunner(c *client.IngestClient, g *Generator, apiKey string, rate int, out io.Writer) *Runner {
	return &Runner{client: c, generator: g, apiKey: apiKey, rate: rate, out: out}
}

// Run sends events until ctx is done; count 0 means unbounded.
func (r *Runner) Run(ctx context.Context, count int) (int, error) {
	interval := time.Minute / time.Duration(r.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}

		event, profile := r.generator.Next()
		if _, err := r.client.SendEvent(r.apiKey, event); err != nil {
			fmt.Fprintf(r.out, "failed to send event: %v\n", err)
			continue
		}

		sent++
		fmt.Fprintf(r.out, "[%d] %-20s | %-20s | %-20s | %s\n",
			sent, truncate(profile.Name, 20), event.Source, event.EventType, event.Severity)

		if count > 0 && sent >= count {
			return sent, nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
