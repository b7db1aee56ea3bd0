package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-telemetry/aegis/cli/internal/client"
	"github.com/aegis-telemetry/aegis/cli/internal/seeder"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a stream of simulated events against the ingest API",
	Long: `Seed generates realistic event traffic from built-in service profiles
(an e-commerce API, an auth stack and an analytics pipeline), each with its
own error and critical rates, and sends it to the ingest service until
interrupted or --count events have been sent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := apiKey(cmd)
		if err != nil {
			return err
		}

		rate, _ := cmd.Flags().GetInt("rate")
		count, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetInt64("seed")
		if rate <= 0 {
			return fmt.Errorf("--rate must be positive")
		}
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := client.NewIngestClient(ingestURL(cmd))
		gen := seeder.NewGenerator(seeder.DefaultProfiles(), seed)
		runner := seeder.NewRunner(c, gen, key, rate, os.Stdout)

		fmt.Printf("Seeding events at %d/min (Ctrl+C to stop)\n", rate)
		sent, err := runner.Run(ctx, count)
		fmt.Printf("Done. Sent %d events.\n", sent)
		return err
	},
}

func init() {
	seedCmd.Flags().Int("rate", 120, "events per minute")
	seedCmd.Flags().Int("count", 0, "stop after this many events (0 = run until interrupted)")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 = time-based)")

	rootCmd.AddCommand(seedCmd)
}
