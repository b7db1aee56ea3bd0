package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-telemetry/aegis/cli/internal/client"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check ingest service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewIngestClient(ingestURL(cmd))
		if err := c.Health(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
