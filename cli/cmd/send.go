package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-telemetry/aegis/cli/internal/client"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single event to the ingest API",
	Example: `  aegis send --source web --type PAGE_VIEW
  aegis send --source api --type REQUEST --severity ERROR --latency 1200 \
    --payload '{"path": "/api/checkout"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := apiKey(cmd)
		if err != nil {
			return err
		}

		source, _ := cmd.Flags().GetString("source")
		eventType, _ := cmd.Flags().GetString("type")
		severity, _ := cmd.Flags().GetString("severity")
		latency, _ := cmd.Flags().GetInt64("latency")
		payloadJSON, _ := cmd.Flags().GetString("payload")

		event := &client.Event{
			Source:    source,
			EventType: eventType,
			Severity:  severity,
		}
		if latency >= 0 {
			event.LatencyMS = &latency
		}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
				return fmt.Errorf("invalid --payload JSON: %w", err)
			}
		}

		c := client.NewIngestClient(ingestURL(cmd))
		messageID, err := c.SendEvent(key, event)
		if err != nil {
			return err
		}

		fmt.Printf("Event accepted: %s\n", messageID)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("source", "", "event source (required)")
	sendCmd.Flags().String("type", "", "event type (required)")
	sendCmd.Flags().String("severity", "", "severity: DEBUG, INFO, WARN, ERROR, CRITICAL")
	sendCmd.Flags().Int64("latency", -1, "latency in milliseconds")
	sendCmd.Flags().String("payload", "", "payload as a JSON object")
	sendCmd.MarkFlagRequired("source")
	sendCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(sendCmd)
}
