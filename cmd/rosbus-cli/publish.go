package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		topic   string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a topic",
		Long: `Publish a message to a topic. The payload should be valid JSON.
If no payload is provided, an empty message will be published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(topic, payload)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Message payload as JSON")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPublish(topic, payloadStr string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var payload interface{}
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	fmt.Printf("Publishing message to topic '%s'...\n", topic)

	response, err := client.Publish(ctx, topic, payload)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	fmt.Printf("✅ Message published successfully!\n")
	fmt.Printf("Message ID: %s\n", response.MessageID)
	fmt.Printf("Offset: %d\n", response.Offset)
	fmt.Printf("Timestamp: %s\n", response.Timestamp.Format("2006-01-02 15:04:05"))

	return nil
}
