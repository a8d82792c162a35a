package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCommand() *cobra.Command {
	var (
		topic  string
		offset int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read recorded messages from a topic",
		Long: `Read messages recorded on a topic starting at a given offset.
Useful for replaying history after the fact.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(topic, offset, limit)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to read from (required)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Offset to start reading from")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of messages to read")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runRead(topic string, offset int64, limit int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.ReadMessages(ctx, topic, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}

	if response.Count == 0 {
		fmt.Printf("No messages on '%s' at offset %d\n", topic, offset)
		return nil
	}

	fmt.Printf("Messages on '%s' (offset %d, %d returned):\n", topic, offset, response.Count)
	for _, msg := range response.Messages {
		payload, err := json.Marshal(msg.Payload)
		if err != nil {
			payload = []byte(fmt.Sprintf("%v", msg.Payload))
		}
		fmt.Printf("  [%d] %s %s\n", msg.Offset, msg.Timestamp.Format("15:04:05.000"), payload)
	}

	return nil
}
