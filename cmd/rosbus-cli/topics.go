package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List all known topics",
		Long:  `List all topics that have seen at least one message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics()
		},
	}
}

func runTopics() error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	if response.Count == 0 {
		fmt.Println("No topics yet")
		return nil
	}

	fmt.Printf("Topics (%d):\n", response.Count)
	for _, topic := range response.Topics {
		fmt.Printf("  %s\n", topic)
	}

	return nil
}
