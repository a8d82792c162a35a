package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show bus statistics (admin only)",
		Long:  `Show per-topic message counts and totals. Requires an admin token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Bus Statistics:\n")
	fmt.Printf("  Total Messages: %d\n", response.TotalMessages)
	fmt.Printf("  Topics: %d\n", response.TopicCount)
	for topic, count := range response.TopicMessages {
		fmt.Printf("    %s: %d\n", topic, count)
	}

	return nil
}
