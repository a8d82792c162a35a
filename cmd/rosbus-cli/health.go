package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  `Check the health of the rosbus server. Exits non-zero when unhealthy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth()
		},
	}
}

func runHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get health status: %w", err)
	}

	fmt.Printf("rosbus Server Health:\n")
	fmt.Printf("  Overall: %s\n", healthStatus(response.Healthy))
	fmt.Printf("  Bus: %s\n", healthStatus(response.BusHealthy))
	fmt.Printf("  Topics: %d\n", response.TopicCount)
	fmt.Printf("  Total Messages: %d\n", response.TotalMessages)
	fmt.Printf("  Connected Peers: %d\n", response.ConnectedPeers)
	fmt.Printf("  Message: %s\n", response.Message)

	if !response.Healthy {
		os.Exit(1)
	}
	return nil
}

// healthStatus returns a readable health status string
func healthStatus(healthy bool) string {
	if healthy {
		return "✅ Healthy"
	}
	return "❌ Unhealthy"
}
