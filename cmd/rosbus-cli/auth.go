package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the rosbus server",
		Long: `Authenticate with the rosbus server and print the issued JWT token.
The token can be reused with --token on later invocations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth()
		},
	}
}

func runAuth() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Authenticating as '%s'...\n", clientID)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Printf("✅ Authenticated successfully!\n")
	fmt.Printf("Token: %s\n", client.GetToken())
	fmt.Printf("💡 Reuse it with --token on subsequent commands\n")

	return nil
}
