package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BjarkeHJ/rosbus/pkg/busclient"
)

func newEchoCommand() *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Stream live messages from a topic",
		Long: `Stream messages from a topic in real time over SSE and print them
as they arrive. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(topic)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to stream (required)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runEcho(topic string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Stopping stream...")
		cancel()
	}()

	stream, err := client.Stream(ctx, busclient.StreamConfig{Topic: topic})
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	fmt.Printf("📡 Streaming '%s' (Ctrl+C to stop)...\n", topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-stream.Messages():
			if !ok {
				return nil
			}
			payload, err := json.Marshal(item.Payload)
			if err != nil {
				payload = []byte(fmt.Sprintf("%v", item.Payload))
			}
			fmt.Printf("[%d] %s %s\n", item.Offset, item.Timestamp.Format("15:04:05.000"), payload)
		case err, ok := <-stream.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "⚠️  Stream error: %v\n", err)
		}
	}
}
