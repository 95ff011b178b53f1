package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BenBurnett/gqlpipe"
)

const HelloQuery = `
	query Hello {
		hello
	}
`

const EchoMutation = `
	mutation Echo($message: String!) {
		echo(message: $message)
	}
`

const SubscriptionQuery = `
	subscription MessageSent {
		messageSent
	}
`

var (
	token     string
	variables string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "example",
		Short:        "Run GraphQL operations through the gqlpipe client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("API_TOKEN"), "bearer token sent with every request")
	root.PersistentFlags().StringVar(&variables, "variables", "", "operation variables as a JSON object")

	root.AddCommand(
		executeCommand("query [document]", "Run a query", HelloQuery),
		executeCommand("mutate [document]", "Run a mutation", EchoMutation),
		subscribeCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() (*gqlpipe.Client, *zap.Logger, error) {
	cfg, err := gqlpipe.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := gqlpipe.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	manager := gqlpipe.NewManager(cfg,
		gqlpipe.WithLogger(logger),
		gqlpipe.WithTokenSource(func() string { return token }),
	)
	client, err := manager.Initialize(gqlpipe.ModeBrowser, nil)
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func parseVariables() (map[string]interface{}, error) {
	if variables == "" {
		return nil, nil
	}
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &vars); err != nil {
		return nil, fmt.Errorf("invalid --variables: %w", err)
	}
	return vars, nil
}

func document(args []string, fallback string) string {
	if len(args) > 0 {
		return args[0]
	}
	return fallback
}

func executeCommand(use, short, fallback string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := newClient()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			vars, err := parseVariables()
			if err != nil {
				return err
			}
			if vars == nil && fallback == EchoMutation && len(args) == 0 {
				vars = map[string]interface{}{"message": "Hello, mutation!"}
			}

			var result json.RawMessage
			err = client.Execute(cmd.Context(), document(args, fallback), vars, &result)
			if len(result) > 0 {
				fmt.Println(string(result))
			}
			return err
		},
	}
}

func subscribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe [document]",
		Short: "Start a subscription and print every payload until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := newClient()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			vars, err := parseVariables()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream, err := client.Subscribe(ctx, document(args, SubscriptionQuery), vars)
			if err != nil {
				return err
			}
			defer stream.Close()

			for {
				result, err := stream.Next(ctx)
				switch {
				case errors.Is(err, gqlpipe.ErrStreamClosed), errors.Is(err, context.Canceled):
					return nil
				case err != nil:
					return err
				}
				fmt.Println(string(result.Data))
			}
		},
	}
}
