package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lei/ghe-policy-check/pkg/gateway"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "ghe-policy-check",
		Short:         "Mirror GitHub Enterprise and enforce repository classification policy.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; the environment may be set externally
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", os.Getenv("CONFIG_FILE"), "path to the YAML config file; the environment is used when empty")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newPollCommand(opts),
		newSyncUsersCommand(opts),
		newSyncCollaboratorsCommand(opts),
		newCleanReposCommand(opts),
		newSyncForksCommand(opts),
		newResendEventCommand(),
	)

	return rootCmd
}

// openGateway builds the gateway from the config file, or from the
// environment when no file is given.
func (o *rootOptions) openGateway(ctx context.Context) (*gateway.Gateway, error) {
	if o.configFile != "" {
		return gateway.NewFromFile(ctx, o.configFile)
	}
	return gateway.NewFromEnv(ctx)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
