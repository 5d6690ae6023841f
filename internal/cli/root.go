// Package cli is the cabildo-bot command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"cabildo-bot/internal/app"
	"cabildo-bot/internal/infra/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cabildo-bot",
		Short: "WhatsApp survey bot for cabildo participation",
		Long: `cabildo-bot runs the cabildo survey conversation over WhatsApp.

Participants are guided through a cabildo name, demographic questions,
thematic stations and a final phrase. Answers are synced to the survey
web app by a background worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a JSON config file (env vars override it)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewProfilesCommand(opts))

	return cmd
}

// openApp loads the configuration and opens its backends.
func openApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
