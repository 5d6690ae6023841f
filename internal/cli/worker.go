package cli

import (
	"github.com/spf13/cobra"

	"cabildo-bot/internal/app"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background sync worker",
		Long: `Drain the job queue: sync profiles and messages to the survey web app
and transcribe voice clips. Needs a shared queue backend (sqlite or redis).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := app.SignalContext()
			defer stop()

			a, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunWorker(ctx)
		},
	}
}
