package cli

import (
	"github.com/spf13/cobra"

	"cabildo-bot/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	WithWorker bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WhatsApp transport and the conversation engine",
		Long: `Run the configured WhatsApp transport (Cloud API webhook or
multi-device client) and the conversation engine.

The memory queue only lives inside this process, so it requires
--with-worker.

Example:
  cabildo-bot serve --config ./cabildo.json --with-worker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := app.SignalContext()
			defer stop()

			a, err := openApp(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx, opts.WithWorker)
		},
	}

	cmd.Flags().BoolVar(&opts.WithWorker, "with-worker", false, "also run the background worker in this process")

	return cmd
}
