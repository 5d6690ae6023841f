package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"cabildo-bot/internal/app"
	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/survey"
)

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and reset stored participant profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List participant ids with a stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				ids, err := a.Profiles.ListIDs(ctx)
				if err != nil {
					return err
				}
				slices.Sort(ids)
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				p, err := lookupProfile(ctx, a, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <id>",
		Short: "Delete a profile with its shared session and downloaded clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if _, err := lookupProfile(ctx, a, args[0]); err != nil {
					return err
				}
				if err := a.ResetProfile(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func lookupProfile(ctx context.Context, a *app.App, id string) (*survey.Profile, error) {
	p, err := a.Profiles.Lookup(ctx, id)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("no profile stored for %s", id)
	}
	return p, err
}
