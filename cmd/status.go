package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	statusadapter "github.com/bnema/skyrelay/internal/adapters/render/status"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last status snapshot written by serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := app.status.Load(cmd.Context())
			if err != nil {
				if errors.Is(err, domain.ErrStatusNotFound) {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "No relay status recorded yet (%s).\n", app.status.Path())
					return err
				}
				return fmt.Errorf("load relay status: %w", err)
			}
			return writeStatusOutput(cmd, app, status, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func writeStatusOutput(cmd *cobra.Command, app *app, status domain.RelayStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	rendered, err := app.statusRenderer(status, statusadapter.RenderOptions{
		Now:        app.now(),
		StaleAfter: app.cfg.Status.StaleAfter,
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
