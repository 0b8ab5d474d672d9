package cmd

import (
	"fmt"

	"github.com/bnema/skyrelay/internal/adapters/feed/bluesky"
	chainstore "github.com/bnema/skyrelay/internal/adapters/secrets/chain"
	"github.com/spf13/cobra"
)

func newAuthCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credentials kept in the secret store",
		Long:  "Store credentials in pass (or the file fallback) and reference them from config.toml as \"secret:<key>\".",
	}

	cmd.AddCommand(newAuthSetCmd(app), newAuthRemoveCmd(app), newAuthLogoutCmd(app))

	return cmd
}

func newAuthSetCmd(app *app) *cobra.Command {
	var secretKey string
	var secretValue string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.secretStore.Put(cmd.Context(), secretKey, secretValue); err != nil {
				return fmt.Errorf("store secret %q: %w", secretKey, err)
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored; reference it as %q\n", chainstore.RefPrefix+secretKey)
			return err
		},
	}

	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Secret-store key, e.g. telegram/token")
	cmd.Flags().StringVar(&secretValue, "secret-value", "", "Secret value")
	_ = cmd.MarkFlagRequired("secret-key")
	_ = cmd.MarkFlagRequired("secret-value")

	return cmd
}

func newAuthRemoveCmd(app *app) *cobra.Command {
	var secretKey string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.secretStore.Delete(cmd.Context(), secretKey)
		},
	}

	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Secret-store key")
	_ = cmd.MarkFlagRequired("secret-key")

	return cmd
}

func newAuthLogoutCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted Bluesky session; the next start logs in with the password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.secretStore.Delete(cmd.Context(), bluesky.SessionKey)
		},
	}
}
