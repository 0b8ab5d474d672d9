package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const checkSample = "Bonjour"

type checkStep struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func newCheckCmd(app *app) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and credentials against Bluesky, Telegram and DeepL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, app, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a spinner")
	return cmd
}

func runCheck(cmd *cobra.Command, app *app, quiet bool) error {
	if err := app.cfg.Validate(); err != nil {
		return err
	}

	logger := zap.NewNop()
	if app.verbose {
		var err error
		if logger, err = app.newLogger(); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	steps := []checkStep{
		{name: "bluesky", run: func(ctx context.Context) (string, error) {
			feed, err := app.newBluesky(ctx, logger)
			if err != nil {
				return "", err
			}
			if err := feed.Login(ctx); err != nil {
				return "", err
			}
			return "logged in as " + feed.Handle(), nil
		}},
		{name: "telegram", run: func(ctx context.Context) (string, error) {
			chat, err := app.newTelegram(ctx, logger)
			if err != nil {
				return "", err
			}
			name, err := chat.Me(ctx)
			if err != nil {
				return "", err
			}
			return "bot @" + name, nil
		}},
		{name: "deepl", run: func(ctx context.Context) (string, error) {
			translator, err := app.newTranslator(ctx, logger)
			if err != nil {
				return "", err
			}
			if translator == nil {
				return "disabled", nil
			}
			out, err := translator.Translate(ctx, checkSample)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%q -> %q", checkSample, out), nil
		}},
	}

	for _, step := range steps {
		var detail string
		run := func(ctx context.Context) error {
			var err error
			detail, err = step.run(ctx)
			return err
		}

		var err error
		if quiet {
			err = run(cmd.Context())
		} else {
			err = runCheckSpinner(cmd.Context(), cmd.ErrOrStderr(), "Checking "+step.name+"...", run)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", step.name, detail); err != nil {
			return err
		}
	}

	return nil
}
