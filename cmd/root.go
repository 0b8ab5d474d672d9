package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "skyrelay",
		Short:         "skyrelay: relay a Bluesky timeline into a Telegram chat",
		Long:          "skyrelay polls a Bluesky home timeline and posts each new post to a Telegram chat as a card with like, repost and translate buttons.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newStatusCmd(app),
		newCheckCmd(app),
		newRegisterCmd(app),
		newAuthCmd(app),
		newPathCmd(),
	)

	return rootCmd
}
