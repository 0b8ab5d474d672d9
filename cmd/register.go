package cmd

import (
	"fmt"

	"github.com/bnema/skyrelay/internal/adapters/chat/telegram"
	"github.com/bnema/skyrelay/internal/application"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRegisterCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish the chat commands to the Telegram command menu",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chat, err := app.newTelegram(cmd.Context(), zap.NewNop())
			if err != nil {
				return err
			}

			commands := botCommands()
			if err := chat.SetCommands(cmd.Context(), commands); err != nil {
				return err
			}

			for _, c := range commands {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "registered /%s\n", c.Command); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func botCommands() []telegram.BotCommand {
	commands := application.Commands()
	out := make([]telegram.BotCommand, 0, len(commands))
	for _, c := range commands {
		out = append(out, telegram.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
