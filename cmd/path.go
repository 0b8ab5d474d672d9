package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/skyrelay/internal/commandpath"
	"github.com/spf13/cobra"
)

func newPathCmd() *cobra.Command {
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Inspect the control identifiers carried by card buttons",
	}

	pathCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every control identifier",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				g := commandpath.Default()
				for _, p := range g.Terminals() {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), p.String()); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "build <segment>...",
			Short: "Build a control identifier from its segments",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := commandpath.Default().Build(args...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			},
		},
		&cobra.Command{
			Use:   "parse <id>",
			Short: "Split a control identifier into its segments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := commandpath.Default().Parse(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(p, " "))
				return err
			},
		},
	)

	return pathCmd
}
