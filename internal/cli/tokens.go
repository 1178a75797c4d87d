package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leofalp/polychat/providers/ai"
)

func newTokensCommand(a *app) *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "tokens <text...>",
		Short: "Count the tokens of a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, model := a.target(provider, model)
			if err := a.cfg.RequireCredentials(provider); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			turns := []ai.Turn{ai.TextTurn(ai.RoleUser, strings.Join(args, " "))}
			count, err := a.dispatcher.CountTokens(cmd.Context(), provider, model, turns)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
	addTargetFlags(cmd, &provider, &model)
	return cmd
}
