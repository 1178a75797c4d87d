package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/providers/ai"
)

func addTargetFlags(cmd *cobra.Command, provider, model *string) {
	cmd.Flags().StringVarP(provider, "provider", "p", "", "openai, gemini or bridge (default: config default_provider)")
	cmd.Flags().StringVarP(model, "model", "m", "", "model name (default: config default_model)")
}

// target resolves empty flags to the configured defaults.
func (a *app) target(provider, model string) (string, string) {
	if provider == "" {
		provider = a.cfg.DefaultProvider
	}
	if model == "" {
		model = a.cfg.DefaultModel
	}
	return provider, model
}

type completeFlags struct {
	provider string
	model    string
	system   string
	cache    bool
	usage    bool
}

func newCompleteCommand(a *app) *cobra.Command {
	flags := &completeFlags{}
	cmd := &cobra.Command{
		Use:   "complete [prompt...]",
		Short: "Send one prompt and stream the answer",
		Long:  "Send one prompt and stream the answer. Without arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return fmt.Errorf("no prompt given")
			}
			return runComplete(cmd.Context(), a, flags, prompt, cmd.OutOrStdout())
		},
	}
	addTargetFlags(cmd, &flags.provider, &flags.model)
	cmd.Flags().StringVar(&flags.system, "system", "", "system prompt")
	cmd.Flags().BoolVar(&flags.cache, "cache", false, "serve a repeated prompt from the response cache")
	cmd.Flags().BoolVar(&flags.usage, "usage", false, "print token usage after the answer")
	return cmd
}

func runComplete(ctx context.Context, a *app, flags *completeFlags, prompt string, out io.Writer) error {
	provider, model := a.target(flags.provider, flags.model)
	if err := a.cfg.RequireCredentials(provider); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	defer a.close()

	var turns []ai.Turn
	if flags.system != "" {
		turns = append(turns, ai.TextTurn(ai.RoleSystem, flags.system))
	}
	turns = append(turns, ai.TextTurn(ai.RoleUser, prompt))

	response, err := a.dispatcher.RequestChatCompletion(ctx, provider, model, dispatch.Request{
		Messages:      turns,
		EnableCaching: flags.cache,
	}, func(c ai.Chunk) {
		if !c.Done {
			fmt.Fprint(out, c.Text)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out)

	if response.Truncated {
		fmt.Fprintln(out, "[answer truncated at the token limit]")
	}
	if flags.usage && response.Usage != nil {
		fmt.Fprintf(out, "tokens: %d prompt, %d completion, %d total\n",
			response.Usage.PromptTokens, response.Usage.CompletionTokens, response.Usage.TotalTokens)
	}
	return nil
}
