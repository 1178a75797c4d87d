package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leofalp/polychat/internal/config"
	"github.com/leofalp/polychat/internal/logging"
)

const version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
	verbose    bool
}

// NewRootCommand builds the polychat command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "polychat",
		Short:   "Chat with OpenAI, Gemini or a browser-hosted model",
		Version: version,
		Long: `polychat talks to several LLM backends through one conversation model.
Function calling, response caching and rate limiting work the same way on
every backend.`,
		Example: `  # Interactive chat with functions enabled
  $ polychat chat --provider gemini --model gemini-2.0-flash --functions calculator,webfetch

  # One-shot completion
  $ polychat complete --provider openai "Summarize RFC 2119 in one line"

  # Wait for a browser client on the configured bridge address
  $ polychat bridge`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(flags, cmd.ErrOrStderr())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	persistent := root.PersistentFlags()
	persistent.StringVarP(&flags.configPath, "config", "c", "", "config file (default: <user config dir>/polychat/config.toml)")
	persistent.StringSliceVar(&flags.envFiles, "env-file", nil, "env files to load (default: ./.env when present)")
	persistent.StringVar(&flags.logLevel, "log-level", "", "TRACE, DEBUG, INFO, WARN or ERROR (default: $POLYCHAT_LOG_LEVEL)")
	persistent.StringVar(&flags.logFormat, "log-format", "", "compact, pretty or json (default: $POLYCHAT_LOG_FORMAT)")
	persistent.BoolVarP(&flags.verbose, "verbose", "v", false, "log prompts and answers of every backend call")

	root.AddCommand(
		newChatCommand(a),
		newCompleteCommand(a),
		newTokensCommand(a),
		newBridgeCommand(a),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads configuration and sets up logging. It runs before every
// subcommand.
func (a *app) load(flags *globalFlags, stderr io.Writer) error {
	opts := []logging.Option{logging.WithOutput(stderr)}
	if flags.logLevel != "" {
		level, err := logging.ParseLevel(flags.logLevel)
		if err != nil {
			return err
		}
		opts = append(opts, logging.WithLevel(level))
	}
	if flags.logFormat != "" {
		opts = append(opts, logging.WithFormat(logging.ParseFormat(flags.logFormat)))
	}
	a.logger = logging.New(opts...)
	slog.SetDefault(a.logger)
	a.verbose = flags.verbose

	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(flags.configPath, flags.envFiles...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}
