package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/leofalp/polychat/core/session"
	"github.com/leofalp/polychat/core/sessionlog"
	"github.com/leofalp/polychat/internal/config"
	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/cache/mongostore"
)

type chatFlags struct {
	provider  string
	model     string
	system    string
	guidance  string
	cache     bool
	functions []string
	sessionID string
	maxRounds int
	logFile   string
}

func newChatCommand(a *app) *cobra.Command {
	flags := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat. Answers stream as they arrive.

Commands inside the chat:
  /reset     forget everything but the system prompt
  /history   print the conversation
  /save      persist the history (requires [history] uri)
  /usage     print token usage and function call counts
  /quit      leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), a, flags, cmd.OutOrStdout())
		},
	}
	addTargetFlags(cmd, &flags.provider, &flags.model)
	f := cmd.Flags()
	f.StringVar(&flags.system, "system", "", "system prompt")
	f.StringVar(&flags.guidance, "guidance", "", "text every answer must start with")
	f.BoolVar(&flags.cache, "cache", false, "serve repeated requests from the response cache")
	f.StringSliceVar(&flags.functions, "functions", nil, "function sets to offer: calculator, webfetch, search")
	f.StringVar(&flags.sessionID, "session", "", "restore and persist this session id")
	f.IntVar(&flags.maxRounds, "max-rounds", 8, "function call rounds allowed per message (0 for no limit)")
	f.StringVar(&flags.logFile, "log-file", "", "write every backend call as JSON to this file on exit")
	return cmd
}

func runChat(ctx context.Context, a *app, flags *chatFlags, out io.Writer) error {
	provider, model := a.target(flags.provider, flags.model)
	if err := a.cfg.RequireCredentials(provider); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	defer a.close()

	functions, err := buildFunctions(flags.functions, a.logger)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithSystemPrompt(flags.system),
		session.WithFunctions(functions),
		session.WithCaching(flags.cache),
		session.WithGuidance(flags.guidance),
		session.WithMaxRounds(flags.maxRounds),
		session.WithLogger(a.logger),
	}
	if flags.sessionID != "" {
		opts = append(opts, session.WithID(flags.sessionID))
	}
	s := session.New(a.dispatcher, provider, model, opts...)

	store, err := a.historyStore(ctx)
	if err != nil {
		return err
	}
	if store != nil && flags.sessionID != "" {
		switch err := s.Restore(ctx, store, flags.sessionID); {
		case err == nil:
			fmt.Fprintf(out, "restored session %s (%d turns)\n", flags.sessionID, len(s.History()))
		case errors.Is(err, session.ErrNotFound):
		default:
			return err
		}
	}

	if provider == config.ProviderBridge {
		bridgeCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := a.serveBridge(bridgeCtx); err != nil {
				a.logger.Error("bridge stopped", "error", err)
			}
		}()
		fmt.Fprintf(out, "waiting for a browser client on ws://%s/ws\n", a.cfg.Bridge.Listen)
	}

	r := &repl{session: s, store: store, out: out, log: a.sessionLog}
	if err := r.loop(ctx); err != nil {
		return err
	}
	if store != nil {
		if err := s.Persist(ctx, store); err != nil {
			return err
		}
	}
	if flags.logFile != "" {
		return writeSessionLog(a, flags.logFile)
	}
	return nil
}

// repl reads lines with liner and forwards them to the session.
type repl struct {
	session *session.Session
	store   *mongostore.HistoryStore
	log     *sessionlog.Log
	out     io.Writer
}

func (r *repl) loop(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), "polychat_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if quit := r.handle(ctx, input); quit {
			return nil
		}
	}
}

// handle processes one input line and reports whether the user asked to
// quit. Ctrl+C during an answer cancels that answer only.
func (r *repl) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	switch input {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/reset":
		r.session.Reset()
		fmt.Fprintln(r.out, "conversation cleared")
		return false
	case "/history":
		for _, turn := range r.session.History() {
			fmt.Fprintf(r.out, "[%s] %s\n", turn.Role, describeTurn(turn))
		}
		return false
	case "/usage":
		usage := r.log.TotalUsage()
		fmt.Fprintf(r.out, "tokens: %d prompt, %d completion, %d total\n", usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
		for name, count := range r.log.FunctionCallStats() {
			fmt.Fprintf(r.out, "  %s called %d times\n", name, count)
		}
		return false
	case "/save":
		if r.store == nil {
			fmt.Fprintln(r.out, "history persistence is not configured")
			return false
		}
		if err := r.session.Persist(ctx, r.store); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "saved session %s\n", r.session.ID())
		return false
	}

	askCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result, err := r.session.SendMessage(askCtx, input, func(c ai.Chunk) {
		if c.Done {
			return
		}
		fmt.Fprint(r.out, c.Text)
	})
	fmt.Fprintln(r.out)
	if err != nil {
		fmt.Fprintf(r.out, "error: %s\n", describeError(err))
		return false
	}
	for round, names := range result.CalledFunctions {
		if len(names) > 0 {
			fmt.Fprintf(r.out, "  (round %d called %s)\n", round+1, strings.Join(names, ", "))
		}
	}
	return false
}

func describeTurn(turn ai.Turn) string {
	var parts []string
	if text := turn.Text(); text != "" {
		parts = append(parts, text)
	}
	for _, call := range turn.FunctionCalls() {
		args, _ := call.Args.MarshalJSON()
		parts = append(parts, fmt.Sprintf("call %s(%s)", call.Name, args))
	}
	for _, response := range turn.FunctionResponses() {
		parts = append(parts, fmt.Sprintf("result %s: %s", response.Name, response.Result))
	}
	return strings.Join(parts, " | ")
}

// describeError turns the typed errors into a line a user can act on.
func describeError(err error) string {
	var safety *ai.SafetyError
	switch {
	case errors.As(err, &safety):
		return "the answer was blocked by the provider's safety filter (" + safety.Reason + ")"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, session.ErrTooManyRounds):
		return "the model kept calling functions; try rephrasing"
	}
	return err.Error()
}

func writeSessionLog(a *app, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session log: %w", err)
	}
	defer f.Close()
	return a.sessionLog.WriteJSON(f)
}
