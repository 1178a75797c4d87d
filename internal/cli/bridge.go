package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBridgeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the websocket endpoint a browser client connects to",
		Long: `Serve the websocket endpoint a browser client connects to and wait
until interrupted. GET /healthz answers 200 once a client is attached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Bridge.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.connect(ctx); err != nil {
				return err
			}
			defer a.close()
			return a.serveBridge(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default: config bridge.listen)")
	return cmd
}
