package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd runs the inspecting proxy and dashboard
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspecting API proxy and dashboard",
	Long: `Starts the HTTP proxy in front of the OpenAI, Anthropic and Ollama APIs.
Request bodies are scanned on their way upstream and findings are reported
to the dashboard, which is also where blocking choices are answered when
confirm.mode is "hub".

Routes:
  /openai/*, /anthropic/*, /ollama/*   proxied upstream
  /                                    dashboard
  /ws                                  dashboard event stream
  /api/scan, /api/stats                dashboard API`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLog.Info("Starting PromptGuard",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	svc, err := newServices(cfg, appLog)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.run(ctx); err != nil {
		appLog.Error("Server error", zap.Error(err))
		return err
	}

	appLog.Info("Server shutdown complete")
	return nil
}
