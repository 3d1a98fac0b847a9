package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raaihank/promptguard/internal/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	browseHeadless    bool
	browseDebuggerURL string
)

// browseCmd guards a live Chrome tab
var browseCmd = &cobra.Command{
	Use:   "browse [url]",
	Short: "Open a Chrome tab with interception attached",
	Long: `Launches Chrome (or attaches to a running one with --debugger-url), opens
the given page and watches prompts, pastes, copies, forms and URLs in it.
The proxy and dashboard run alongside so blocking choices can be answered
from the dashboard.

Example:
  promptguard browse https://chatgpt.com
  promptguard browse --debugger-url ws://127.0.0.1:9222/devtools/browser/<id> https://claude.ai`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().BoolVar(&browseHeadless, "headless", false, "Run Chrome without a window")
	browseCmd.Flags().StringVar(&browseDebuggerURL, "debugger-url", "", "Attach to a running Chrome instead of launching one")
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browserCfg := cfg.Browser
	if cmd.Flags().Changed("headless") {
		browserCfg.Headless = browseHeadless
	}
	if browseDebuggerURL != "" {
		browserCfg.DebuggerURL = browseDebuggerURL
	}

	svc, err := newServices(cfg, appLog)
	if err != nil {
		return err
	}
	defer svc.Close()

	host, err := browser.Launch(ctx, browserCfg, svc.platforms, appLog)
	if err != nil {
		return err
	}
	defer host.Close()

	doc, err := host.Open(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}

	svc.coord.Attach(doc)
	// a full load replaces every node the channels were holding
	doc.OnLoad(func() { go svc.coord.Attach(doc) })

	appLog.Info("Guarding browser tab", zap.String("url", args[0]))

	return svc.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		svc.coord.Reset()
		return nil
	})
}
