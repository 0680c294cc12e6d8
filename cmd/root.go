// Package cmd defines the siteaudit CLI: serve runs the streaming gateway and
// analyze runs a client session against one.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/siteaudit-bridge/internal/config"
)

type configKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "siteaudit",
		Short: "Streams site audits from an analysis worker to clients.",
		Long: `siteaudit bridges a long-running site analysis worker to browser clients.
The gateway starts one worker per request and relays its progress, result
and error events as server-sent events, in the order the worker produced them.`,
		SilenceUsage: true,

		// Configuration is loaded once here and handed to subcommands through
		// the command context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SITEAUDIT_* env vars override it")
	cmd.AddCommand(newServeCmd(), newAnalyzeCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
