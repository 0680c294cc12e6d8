package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/client"
	"github.com/JakeFAU/siteaudit-bridge/internal/logging"
)

type analyzeFlags struct {
	gateway  string
	maxPages int
	timeout  time.Duration
	asJSON   bool
	verbose  bool
}

func newAnalyzeCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Analyze a site through a running gateway",
		Long: `Opens an analysis stream against the gateway, prints each progress label
as it arrives and then the final result or error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("gateway") {
				flags.gateway = cfg.Client.GatewayURL
			}
			if !cmd.Flags().Changed("max-pages") {
				flags.maxPages = cfg.Worker.MaxPagesDefault
			}
			logger := zap.NewNop()
			if flags.verbose {
				if logger, err = logging.New(true); err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				defer func() { _ = logging.Sync(logger) }()
			}
			transport := &client.HTTPTransport{BaseURL: flags.gateway, Client: &http.Client{}, Logger: logger}
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), client.NewSession(transport, logger), args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.gateway, "gateway", "", "gateway base URL (default client.gateway_url)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "pages to analyze, 0 for no limit (default worker.max_pages_default)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "give up after this long; 0 waits for the worker")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print the final state as JSON")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log stream diagnostics to stderr")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, session *client.Session, url string, flags analyzeFlags) error {
	defer session.Close()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		seen := 0
		for st := range updates {
			for _, step := range st.ProgressSteps[min(seen, len(st.ProgressSteps)):] {
				if !flags.asJSON {
					fmt.Fprintln(out, "→", step.Label)
				}
			}
			seen = max(seen, len(st.ProgressSteps))
		}
	}()

	session.Analyze(client.Request{URL: url, MaxPages: flags.maxPages})
	st, err := session.Wait(ctx)
	unsubscribe()
	<-printed
	if err != nil {
		return fmt.Errorf("analysis did not finish: %w", err)
	}

	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
	} else if st.Status == client.StatusComplete {
		fmt.Fprintf(out, "Analysis complete (%d steps)\n%s\n", len(st.ProgressSteps), st.Result)
	}
	if st.Status == client.StatusError {
		return errors.New(st.Error)
	}
	return nil
}
