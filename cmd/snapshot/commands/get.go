package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kapu/channel-snapshot/internal/client"
)

var (
	force  bool
	repeat int
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch and print the channel snapshot",
	Long: `Fetch the snapshot and print it as JSON. With --repeat the load is
issued again through the same client, showing when the cache answers.`,
	RunE: runGet,
}

func init() {
	getCmd.Flags().BoolVar(&force, "force", false, "Bypass the client cache on the first load")
	getCmd.Flags().IntVar(&repeat, "repeat", 1, "Number of loads to issue")
}

func runGet(cmd *cobra.Command, args []string) error {
	if repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	svc := client.New(
		client.NewHTTPFetcher(cfg.Client.Endpoint, cfg.Client.Timeout, logger),
		client.Options{
			Freshness:     cfg.Cache.Freshness,
			ErrorCooldown: cfg.Cache.ErrorCooldown,
		},
		logger,
	)
	provider := client.NewProvider(svc, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var view client.View
	if force {
		view = provider.Refetch(ctx)
	} else {
		provider.Start(ctx)
		view = provider.View()
	}
	if err := printView(cmd.OutOrStdout(), 1, view, svc.Status()); err != nil {
		return err
	}

	for i := 2; i <= repeat; i++ {
		start := time.Now()
		outcome, err := svc.Load(ctx, false)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d error: %v\n", i, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d %s in %s\n", i, outcome.State,
			time.Since(start).Round(time.Microsecond))
	}

	if view.Data == nil && view.Err != nil {
		return view.Err
	}
	return nil
}

func printView(w io.Writer, n int, view client.View, status client.Status) error {
	fmt.Fprintf(w, "#%d status=%s\n", n, status)
	if view.Err != nil {
		fmt.Fprintf(w, "warning: %v\n", view.Err)
	}
	if view.Data == nil {
		return nil
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(view.Data)
}
