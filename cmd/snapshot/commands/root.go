package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/config"
	"github.com/kapu/channel-snapshot/internal/util"
)

var (
	// endpoint overrides SNAPSHOT_ENDPOINT.
	endpoint string

	// verbose enables debug logging.
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Channel snapshot client",
	Long: `snapshot reads the channel snapshot through the client cache, the same
path a page uses: one request at a time, five minute reuse, stale data on error.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if endpoint != "" {
			loaded.Client.Endpoint = endpoint
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := util.NewLogger(level, loaded.Logging.Format, "")
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&endpoint, "endpoint", "",
		"Snapshot endpoint URL (default: $SNAPSHOT_ENDPOINT)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false,
		"Log cache decisions",
	)

	rootCmd.AddCommand(getCmd)
}
