package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kapu/channel-snapshot/internal/service/youtube"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Call each YouTube Data API operation directly",
	Long: `probe bypasses both caches and runs the latest-video search, the live
search, the video statistics and the channel statistics calls once, printing
each result and the quota spent. Uses YOUTUBE_API_KEY and YOUTUBE_CHANNEL_ID.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := cfg.YouTube.Credentials(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	yt, err := youtube.NewClient(ctx, youtube.ClientOptions{
		APIKey:   cfg.YouTube.APIKey,
		Endpoint: cfg.YouTube.Endpoint,
	}, logger)
	if err != nil {
		return err
	}

	return probe(ctx, cmd.OutOrStdout(), yt, cfg.YouTube.ChannelID)
}

func probe(ctx context.Context, w io.Writer, yt *youtube.Client, channelID string) error {
	fmt.Fprintln(w, "=== Latest video ===")
	latest, latestErr := yt.LatestVideo(ctx, channelID)
	switch {
	case latestErr != nil:
		fmt.Fprintf(w, "error: %v\n", latestErr)
	case latest == nil:
		fmt.Fprintln(w, "no videos")
	default:
		fmt.Fprintf(w, "%s  %s  (%s)\n", latest.ID, latest.Title, latest.PublishedAt.Format(time.RFC3339))
	}

	fmt.Fprintln(w, "\n=== Live ===")
	if liveID, err := yt.LiveVideoID(ctx, channelID); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	} else if liveID == "" {
		fmt.Fprintln(w, "not live")
	} else {
		fmt.Fprintf(w, "live: %s\n", liveID)
	}

	if latest != nil {
		fmt.Fprintln(w, "\n=== Video statistics ===")
		if details, err := yt.VideoDetails(ctx, latest.ID); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		} else if details == nil {
			fmt.Fprintln(w, "video not found")
		} else {
			fmt.Fprintf(w, "views=%s likes=%s duration=%s\n",
				orDash(details.ViewCount), orDash(details.LikeCount), orDash(details.Duration))
		}
	}

	fmt.Fprintln(w, "\n=== Channel statistics ===")
	if subs, err := yt.ChannelSubscribers(ctx, channelID); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	} else if subs == nil {
		fmt.Fprintln(w, "subscribers hidden")
	} else {
		fmt.Fprintf(w, "subscribers=%d\n", *subs)
	}

	used, remaining, reset := yt.QuotaStatus()
	fmt.Fprintf(w, "\nQuota: %d used, %d remaining, resets %s\n", used, remaining, reset.Format(time.RFC3339))

	return latestErr
}

func orDash(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}
