package youtube

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/util"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

// Client is a read-only YouTube Data API v3 client for one site. It keeps an
// estimate of the daily quota it has burned so operators can see it coming.
type Client struct {
	service *youtube.Service
	logger  *zap.Logger
	now     util.Clock

	quotaMu    sync.Mutex
	quotaUsed  int
	quotaReset time.Time
}

type ClientOptions struct {
	APIKey string
	// Endpoint overrides the API base URL, e.g. "http://127.0.0.1:9999/".
	Endpoint   string
	HTTPClient *http.Client
	Now        util.Clock
}

// VideoDetails holds the secondary statistics of a video. Nil fields are unknown.
type VideoDetails struct {
	ViewCount *string
	LikeCount *string
	Duration  *string
}

func NewClient(ctx context.Context, opts ClientOptions, logger *zap.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.NewConfigurationError("YouTube API key is missing", "YOUTUBE_API_KEY", 500)
	}

	// A supplied HTTP client bypasses option.WithAPIKey, so the key is added
	// by the transport chain instead.
	base := http.DefaultTransport
	var timeout time.Duration
	if opts.HTTPClient != nil {
		timeout = opts.HTTPClient.Timeout
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &transport.APIKey{
			Key:       opts.APIKey,
			Transport: bodyRecorder{base: base},
		},
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	service, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	now := opts.Now.OrSystem()
	c := &Client{
		service:    service,
		logger:     util.Named(logger, "youtube"),
		now:        now,
		quotaReset: util.NextPacificMidnight(now(), constants.YouTubeQuota.ResetLocation),
	}

	c.logger.Info("YouTube client initialized",
		zap.Time("quotaReset", c.quotaReset))

	return c, nil
}

// LatestVideo returns the most recently published video of the channel, or
// nil when the channel has none.
func (c *Client) LatestVideo(ctx context.Context, channelID string) (*domain.VideoSummary, error) {
	call := c.service.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Type("video").
		Order("date").
		MaxResults(1)

	response, err := call.Context(ctx).Do()
	c.consumeQuota(constants.YouTubeQuota.SearchCost)
	if err != nil {
		return nil, c.classify("search.latest", err)
	}

	for _, item := range response.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		return summaryFromSearch(item), nil
	}
	return nil, nil
}

// LiveVideoID returns the id of the broadcast currently live on the channel,
// or "" when the channel is not live.
func (c *Client) LiveVideoID(ctx context.Context, channelID string) (string, error) {
	call := c.service.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Type("video").
		EventType("live").
		MaxResults(1)

	response, err := call.Context(ctx).Do()
	c.consumeQuota(constants.YouTubeQuota.SearchCost)
	if err != nil {
		return "", c.classify("search.live", err)
	}

	for _, item := range response.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			return item.Id.VideoId, nil
		}
	}
	return "", nil
}

// VideoDetails fetches statistics and content details. A missing video
// yields nil details without error.
func (c *Client) VideoDetails(ctx context.Context, videoID string) (*VideoDetails, error) {
	call := c.service.Videos.List([]string{"statistics", "contentDetails"}).Id(videoID)

	var raw []byte
	response, err := call.Context(withRawBody(ctx, &raw)).Do()
	c.consumeQuota(constants.YouTubeQuota.VideosCost)
	if err != nil {
		return nil, c.classify("videos.list", err)
	}
	if len(response.Items) == 0 {
		return nil, nil
	}

	video := response.Items[0]
	details := &VideoDetails{}
	if video.Statistics != nil {
		presence := presenceOf(raw)
		if presence.viewCount {
			details.ViewCount = formatCount(video.Statistics.ViewCount)
		}
		if presence.likeCount {
			details.LikeCount = formatCount(video.Statistics.LikeCount)
		}
	}
	if video.ContentDetails != nil && video.ContentDetails.Duration != "" {
		duration := video.ContentDetails.Duration
		details.Duration = &duration
	}
	return details, nil
}

// ChannelSubscribers returns the subscriber count, or nil when the channel
// hides it or was not found.
func (c *Client) ChannelSubscribers(ctx context.Context, channelID string) (*int64, error) {
	call := c.service.Channels.List([]string{"statistics"}).Id(channelID)

	response, err := call.Context(ctx).Do()
	c.consumeQuota(constants.YouTubeQuota.ChannelsCost)
	if err != nil {
		return nil, c.classify("channels.list", err)
	}

	for _, channel := range response.Items {
		if channel.Statistics == nil || channel.Statistics.HiddenSubscriberCount {
			return nil, nil
		}
		count := int64(channel.Statistics.SubscriberCount)
		return &count, nil
	}
	return nil, nil
}

// classify maps a 403 to QuotaExceededError and anything else to UpstreamError.
func (c *Client) classify(operation string, err error) error {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			used, _, reset := c.markQuotaExhausted()
			c.logger.Warn("YouTube API quota exhausted",
				zap.String("operation", operation),
				zap.Time("resetTime", reset))
			return errors.NewQuotaExceededError(operation, used, constants.YouTubeQuota.DailyLimit, reset, err)
		}
		return errors.NewUpstreamError(fmt.Sprintf("YouTube %s failed with status %d", operation, apiErr.Code),
			errors.UpstreamBadResponse, operation, apiErr.Code, err)
	}
	return errors.NewUpstreamError(fmt.Sprintf("YouTube %s failed", operation),
		errors.UpstreamUnavailable, operation, http.StatusBadGateway, err)
}

func (c *Client) rollQuotaLocked() {
	now := c.now()
	if now.After(c.quotaReset) {
		c.quotaUsed = 0
		c.quotaReset = util.NextPacificMidnight(now, constants.YouTubeQuota.ResetLocation)
		c.logger.Info("YouTube API quota auto-reset",
			zap.Time("nextReset", c.quotaReset))
	}
}

func (c *Client) consumeQuota(cost int) {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	c.rollQuotaLocked()
	c.quotaUsed += cost
	remaining := constants.YouTubeQuota.DailyLimit - c.quotaUsed

	c.logger.Debug("YouTube API quota consumed",
		zap.Int("cost", cost),
		zap.Int("used", c.quotaUsed),
		zap.Int("remaining", remaining))

	if remaining < constants.YouTubeQuota.SafetyMargin {
		c.logger.Warn("YouTube API quota running low",
			zap.Int("remaining", remaining),
			zap.Time("resetTime", c.quotaReset))
	}
}

func (c *Client) markQuotaExhausted() (used int, remaining int, reset time.Time) {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	c.rollQuotaLocked()
	if c.quotaUsed < constants.YouTubeQuota.DailyLimit {
		c.quotaUsed = constants.YouTubeQuota.DailyLimit
	}
	return c.quotaUsed, 0, c.quotaReset
}

// QuotaStatus reports the estimated quota usage for the current quota day.
func (c *Client) QuotaStatus() (used int, remaining int, resetTime time.Time) {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	c.rollQuotaLocked()
	remaining = constants.YouTubeQuota.DailyLimit - c.quotaUsed
	if remaining < 0 {
		remaining = 0
	}
	return c.quotaUsed, remaining, c.quotaReset
}

func summaryFromSearch(item *youtube.SearchResult) *domain.VideoSummary {
	summary := &domain.VideoSummary{
		ID:          item.Id.VideoId,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		Thumbnail:   extractThumbnail(item.Snippet.Thumbnails),
	}
	if item.Snippet.PublishedAt != "" {
		if publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			summary.PublishedAt = publishedAt
		}
	}
	return summary
}

func extractThumbnail(thumbnails *youtube.ThumbnailDetails) *string {
	if thumbnails == nil {
		return nil
	}

	for _, thumb := range []*youtube.Thumbnail{thumbnails.Maxres, thumbnails.High, thumbnails.Medium, thumbnails.Default} {
		if thumb != nil && thumb.Url != "" {
			url := thumb.Url
			return &url
		}
	}
	return nil
}

func formatCount(value uint64) *string {
	formatted := strconv.FormatUint(value, 10)
	return &formatted
}
