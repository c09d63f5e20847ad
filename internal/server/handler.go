package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/service/aggregator"
	"github.com/kapu/channel-snapshot/internal/util"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

// SnapshotSource is implemented by *aggregator.Aggregator.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context) (*aggregator.Result, error)
	Entry() domain.CacheEntry
}

type SnapshotHandler struct {
	source  SnapshotSource
	timeout time.Duration
	logger  *zap.Logger
}

func NewSnapshotHandler(source SnapshotSource, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		source:  source,
		timeout: constants.ServerConfig.UpstreamTimeout,
		logger:  util.Named(logger, "handler"),
	}
}

// snapshotPayload is the wire body. The fetch time stays server-side; the
// client stamps its own on receipt.
type snapshotPayload struct {
	VideoData   *domain.VideoSummary `json:"videoData"`
	LiveData    *domain.LiveStatus   `json:"liveData"`
	ChannelData *domain.ChannelStats `json:"channelData,omitempty"`
}

func payloadOf(snapshot *domain.Snapshot) snapshotPayload {
	live := snapshot.LiveData
	if live == nil {
		notLive := domain.NotLive()
		live = &notLive
	}
	return snapshotPayload{
		VideoData:   snapshot.VideoData,
		LiveData:    live,
		ChannelData: snapshot.ChannelData,
	}
}

// GetSnapshot handles GET /api/youtube and its legacy alias.
func (h *SnapshotHandler) GetSnapshot(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := h.source.GetSnapshot(ctx)
	if err != nil {
		if errors.IsConfiguration(err) {
			h.logger.Error("Snapshot endpoint misconfigured", zap.Error(err))
			c.JSON(errors.StatusCode(err), gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to build snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch YouTube data",
			"details": err.Error(),
		})
		return
	}

	if result.QuotaSuppressed {
		c.Header("Cache-Control", constants.CacheControl.Suppressed)
		c.JSON(http.StatusOK, payloadOf(result.Snapshot))
		return
	}

	c.Header("Cache-Control", constants.CacheControl.Snapshot)
	c.JSON(http.StatusOK, payloadOf(result.Snapshot))
}

// Health reports the cache state without touching upstream.
func (h *SnapshotHandler) Health(c *gin.Context) {
	entry := h.source.Entry()

	var lastFetched any
	if entry.Snapshot != nil && !entry.Snapshot.FetchedAt.IsZero() {
		lastFetched = entry.Snapshot.FetchedAt.UnixMilli()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"quotaExceeded": entry.QuotaExceeded,
		"lastFetched":   lastFetched,
	})
}
