package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/util"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

// Fetcher performs one round-trip to the snapshot endpoint.
type Fetcher interface {
	Fetch(ctx context.Context) (*domain.Snapshot, error)
}

// HTTPFetcher reads snapshots from the aggregator's HTTP endpoint.
type HTTPFetcher struct {
	endpoint   string
	httpClient *http.Client
	now        util.Clock
	logger     *zap.Logger
}

func NewHTTPFetcher(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	if endpoint == "" {
		endpoint = constants.ClientConfig.DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = constants.ClientConfig.RequestTimeout
	}
	return &HTTPFetcher{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now:    util.SystemClock(),
		logger: util.Named(logger, "fetcher"),
	}
}

// requestURL appends t=<epoch ms> so intermediaries cannot answer from cache.
func (f *HTTPFetcher) requestURL() (string, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(f.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*domain.Snapshot, error) {
	target, err := f.requestURL()
	if err != nil {
		return nil, errors.NewConfigurationError("invalid snapshot endpoint", "SNAPSHOT_ENDPOINT", 500)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.NewUpstreamError("failed to create request", errors.UpstreamUnavailable, "snapshot.get", 500, err)
	}
	req.Header.Set("Accept", "application/json")

	f.logger.Debug("Fetching snapshot", zap.String("url", target))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamError("request failed", errors.UpstreamUnavailable, "snapshot.get", 502, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &body) == nil && body.Error != "" {
			message = body.Error
		}
		return nil, errors.NewUpstreamError(message, errors.UpstreamBadResponse, "snapshot.get", resp.StatusCode, nil)
	}

	var snapshot domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, errors.NewUpstreamError("failed to decode response", errors.UpstreamBadResponse, "snapshot.get", 502, err)
	}
	// The server always sends liveData; a body without it is not a snapshot.
	if snapshot.LiveData == nil {
		return nil, errors.NewUpstreamError("response has no liveData", errors.UpstreamBadResponse, "snapshot.get", 502, nil)
	}
	return &snapshot, nil
}
