package constants

import "time"

var CacheTTL = struct {
	Snapshot         time.Duration
	QuotaSuppression time.Duration
	ErrorCooldown    time.Duration
}{
	Snapshot:         5 * time.Minute, // both tiers
	QuotaSuppression: 24 * time.Hour,  // sticky after a 403 on the primary search
	ErrorCooldown:    5 * time.Minute, // client negative cache
}

// CacheControl holds the max-age hints sent with aggregator responses.
var CacheControl = struct {
	Snapshot   string
	Suppressed string
}{
	Snapshot:   "public, max-age=300",
	Suppressed: "public, max-age=86400",
}

var YouTubeQuota = struct {
	DailyLimit    int
	SafetyMargin  int
	SearchCost    int
	VideosCost    int
	ChannelsCost  int
	ResetLocation string
}{
	DailyLimit:    10000,
	SafetyMargin:  2000,
	SearchCost:    100, // search.list
	VideosCost:    1,   // videos.list
	ChannelsCost:  1,   // channels.list
	ResetLocation: "America/Los_Angeles",
}

var ServerConfig = struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	UpstreamTimeout time.Duration
}{
	ReadTimeout:     10 * time.Second,
	WriteTimeout:    30 * time.Second,
	ShutdownTimeout: 10 * time.Second,
	UpstreamTimeout: 20 * time.Second,
}

var RedisConfig = struct {
	KeyPrefix    string
	ReadyTimeout time.Duration
}{
	KeyPrefix:    "snapshot:",
	ReadyTimeout: 5 * time.Second,
}

var ClientConfig = struct {
	DefaultEndpoint string
	RequestTimeout  time.Duration
}{
	DefaultEndpoint: "http://localhost:8888/.netlify/functions/youtube",
	RequestTimeout:  15 * time.Second,
}
