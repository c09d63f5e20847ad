package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// LiveStatus is either NotLive or Live with a watch URL. The zero value is NotLive.
type LiveStatus struct {
	url string
}

// NotLive is the status of a channel with no broadcast in progress.
func NotLive() LiveStatus {
	return LiveStatus{}
}

// Live returns a live status for watchURL. It panics on an empty URL since a
// live status without a URL cannot be represented on the wire.
func Live(watchURL string) LiveStatus {
	if watchURL == "" {
		panic("domain: live status requires a watch URL")
	}
	return LiveStatus{url: watchURL}
}

// LiveFromVideoID builds the live status for a broadcasting video.
func LiveFromVideoID(videoID string) LiveStatus {
	return Live(WatchURL(videoID))
}

// WatchURL is the public watch page of videoID.
func WatchURL(videoID string) string {
	return watchURLPrefix + url.QueryEscape(videoID)
}

// IsLive reports whether a broadcast is in progress.
func (l LiveStatus) IsLive() bool {
	return l.url != ""
}

// URL returns the watch URL and true when live.
func (l LiveStatus) URL() (string, bool) {
	return l.url, l.url != ""
}

func (l LiveStatus) String() string {
	if !l.IsLive() {
		return "not live"
	}
	return "live at " + l.url
}

// liveWire keeps the historical wire shape where url is false when not live.
type liveWire struct {
	IsLive bool            `json:"isLive"`
	URL    json.RawMessage `json:"url"`
}

var falseLiteral = []byte("false")

// MarshalJSON writes {"isLive":true,"url":"..."} or {"isLive":false,"url":false}.
func (l LiveStatus) MarshalJSON() ([]byte, error) {
	if !l.IsLive() {
		return json.Marshal(liveWire{IsLive: false, URL: falseLiteral})
	}
	raw, err := json.Marshal(l.url)
	if err != nil {
		return nil, err
	}
	return json.Marshal(liveWire{IsLive: true, URL: raw})
}

// UnmarshalJSON rejects a url on a not-live status and a live status without
// an http(s) url.
func (l *LiveStatus) UnmarshalJSON(data []byte) error {
	var wire liveWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	raw := bytes.TrimSpace(wire.URL)
	notURL := len(raw) == 0 || bytes.Equal(raw, falseLiteral) || bytes.Equal(raw, []byte("null"))

	if !wire.IsLive {
		if !notURL {
			return fmt.Errorf("live status: url present while not live")
		}
		*l = NotLive()
		return nil
	}

	if notURL {
		return fmt.Errorf("live status: live without url")
	}
	var watchURL string
	if err := json.Unmarshal(raw, &watchURL); err != nil {
		return fmt.Errorf("live status: url: %w", err)
	}
	parsed, err := url.ParseRequestURI(watchURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("live status: malformed url %q", watchURL)
	}
	*l = Live(watchURL)
	return nil
}
