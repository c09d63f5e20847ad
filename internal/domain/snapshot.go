package domain

import (
	"encoding/json"
	"time"
)

// VideoSummary describes the most recently published video of the channel.
type VideoSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Thumbnail   *string   `json:"thumbnail"`
	PublishedAt time.Time `json:"publishedAt"`
	ViewCount   *string   `json:"viewCount"`
	Duration    *string   `json:"duration"` // ISO 8601, e.g. PT12M3S
	LikeCount   *string   `json:"likeCount"`
}

// ChannelStats carries aggregate channel metrics. A nil SubscriberCount means
// unknown (hidden or unavailable), never zero.
type ChannelStats struct {
	SubscriberCount *int64 `json:"subscriberCount"`
}

// Snapshot is the unit cached by both tiers and transported between them.
// A snapshot is never mutated after it has been cached.
type Snapshot struct {
	VideoData   *VideoSummary `json:"videoData"`
	LiveData    *LiveStatus   `json:"liveData"`
	ChannelData *ChannelStats `json:"channelData,omitempty"`
	FetchedAt   time.Time     `json:"-"`
}

type snapshotAlias Snapshot

type snapshotJSON struct {
	*snapshotAlias
	LastFetched int64 `json:"lastFetched,omitempty"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{snapshotAlias: (*snapshotAlias)(&s)}
	if !s.FetchedAt.IsZero() {
		out.LastFetched = s.FetchedAt.UnixMilli()
	}
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	in := snapshotJSON{snapshotAlias: (*snapshotAlias)(s)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.LastFetched > 0 {
		s.FetchedAt = time.UnixMilli(in.LastFetched)
	} else {
		s.FetchedAt = time.Time{}
	}
	return nil
}

// Age reports how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// IsFresh reports whether the snapshot is younger than window at now.
func (s *Snapshot) IsFresh(now time.Time, window time.Duration) bool {
	if s == nil || s.FetchedAt.IsZero() {
		return false
	}
	return s.Age(now) < window
}

// IsEmpty reports whether the snapshot carries nothing worth rendering.
func (s *Snapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	live := s.LiveData != nil && s.LiveData.IsLive()
	return s.VideoData == nil && !live && s.ChannelData == nil
}

// FallbackSnapshot is served whenever no real data can be shown: no video,
// not live, unknown channel stats.
func FallbackSnapshot(now time.Time) *Snapshot {
	notLive := NotLive()
	return &Snapshot{
		VideoData:   nil,
		LiveData:    &notLive,
		ChannelData: nil,
		FetchedAt:   now,
	}
}
