package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

type rawBodyKey struct{}

// withRawBody asks the transport to keep a copy of the response body read
// under ctx. The copy lands in *dst once the call returns.
func withRawBody(ctx context.Context, dst *[]byte) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, dst)
}

// bodyRecorder tees response bodies for requests that carry a withRawBody slot.
type bodyRecorder struct {
	base http.RoundTripper
}

func (r bodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	dst, ok := req.Context().Value(rawBodyKey{}).(*[]byte)
	if !ok || dst == nil {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	*dst = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// statisticsPresence reports which counters the first video item carried.
// The decoded API types cannot tell an omitted count from zero.
type statisticsPresence struct {
	viewCount bool
	likeCount bool
}

func presenceOf(raw []byte) statisticsPresence {
	var body struct {
		Items []struct {
			Statistics map[string]json.RawMessage `json:"statistics"`
		} `json:"items"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil || len(body.Items) == 0 {
		// Unknown: trust the decoded values.
		return statisticsPresence{viewCount: true, likeCount: true}
	}
	stats := body.Items[0].Statistics
	return statisticsPresence{
		viewCount: present(stats["viewCount"]),
		likeCount: present(stats["likeCount"]),
	}
}

func present(value json.RawMessage) bool {
	return len(value) > 0 && string(value) != "null"
}
