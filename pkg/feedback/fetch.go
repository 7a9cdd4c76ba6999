package feedback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RemoteAudio is a clip downloaded over HTTP.
type RemoteAudio struct {
	URL         string
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// RemoteFetcher downloads feedback clips from a URL, typically a presigned
// object URL. Every fetch revalidates so a fresh upload is picked up.
type RemoteFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	cacheBust  bool
	now        func() time.Time
	logger     *FeedbackLogger
}

func NewRemoteFetcher(timeout time.Duration) *RemoteFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		maxBytes: 64 << 20,
		now:      time.Now,
		logger:   GetGlobalLogger().WithComponent("RemoteFetcher"),
	}
}

// SetHTTPClient replaces the client, mainly for tests.
func (f *RemoteFetcher) SetHTTPClient(c *http.Client) {
	f.httpClient = c
}

// SetCacheBust appends a timestamp query parameter to every request, for
// servers that ignore Cache-Control on requests.
func (f *RemoteFetcher) SetCacheBust(enabled bool) {
	f.cacheBust = enabled
}

func (f *RemoteFetcher) requestURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if f.cacheBust {
		q := u.Query()
		q.Set("t", strconv.FormatInt(f.now().UnixMilli(), 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Fetch downloads rawURL. A 404 is NotFound, any other failure is a
// PlaybackError.
func (f *RemoteFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteAudio, error) {
	target, err := f.requestURL(rawURL)
	if err != nil {
		return nil, NewPlaybackError("invalid remote url").withCause(err).AddDetail("url", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewPlaybackError("invalid remote url").withCause(err).AddDetail("url", rawURL)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "FeedbackSDK-Go/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, NewPlaybackError("content unavailable").withCause(err).AddDetail("url", rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewFeedbackError("no feedback available", ErrCodeNotFound).AddDetail("url", rawURL)
	case resp.StatusCode >= 400:
		return nil, NewPlaybackError(fmt.Sprintf("content unavailable: %s", http.StatusText(resp.StatusCode))).
			AddDetail("status_code", resp.StatusCode).
			AddDetail("url", rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, NewPlaybackError("content unavailable").withCause(err).AddDetail("url", rawURL)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, NewPlaybackError("clip too large").AddDetail("max_bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, NewPlaybackError("content unavailable: empty body").AddDetail("url", rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	f.logger.WithFields(map[string]interface{}{
		"status":       resp.StatusCode,
		"bytes":        len(data),
		"content_type": contentType,
	}).Debug("Remote clip fetched")

	return &RemoteAudio{
		URL:         rawURL,
		Data:        data,
		ContentType: contentType,
		FetchedAt:   f.now(),
	}, nil
}
