package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

const errBodyLimit = 500

// Client fetches the active-alert feed and alert audio. Each request uses a
// fresh connection so a wedged upstream socket cannot poison later cycles.
type Client struct {
	feedURL      string
	feedTimeout  time.Duration
	audioTimeout time.Duration
	log          logx.Logger
}

func NewClient(feedURL string, feedTimeout, audioTimeout time.Duration, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		feedURL:      feedURL,
		feedTimeout:  feedTimeout,
		audioTimeout: audioTimeout,
		log:          log,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			Proxy:             http.ProxyFromEnvironment,
		},
	}
}

// FetchActiveAlerts returns the current batch of active alerts. Any failure
// (network, status, malformed body) degrades to an empty batch: a broken
// feed must look like a quiet one, not kill the poll loop.
func (c *Client) FetchActiveAlerts(ctx context.Context) []Alert {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		c.log.Error("feed request build failed", logx.String("url", c.feedURL), logx.Err(err))
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := newHTTPClient(c.feedTimeout).Do(req)
	if err != nil {
		c.log.Error("feed fetch failed", logx.String("url", c.feedURL), logx.Err(err))
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error("feed read failed", logx.String("url", c.feedURL), logx.Err(err))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error("feed returned non-200",
			logx.Int("status", resp.StatusCode),
			logx.String("body", truncateBody(body)))
		return nil
	}

	var alerts []Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		c.log.Error("feed body is not an alert array",
			logx.Err(err),
			logx.String("body", truncateBody(body)))
		return nil
	}
	return alerts
}

// DownloadAudio fetches the alert audio at rawURL. It returns nil (no error)
// for a missing or empty payload so callers can post the alert text alone;
// an error means the URL itself was unusable.
func (c *Client) DownloadAudio(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported audio url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := newHTTPClient(c.audioTimeout).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return nil, fmt.Errorf("audio fetch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > errBodyLimit {
		return s[:errBodyLimit] + "..."
	}
	return s
}
