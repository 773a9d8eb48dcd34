// Package trackerapi is a client for the ajax.php API of a private tracker.
package trackerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"

	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
)

const maxResponseSize = 10 << 20

// UserAgent is sent with every API request.
var UserAgent = "fertilizer"

// Config of the API client.
type Config struct {
	// APIKey is sent in the Authorization header.
	APIKey string
	// MinInterval is the minimum time between two requests to the same tracker.
	// Zero selects the default. A negative value disables pacing.
	MinInterval time.Duration
	// Timeout of a single HTTP request.
	Timeout time.Duration
	// MaxRetries is the number of retries after a transient failure.
	MaxRetries uint64
	// BackOff returns the retry schedule. Defaults to exponential backoff.
	BackOff func() backoff.BackOff
	// Transport is used for HTTP requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Registry receives request timers and error meters. A private registry is created when nil.
	Registry metrics.Registry
}

// DefaultConfig holds the default values applied to zero fields.
var DefaultConfig = Config{
	MinInterval: 250 * time.Millisecond,
	Timeout:     15 * time.Second,
	MaxRetries:  3,
}

// Response is the envelope of every API response.
type Response struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TorrentResponse is the response of the "torrent" action.
type TorrentResponse struct {
	Group struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"group"`
	Torrent struct {
		ID       int64  `json:"id"`
		InfoHash string `json:"infoHash"`
		FilePath string `json:"filePath"`
	} `json:"torrent"`
}

type indexResponse struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
	Passkey  string `json:"passkey"`
	Announce string `json:"announce"`
}

// Client talks to the API of one tracker.
// Requests are serialized and paced; the client is safe for concurrent use.
type Client struct {
	tracker    *tracker.Tracker
	key        string
	http       *http.Client
	bucket     *ratelimit.Bucket
	maxRetries uint64
	newBackOff func() backoff.BackOff
	log        logger.Logger

	requests metrics.Timer
	failures metrics.Meter

	// m serializes requests so there is never more than one in flight.
	m sync.Mutex

	announceM   sync.Mutex
	announceURL string
}

// New returns a client for t. Zero fields of cfg are set from DefaultConfig.
func New(t *tracker.Tracker, cfg Config) *Client {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultConfig.MinInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.BackOff == nil {
		cfg.BackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}
	c := &Client{
		tracker:    t,
		key:        cfg.APIKey,
		http:       &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		maxRetries: cfg.MaxRetries,
		newBackOff: cfg.BackOff,
		log:        logger.New("trackerapi " + t.ShortName),
		requests:   metrics.GetOrRegisterTimer("trackerapi."+t.ShortName+".requests", cfg.Registry),
		failures:   metrics.GetOrRegisterMeter("trackerapi."+t.ShortName+".failures", cfg.Registry),
	}
	if cfg.MinInterval > 0 {
		c.bucket = ratelimit.NewBucket(cfg.MinInterval, 1)
	}
	return c
}

// Tracker returns the tracker this client talks to.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Verify checks the API key by discovering the announce URL.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.AnnounceURL(ctx)
	return err
}

// AnnounceURL returns the per-user announce URL. It is fetched with the "index" action on first use and cached.
func (c *Client) AnnounceURL(ctx context.Context) (string, error) {
	c.announceM.Lock()
	defer c.announceM.Unlock()
	if c.announceURL != "" {
		return c.announceURL, nil
	}
	resp, err := c.call(ctx, url.Values{"action": {"index"}})
	if err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", &APIError{Tracker: c.tracker.ShortName, Message: resp.Error}
	}
	var index indexResponse
	if err = json.Unmarshal(resp.Response, &index); err != nil {
		return "", fmt.Errorf("cannot decode %s index response: %w", c.tracker.ShortName, err)
	}
	switch {
	case index.Announce != "":
		c.announceURL = index.Announce
	case index.Passkey != "":
		c.announceURL = c.tracker.AnnounceURL(index.Passkey)
	default:
		return "", &APIError{Tracker: c.tracker.ShortName, Message: "index response has no passkey"}
	}
	c.log.Debugf("announce url discovered for user %q", index.Username)
	return c.announceURL, nil
}

// FindTorrent looks up a torrent by its hex infohash.
// A definitive not found answer is returned as an *APIError matching ErrNotFound.
func (c *Client) FindTorrent(ctx context.Context, infoHash string) (*TorrentResponse, error) {
	resp, err := c.call(ctx, url.Values{"action": {"torrent"}, "hash": {strings.ToUpper(infoHash)}})
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &APIError{Tracker: c.tracker.ShortName, Message: resp.Error}
	}
	var t TorrentResponse
	if err = json.Unmarshal(resp.Response, &t); err != nil {
		return nil, fmt.Errorf("cannot decode %s torrent response for %s: %w", c.tracker.ShortName, infoHash, err)
	}
	return &t, nil
}

func (c *Client) call(ctx context.Context, q url.Values) (*Response, error) {
	c.m.Lock()
	defer c.m.Unlock()

	var resp *Response
	operation := func() error {
		if err := c.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		resp, err = c.do(ctx, q)
		if err == nil {
			return nil
		}
		c.failures.Mark(1)
		if ctx.Err() != nil || !isRetryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Warningf("request %q failed, retrying: %s", q.Get("action"), err)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return resp, nil
}

// wait blocks until the pacing bucket allows another request.
func (c *Client) wait(ctx context.Context) error {
	if c.bucket == nil {
		return nil
	}
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, q url.Values) (*Response, error) {
	u := strings.TrimSuffix(c.tracker.SiteURL, "/") + "/ajax.php?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.tracker.AuthorizationHeader(c.key))
	req.Header.Set("User-Agent", UserAgent)
	c.log.Debugf("making request to: %q", u)

	start := time.Now()
	resp, err := c.http.Do(req)
	c.requests.UpdateSince(start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthenticationError{Tracker: c.tracker.ShortName, Message: http.StatusText(resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	var r Response
	if err = json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid response from %s: %w", c.tracker.ShortName, err)
	}
	if r.Status != "success" && isAuthMessage(r.Error) {
		return nil, &AuthenticationError{Tracker: c.tracker.ShortName, Message: r.Error}
	}
	return &r, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
