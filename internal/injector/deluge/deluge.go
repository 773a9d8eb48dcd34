// Package deluge implements injector.Client for the Deluge Web UI JSON-RPC API.
package deluge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

// DefaultTimeout is the timeout of a single RPC request.
const DefaultTimeout = 10 * time.Second

// Deluge returns this code when the session cookie is missing or expired.
const errNotAuthenticated = 1

const maxResponseSize = 10 << 20

var torrentFields = []string{"name", "state", "progress", "save_path", "label", "total_remaining"}

// Config of the Deluge client.
type Config struct {
	// URL of the Web UI, e.g. "http://:password@localhost:8112". The "/json" path is appended.
	URL string
	// Timeout of a single request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Transport is used for HTTP requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

type state int

const (
	unauthenticated state = iota
	authenticated
	authenticatedWithPlugins
)

// Client talks to the Deluge Web UI. It is safe for concurrent use.
type Client struct {
	endpoint string
	password string
	http     *http.Client
	log      logger.Logger

	m           sync.Mutex
	state       state
	labelPlugin bool
}

var _ injector.Client = (*Client)(nil)

// New returns a client. No request is made until Setup is called.
func New(cfg Config) (*Client, error) {
	endpoint, _, password, err := injector.ParseURL(cfg.URL, "/json")
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint: endpoint,
		password: password,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport, Jar: jar},
		log:      logger.New("deluge"),
	}, nil
}

// Setup logs in, checks that the Web UI is connected to a daemon and discovers the Label plugin.
func (c *Client) Setup(ctx context.Context) error {
	c.m.Lock()
	defer c.m.Unlock()
	if err := c.login(ctx); err != nil {
		return err
	}
	var connected bool
	if err := c.call(ctx, "web.connected", nil, &connected); err != nil {
		return err
	}
	if !connected {
		return &injector.TorrentClientError{Msg: "deluge web ui is not connected to a daemon"}
	}
	var plugins []string
	if err := c.call(ctx, "core.get_enabled_plugins", nil, &plugins); err != nil {
		return err
	}
	c.labelPlugin = false
	for _, p := range plugins {
		if p == "Label" {
			c.labelPlugin = true
			break
		}
	}
	c.state = authenticatedWithPlugins
	c.log.Debugf("connected, label plugin enabled: %v", c.labelPlugin)
	return nil
}

type torrentStatus struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Progress       float64 `json:"progress"`
	SavePath       string  `json:"save_path"`
	Label          string  `json:"label"`
	TotalRemaining int64   `json:"total_remaining"`
}

type updateUIResult struct {
	Torrents map[string]torrentStatus `json:"torrents"`
}

// GetTorrentInfo implements injector.Client.
func (c *Client) GetTorrentInfo(ctx context.Context, infoHash string) (*injector.TorrentInfo, error) {
	hash := strings.ToLower(infoHash)
	var res updateUIResult
	err := c.rpc(ctx, "web.update_ui", []interface{}{torrentFields, map[string]string{"hash": hash}}, &res)
	if err != nil {
		return nil, err
	}
	t, ok := res.Torrents[hash]
	if !ok {
		return nil, injector.NotFound(infoHash)
	}
	return &injector.TorrentInfo{
		Complete:    t.State == "Seeding" || t.Progress == 100 || t.TotalRemaining == 0,
		Label:       t.Label,
		SavePath:    t.SavePath,
		ContentPath: filepath.Join(t.SavePath, t.Name),
	}, nil
}

// InjectTorrent implements injector.Client.
func (c *Client) InjectTorrent(ctx context.Context, sourceInfoHash, newFile, savePathOverride string) (string, error) {
	req, err := injector.Prepare(ctx, c, sourceInfoHash, newFile, savePathOverride)
	if err != nil {
		return "", err
	}
	options := map[string]interface{}{
		"download_location": req.SavePath,
		"seed_mode":         true,
		"add_paused":        false,
	}
	params := []interface{}{filepath.Base(req.File), base64.StdEncoding.EncodeToString(req.Torrent), options}
	var added *string
	if err = c.rpc(ctx, "core.add_torrent_file", params, &added); err != nil {
		return "", err
	}
	if added == nil {
		return "", &injector.TorrentClientError{Msg: "deluge did not add " + req.File}
	}
	if c.hasLabelPlugin() {
		if err = c.setLabel(ctx, strings.ToLower(req.NewInfoHash), strings.ToLower(req.Label)); err != nil {
			return "", err
		}
	}
	return metainfo.NormalizeInfoHash(*added), nil
}

func (c *Client) hasLabelPlugin() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.labelPlugin
}

func (c *Client) setLabel(ctx context.Context, hash, label string) error {
	var labels []string
	if err := c.rpc(ctx, "label.get_labels", nil, &labels); err != nil {
		return err
	}
	exists := false
	for _, l := range labels {
		if l == label {
			exists = true
			break
		}
	}
	if !exists {
		if err := c.rpc(ctx, "label.add", []interface{}{label}, nil); err != nil {
			return err
		}
	}
	return c.rpc(ctx, "label.set_torrent", []interface{}{hash, label}, nil)
}

// rpc calls method and logs in again once if the session has expired.
func (c *Client) rpc(ctx context.Context, method string, params []interface{}, result interface{}) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.state == unauthenticated {
		if err := c.login(ctx); err != nil {
			return err
		}
	}
	err := c.call(ctx, method, params, result)
	if !isNotAuthenticated(err) {
		return err
	}
	c.log.Debugln("session expired, logging in again")
	c.state = unauthenticated
	if err = c.login(ctx); err != nil {
		return err
	}
	err = c.call(ctx, method, params, result)
	if isNotAuthenticated(err) {
		c.state = unauthenticated
		return &injector.TorrentClientAuthenticationError{Msg: "deluge rejected the session after login"}
	}
	return err
}

func (c *Client) login(ctx context.Context) error {
	var ok bool
	if err := c.call(ctx, "auth.login", []interface{}{c.password}, &ok); err != nil {
		return err
	}
	if !ok {
		return &injector.TorrentClientAuthenticationError{Msg: "deluge rejected the password"}
	}
	if c.state == unauthenticated {
		c.state = authenticated
	}
	return nil
}

type request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     string        `json:"id"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("deluge error %d: %s", e.Code, e.Message)
}

func isNotAuthenticated(err error) bool {
	ce, ok := err.(*injector.TorrentClientError)
	if !ok {
		return false
	}
	re, ok := ce.Err.(*rpcError)
	return ok && re.Code == errNotAuthenticated
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := uuid.Must(uuid.NewV4()).String()
	body, err := json.Marshal(request{Method: method, Params: params, ID: id})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &injector.TorrentClientError{Msg: method, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &injector.TorrentClientError{Msg: method, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &injector.TorrentClientError{Msg: fmt.Sprintf("%s: http status %d", method, resp.StatusCode)}
	}
	var r response
	if err = json.Unmarshal(b, &r); err != nil {
		return &injector.TorrentClientError{Msg: method + ": invalid response", Err: err}
	}
	if r.ID != id {
		return &injector.TorrentClientError{Msg: fmt.Sprintf("%s: response id %q does not match request id %q", method, r.ID, id)}
	}
	if r.Error != nil {
		return &injector.TorrentClientError{Msg: method, Err: r.Error}
	}
	if result == nil || len(r.Result) == 0 {
		return nil
	}
	if err = json.Unmarshal(r.Result, result); err != nil {
		return &injector.TorrentClientError{Msg: method + ": unexpected result", Err: err}
	}
	return nil
}
