// Package injectortest provides an in-memory torrent client for tests.
package injectortest

import (
	"context"
	"sync"

	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

// Client is a fake torrent client. It follows the same injection rules as the real adapters.
type Client struct {
	// SetupErr is returned from Setup when set.
	SetupErr error

	m          sync.Mutex
	torrents   map[string]injector.TorrentInfo
	setupCalls int
}

var _ injector.Client = (*Client)(nil)

// New returns an empty client.
func New() *Client {
	return &Client{torrents: make(map[string]injector.TorrentInfo)}
}

// Add puts a torrent into the client.
func (c *Client) Add(infoHash string, info injector.TorrentInfo) {
	c.m.Lock()
	c.torrents[metainfo.NormalizeInfoHash(infoHash)] = info
	c.m.Unlock()
}

// Torrents returns a copy of the client state.
func (c *Client) Torrents() map[string]injector.TorrentInfo {
	c.m.Lock()
	defer c.m.Unlock()
	ret := make(map[string]injector.TorrentInfo, len(c.torrents))
	for k, v := range c.torrents {
		ret[k] = v
	}
	return ret
}

// SetupCalls returns how many times Setup was called.
func (c *Client) SetupCalls() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.setupCalls
}

// Setup implements injector.Client.
func (c *Client) Setup(ctx context.Context) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.setupCalls++
	return c.SetupErr
}

// GetTorrentInfo implements injector.Client.
func (c *Client) GetTorrentInfo(ctx context.Context, infoHash string) (*injector.TorrentInfo, error) {
	c.m.Lock()
	defer c.m.Unlock()
	t, ok := c.torrents[metainfo.NormalizeInfoHash(infoHash)]
	if !ok {
		return nil, injector.NotFound(infoHash)
	}
	return &t, nil
}

// InjectTorrent implements injector.Client.
func (c *Client) InjectTorrent(ctx context.Context, sourceInfoHash, newFile, savePathOverride string) (string, error) {
	req, err := injector.Prepare(ctx, c, sourceInfoHash, newFile, savePathOverride)
	if err != nil {
		return "", err
	}
	c.Add(req.NewInfoHash, injector.TorrentInfo{
		Complete: true,
		Label:    req.Label,
		SavePath: req.SavePath,
	})
	return req.NewInfoHash, nil
}
