// Package injector adds generated torrents to a running torrent client so the existing data is seeded on both trackers.
package injector

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

// Label marks torrents added by fertilizer.
const Label = "fertilizer"

// TorrentInfo is the client's view of a torrent.
type TorrentInfo struct {
	// Complete is true iff the torrent finished downloading.
	Complete bool
	Label    string
	SavePath string
	// ContentPath is the file or root directory of the torrent data, when known.
	ContentPath string
}

// Client is implemented by each torrent client adapter.
type Client interface {
	// Setup establishes the session and discovers optional capabilities. It may be called again after a failure.
	Setup(ctx context.Context) error
	// GetTorrentInfo looks up a torrent. A missing torrent is a *TorrentClientError wrapping ErrTorrentNotFound.
	GetTorrentInfo(ctx context.Context, infoHash string) (*TorrentInfo, error)
	// InjectTorrent adds newFile in seed mode next to the data of the source torrent and returns the new infohash.
	// A non-empty savePathOverride replaces the source torrent's save path.
	InjectTorrent(ctx context.Context, sourceInfoHash, newFile, savePathOverride string) (string, error)
}

// DeriveLabel returns the label for a cross-seeded torrent given the source torrent's label.
// An existing taxonomy is kept and suffixed with ".fertilizer"; applying it twice changes nothing.
func DeriveLabel(current string) string {
	switch {
	case current == "", current == Label:
		return Label
	case strings.HasSuffix(current, "."+Label):
		return current
	default:
		return current + "." + Label
	}
}

// ParseURL removes the userinfo from a client URL and returns the percent-decoded credentials.
// basePath is appended to the URL path unless the path already ends with it.
func ParseURL(rawURL, basePath string) (endpoint, username, password string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", "", &TorrentClientError{Msg: "invalid client url: " + u.Redacted()}
	}
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
		u.User = nil
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, basePath) {
		u.Path += basePath
	}
	u.RawPath = ""
	return u.String(), username, password, nil
}

// Request is an injection after the common checks have passed.
type Request struct {
	SourceInfoHash string
	NewInfoHash    string
	// File is the path of the new torrent file and Torrent its contents.
	File     string
	Torrent  []byte
	SavePath string
	Label    string
	// ContentPath is where the client keeps the source data.
	ContentPath string
}

// Prepare performs the checks shared by all adapters before a torrent is added:
// the source torrent must be complete and the new torrent must not be in the client yet.
func Prepare(ctx context.Context, c Client, sourceInfoHash, newFile, savePathOverride string) (*Request, error) {
	source, err := c.GetTorrentInfo(ctx, sourceInfoHash)
	if err != nil {
		return nil, err
	}
	if !source.Complete {
		return nil, &TorrentClientError{Msg: "torrent not complete (" + sourceInfoHash + ")"}
	}
	m, err := metainfo.Load(newFile)
	if err != nil {
		return nil, err
	}
	b, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	newInfoHash, err := m.InfoHash()
	if err != nil {
		return nil, err
	}
	_, err = c.GetTorrentInfo(ctx, newInfoHash)
	switch {
	case err == nil:
		return nil, &TorrentExistsInClientError{InfoHash: newInfoHash, File: newFile}
	case !errors.Is(err, ErrTorrentNotFound):
		return nil, err
	}
	savePath := source.SavePath
	if savePathOverride != "" {
		savePath = savePathOverride
	}
	return &Request{
		SourceInfoHash: sourceInfoHash,
		NewInfoHash:    newInfoHash,
		File:           newFile,
		Torrent:        b,
		SavePath:       savePath,
		Label:          DeriveLabel(source.Label),
		ContentPath:    source.ContentPath,
	}, nil
}

// Injector wraps a Client with the optional link directory behavior.
type Injector struct {
	client  Client
	linkDir string
	log     logger.Logger
}

// New returns an Injector. When linkDir is not empty the source data is hard linked
// into linkDir/<tracker> and the new torrent is saved there.
func New(c Client, linkDir string) *Injector {
	return &Injector{
		client:  c,
		linkDir: linkDir,
		log:     logger.New("injector"),
	}
}

// Setup sets up the underlying client.
func (i *Injector) Setup(ctx context.Context) error {
	return i.client.Setup(ctx)
}

// Inject adds newFile to the client. trackerName selects the link subdirectory.
// Nothing is linked unless the source is complete and newFile is not in the client yet.
func (i *Injector) Inject(ctx context.Context, sourceInfoHash, newFile, trackerName string) (string, error) {
	var override string
	if i.linkDir != "" {
		req, err := Prepare(ctx, i.client, sourceInfoHash, newFile, "")
		if err != nil {
			return "", err
		}
		if req.ContentPath == "" {
			return "", &TorrentClientError{Msg: "client did not report content path (" + sourceInfoHash + ")"}
		}
		override = filepath.Join(i.linkDir, trackerName)
		if err = LinkContent(req.ContentPath, override); err != nil {
			return "", err
		}
		i.log.Debugf("linked %s into %s", req.ContentPath, override)
	}
	h, err := i.client.InjectTorrent(ctx, sourceInfoHash, newFile, override)
	if err != nil {
		return "", err
	}
	i.log.Infof("injected %s as %s", newFile, h)
	return h, nil
}
