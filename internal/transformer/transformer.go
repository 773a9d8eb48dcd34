// Package transformer turns a torrent from one tracker into the equivalent torrent for its reciprocal tracker.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fertilizer-io/fertilizer/internal/index"
	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
	"github.com/fertilizer-io/fertilizer/internal/stringutil"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
	"github.com/fertilizer-io/fertilizer/internal/trackerapi"
)

// ResumeExtension is the extension of the sidecar consulted when a torrent does not reveal its tracker.
const ResumeExtension = ".fastresume"

// API is the subset of the tracker API client used by the transformer.
type API interface {
	AnnounceURL(ctx context.Context) (string, error)
	FindTorrent(ctx context.Context, infoHash string) (*trackerapi.TorrentResponse, error)
}

// Result of a successful transformation.
type Result struct {
	// Tracker is the reciprocal tracker the new torrent belongs to.
	Tracker *tracker.Tracker
	// Path of the new torrent file.
	Path string
	// PreviouslyGenerated is true when the torrent was found in the output index and nothing was written.
	PreviouslyGenerated bool
	// SourceInfoHash is the infohash of the source torrent, as known to the torrent client.
	SourceInfoHash string
}

// Transformer generates cross-seed torrents.
type Transformer struct {
	registry *tracker.Registry
	apis     map[string]API
	log      logger.Logger
}

// New returns a Transformer. apis is keyed by tracker short name.
func New(registry *tracker.Registry, apis map[string]API) *Transformer {
	return &Transformer{
		registry: registry,
		apis:     apis,
		log:      logger.New("transformer"),
	}
}

// Transform reads sourceFile and writes the matching torrent for the reciprocal tracker under outputDir.
// sourceFile is never modified.
func (t *Transformer) Transform(ctx context.Context, sourceFile, outputDir string, inputIndex, outputIndex index.Index) (*Result, error) {
	m, err := metainfo.Load(sourceFile)
	if err != nil {
		return nil, err
	}
	origin, err := t.origin(sourceFile, m)
	if err != nil {
		return nil, err
	}
	reciprocal := t.registry.Reciprocal(origin)
	sourceHash, err := m.InfoHash()
	if err != nil {
		return nil, &metainfo.DecodeError{File: sourceFile, Err: err}
	}

	candidates := make([]string, len(reciprocal.CreateFlags))
	for i, flag := range reciprocal.CreateFlags {
		h, err := m.RehashWithSource(flag)
		if err != nil {
			return nil, &metainfo.DecodeError{File: sourceFile, Err: err}
		}
		candidates[i] = h
	}
	for _, h := range candidates {
		if p, ok := inputIndex.Lookup(h); ok {
			return nil, &TorrentAlreadyExistsError{File: sourceFile, Existing: p}
		}
	}
	for _, h := range candidates {
		if p, ok := outputIndex.Lookup(h); ok {
			return &Result{Tracker: reciprocal, Path: p, PreviouslyGenerated: true, SourceInfoHash: sourceHash}, nil
		}
	}

	api, ok := t.apis[reciprocal.ShortName]
	if !ok {
		return nil, fmt.Errorf("no API client for tracker %s", reciprocal.ShortName)
	}
	var lastErr error
	for i, flag := range reciprocal.CreateFlags {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := api.FindTorrent(ctx, candidates[i])
		if err != nil {
			var apiErr *trackerapi.APIError
			if !errors.As(err, &apiErr) {
				return nil, fmt.Errorf("cannot look up %s (%s) on %s: %w", sourceFile, candidates[i], reciprocal.ShortName, err)
			}
			t.log.Debugf("%s not on %s with source %q: %s", sourceFile, reciprocal.ShortName, flag, err)
			lastErr = err
			continue
		}
		path := outputPath(outputDir, reciprocal, resp, m.Name(), flag)
		if _, err = os.Stat(path); err == nil {
			return nil, &TorrentAlreadyExistsError{File: sourceFile, Existing: path}
		}
		announce, err := api.AnnounceURL(ctx)
		if err != nil {
			return nil, err
		}
		out := m.Clone()
		out.SetSource(flag)
		out.SetAnnounce(announce)
		out.SetComment(reciprocal.TorrentURL(resp.Torrent.ID))
		if err = out.WriteFile(path); err != nil {
			return nil, fmt.Errorf("cannot write %s: %w", path, err)
		}
		return &Result{Tracker: reciprocal, Path: path, SourceInfoHash: sourceHash}, nil
	}
	if lastErr != nil && !errors.Is(lastErr, trackerapi.ErrNotFound) {
		return nil, fmt.Errorf("cannot look up %s on %s: %w", sourceFile, reciprocal.ShortName, lastErr)
	}
	return nil, &TorrentNotFoundError{File: sourceFile, Tracker: reciprocal.ShortName}
}

// origin detects the tracker of m, falling back to the fastresume file next to sourceFile.
func (t *Transformer) origin(sourceFile string, m *metainfo.MetaInfo) (*tracker.Tracker, error) {
	if o := t.registry.DetectOrigin(m); o != nil {
		return o, nil
	}
	resumeFile := strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ResumeExtension
	rm, err := metainfo.LoadResume(resumeFile)
	if err == nil {
		if o := t.registry.DetectOrigin(rm); o != nil {
			return o, nil
		}
	} else if !os.IsNotExist(err) {
		t.log.Debugf("cannot read %s: %s", resumeFile, err)
	}
	return nil, &tracker.UnknownTrackerError{File: sourceFile}
}

// outputPath returns <outputDir>/<tracker>/<filePath> [<flag>].torrent.
// The bracketed suffix is omitted for the empty flag.
func outputPath(outputDir string, t *tracker.Tracker, resp *trackerapi.TorrentResponse, name, flag string) string {
	base := html.UnescapeString(resp.Torrent.FilePath)
	if base == "" {
		base = name
	}
	if base == "" {
		base = strconv.FormatInt(resp.Torrent.ID, 10)
	}
	base = stringutil.SafeFilename(base)
	if flag != "" {
		base += " [" + flag + "]"
	}
	return filepath.Join(outputDir, t.ShortName, base+index.Extension)
}
