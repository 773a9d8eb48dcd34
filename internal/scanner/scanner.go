// Package scanner runs the transformer over input torrents, optionally injects the results into a torrent client,
// and reports what happened to each file.
package scanner

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/fertilizer-io/fertilizer/internal/index"
	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
	"github.com/fertilizer-io/fertilizer/internal/transformer"
)

// Config of the Scanner.
type Config struct {
	// Workers is the number of files transformed at the same time. Values below 1 mean 1.
	Workers int
	// Registry receives per-bucket counters. A private registry is created when nil.
	Registry metrics.Registry
}

// Scanner scans torrent files and directories.
type Scanner struct {
	transformer *transformer.Transformer
	injector    *injector.Injector
	workers     int
	log         logger.Logger
	counters    [numBuckets]metrics.Counter
}

// New returns a Scanner. inj may be nil to only write torrent files.
func New(t *transformer.Transformer, inj *injector.Injector, cfg Config) *Scanner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}
	s := &Scanner{
		transformer: t,
		injector:    inj,
		workers:     cfg.Workers,
		log:         logger.New("scanner"),
	}
	for b := Bucket(0); b < numBuckets; b++ {
		s.counters[b] = metrics.GetOrRegisterCounter("scanner."+b.String(), cfg.Registry)
	}
	return s
}

// ScanFile transforms a single torrent file, injects the result when an injector is configured,
// and returns the path of the cross-seed torrent.
// Errors are returned as they are; nothing is classified.
func (s *Scanner) ScanFile(ctx context.Context, path, outputDir string) (string, error) {
	res, err := s.Scan(ctx, path, outputDir)
	if res == nil {
		return "", err
	}
	return res.Path, err
}

// Scan is like ScanFile but returns the whole transformer result.
// When only the injection fails, both the result and the error are returned.
func (s *Scanner) Scan(ctx context.Context, path, outputDir string) (*transformer.Result, error) {
	outputIndex, err := index.BuildRecursive(outputDir)
	if err != nil {
		return nil, err
	}
	res, err := s.transformer.Transform(ctx, path, outputDir, index.Index{}, outputIndex)
	if err != nil {
		return nil, err
	}
	if s.injector != nil {
		if _, err = s.injector.Inject(ctx, res.SourceInfoHash, res.Path, res.Tracker.ShortName); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ScanDir scans every torrent file directly inside inputDir and writes the results under outputDir.
// Per-file failures are recorded in the report. A non-nil error means the scan was stopped early;
// the report then covers only the files finished before that.
func (s *Scanner) ScanDir(ctx context.Context, inputDir, outputDir string) (*Report, error) {
	files, err := index.ListTorrents(inputDir)
	if err != nil {
		return nil, err
	}
	inputIndex, err := index.Build(inputDir)
	if err != nil {
		return nil, err
	}
	outputIndex, err := index.BuildRecursive(outputDir)
	if err != nil {
		return nil, err
	}
	s.log.Infof("scanning %d torrents in %s", len(files), inputDir)

	items := make([]*Item, len(files))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, file := range files {
		if ctx.Err() != nil {
			break
		}
		i, file := i, file
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			it := s.scan(ctx, file, outputDir, inputIndex, outputIndex)
			if it != nil {
				s.counters[it.Bucket].Inc(1)
				items[i] = it
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{}
	for _, it := range items {
		if it != nil {
			report.Add(*it)
		}
	}
	return report, ctx.Err()
}

// scan classifies the outcome for one file. It returns nil when ctx was cancelled during the attempt.
func (s *Scanner) scan(ctx context.Context, file, outputDir string, inputIndex, outputIndex index.Index) *Item {
	name := filepath.Base(file)
	res, err := s.transformer.Transform(ctx, file, outputDir, inputIndex, outputIndex)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		it := classify(file, err)
		s.log.Infof("%s: %s", it.Bucket, it.Message)
		return it
	}
	it := &Item{File: file, Bucket: Generated, Output: res.Path, Message: name + " -> " + res.Path}
	if res.PreviouslyGenerated {
		it.Bucket = AlreadyExists
		it.Message = "previously generated: " + res.Path
	}
	if s.injector != nil {
		if _, err = s.injector.Inject(ctx, res.SourceInfoHash, res.Path, res.Tracker.ShortName); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var exists *injector.TorrentExistsInClientError
			if errors.As(err, &exists) {
				it.Bucket = AlreadyExists
			} else {
				it.Bucket = Failed
			}
			it.Message = name + ": " + err.Error()
		}
	}
	s.log.Infof("%s: %s", it.Bucket, it.Message)
	return it
}

func classify(file string, err error) *Item {
	it := &Item{File: file, Message: filepath.Base(file) + ": " + err.Error()}
	var (
		unknown  *tracker.UnknownTrackerError
		notFound *transformer.TorrentNotFoundError
		exists   *transformer.TorrentAlreadyExistsError
	)
	switch {
	case errors.As(err, &unknown):
		it.Bucket = Skipped
	case errors.As(err, &notFound):
		it.Bucket = NotFound
	case errors.As(err, &exists):
		it.Bucket = AlreadyExists
		it.Output = exists.Existing
	default:
		it.Bucket = Failed
	}
	return it
}
