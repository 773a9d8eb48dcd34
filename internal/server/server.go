// Package server exposes single-torrent scans over HTTP for torrent client webhooks.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/jpillora/requestlog"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/rcrowley/go-metrics"

	"github.com/fertilizer-io/fertilizer/internal/index"
	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
	"github.com/fertilizer-io/fertilizer/internal/transformer"
)

// Scanner scans one torrent file.
type Scanner interface {
	Scan(ctx context.Context, path, outputDir string) (*transformer.Result, error)
}

// Config of the Server.
type Config struct {
	// InputDir is searched for <infohash>.torrent.
	InputDir  string
	OutputDir string
	// Registry is served at /api/metrics. A private registry is created when nil.
	Registry metrics.Registry
}

// Server serves the webhook and JSON-RPC endpoints.
type Server struct {
	scanner    Scanner
	config     Config
	httpServer http.Server
	listener   net.Listener
	log        logger.Logger

	// ctx is cancelled when the server stops so running scans are aborted.
	ctx    context.Context
	cancel context.CancelFunc

	requests metrics.Counter
}

// New returns a Server. Call Start to listen.
func New(s Scanner, cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		scanner:  s,
		config:   cfg,
		log:      logger.New("server"),
		ctx:      ctx,
		cancel:   cancel,
		requests: metrics.GetOrRegisterCounter("server.scans", cfg.Registry),
	}
	srv.httpServer.Handler = srv.Handler()
	return srv
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	rpcServer := rpc.NewServer()
	_ = rpcServer.RegisterName("Fertilizer", &rpcHandler{server: s})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return requestlog.WrapWith(next, requestlog.Options{
			Writer:     logWriter{s.log},
			Format:     `{{ .Method }} {{ .Path }} {{ .Code }} {{ .Duration }}{{ if .IP }} ({{ .IP }}){{end}}`,
			TimeFormat: time.RFC3339,
		})
	})
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)
	r.Post("/api/webhook", s.handleWebhook)
	r.Handle("/rpc", jsonrpc2.HTTPHandler(rpcServer))
	return r
}

// Start listens on host:port and serves in a new goroutine.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Infoln("Server is listening on", listener.Addr().String())

	go func() {
		err := s.httpServer.Serve(listener)
		if err == http.ErrServerClosed {
			return
		}
		s.log.Error(err)
	}()
	return nil
}

// Addr returns the listening address after Start.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop aborts running scans and shuts down the HTTP server.
func (s *Server) Stop(timeout time.Duration) error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// ErrBadInfoHash is returned for infohashes that are not 40 hex characters.
var ErrBadInfoHash = errors.New("infohash must be 40 hex characters")

// errTorrentFileNotFound is returned when the input directory has no file for the infohash.
var errTorrentFileNotFound = errors.New("torrent file not found in input directory")

// torrentFile finds <infohash>.torrent in the input directory, in the case it was given or in either case.
func (s *Server) torrentFile(infoHash string) (string, error) {
	infoHash = strings.TrimSpace(infoHash)
	if b, err := hex.DecodeString(infoHash); err != nil || len(b) != 20 {
		return "", ErrBadInfoHash
	}
	for _, name := range []string{infoHash, strings.ToUpper(infoHash), strings.ToLower(infoHash)} {
		path := filepath.Join(s.config.InputDir, name+index.Extension)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errTorrentFileNotFound
}

func (s *Server) scan(ctx context.Context, infoHash string) (*transformer.Result, error) {
	s.requests.Inc(1)
	path, err := s.torrentFile(infoHash)
	if err != nil {
		return nil, err
	}
	res, err := s.scanner.Scan(ctx, path, s.config.OutputDir)
	if err != nil {
		s.log.Warningf("scan of %s failed: %s", path, err)
		return res, err
	}
	s.log.Infof("scanned %s: %s", path, res.Path)
	return res, nil
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	metrics.WriteJSONOnce(s.config.Registry, w)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	infoHash := r.FormValue("infohash")
	if infoHash == "" {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Message: "missing infohash"})
		return
	}
	ctx, cancel := mergeContext(r.Context(), s.ctx)
	defer cancel()
	res, err := s.scan(ctx, infoHash)
	if err != nil {
		writeJSON(w, statusCode(err), response{Status: "error", Message: err.Error()})
		return
	}
	code := http.StatusCreated
	if res.PreviouslyGenerated {
		code = http.StatusOK
	}
	writeJSON(w, code, response{Status: "success", Message: res.Path})
}

// statusCode maps a scan error to the webhook response code.
func statusCode(err error) int {
	var (
		exists         *transformer.TorrentAlreadyExistsError
		existsInClient *injector.TorrentExistsInClientError
		notFound       *transformer.TorrentNotFoundError
		unknown        *tracker.UnknownTrackerError
		decode         *metainfo.DecodeError
	)
	switch {
	case errors.As(err, &exists), errors.As(err, &existsInClient):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.Is(err, errTorrentFileNotFound):
		return http.StatusNotFound
	case errors.As(err, &unknown), errors.As(err, &decode), errors.Is(err, ErrBadInfoHash):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// mergeContext returns a context that is done when either parent is done.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// logWriter sends request log lines to the server logger.
type logWriter struct {
	log logger.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
