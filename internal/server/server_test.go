package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
	"github.com/fertilizer-io/fertilizer/internal/transformer"
)

const (
	generatedHash = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	previousHash  = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	notFoundHash  = "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
	existsHash    = "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD"
	inClientHash  = "EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE"
	unknownHash   = "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"
	brokenHash    = "1111111111111111111111111111111111111111"
	failingHash   = "2222222222222222222222222222222222222222"
	missingHash   = "3333333333333333333333333333333333333333"
)

type fakeScanner struct {
	m     sync.Mutex
	calls []string
}

func (f *fakeScanner) Scan(ctx context.Context, path, outputDir string) (*transformer.Result, error) {
	f.m.Lock()
	f.calls = append(f.calls, filepath.Base(path))
	f.m.Unlock()
	out := filepath.Join(outputDir, "B", "foo [B].torrent")
	switch strings.TrimSuffix(filepath.Base(path), ".torrent") {
	case generatedHash:
		return &transformer.Result{Tracker: &tracker.Tracker{ShortName: "B"}, Path: out}, nil
	case previousHash:
		return &transformer.Result{Tracker: &tracker.Tracker{ShortName: "B"}, Path: out, PreviouslyGenerated: true}, nil
	case notFoundHash:
		return nil, &transformer.TorrentNotFoundError{File: path, Tracker: "B"}
	case existsHash:
		return nil, &transformer.TorrentAlreadyExistsError{File: path, Existing: out}
	case inClientHash:
		return &transformer.Result{Path: out}, &injector.TorrentExistsInClientError{InfoHash: generatedHash, File: out}
	case unknownHash:
		return nil, &tracker.UnknownTrackerError{File: path}
	case brokenHash:
		return nil, &metainfo.DecodeError{File: path, Err: errors.New("bad")}
	default:
		return nil, errors.New("tracker unreachable")
	}
}

func newTestServer(t *testing.T) (*Server, *fakeScanner) {
	in := t.TempDir()
	for _, h := range []string{generatedHash, previousHash, notFoundHash, existsHash, inClientHash, unknownHash, brokenHash, failingHash} {
		require.NoError(t, os.WriteFile(filepath.Join(in, h+".torrent"), nil, 0o600))
	}
	f := &fakeScanner{}
	return New(f, Config{InputDir: in, OutputDir: "/out"}), f
}

func TestWebhook(t *testing.T) {
	srv, f := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cases := []struct {
		infoHash string
		code     int
	}{
		{generatedHash, http.StatusCreated},
		{strings.ToLower(generatedHash), http.StatusCreated},
		{previousHash, http.StatusOK},
		{notFoundHash, http.StatusNotFound},
		{existsHash, http.StatusConflict},
		{inClientHash, http.StatusConflict},
		{unknownHash, http.StatusBadRequest},
		{brokenHash, http.StatusBadRequest},
		{failingHash, http.StatusInternalServerError},
		{missingHash, http.StatusNotFound},
		{"../etc/passwd", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, c := range cases {
		resp, err := http.PostForm(ts.URL+"/api/webhook", url.Values{"infohash": {c.infoHash}})
		require.NoError(t, err)
		var body response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, c.code, resp.StatusCode, c.infoHash)
		if c.code < 300 {
			assert.Equal(t, "success", body.Status)
			assert.Equal(t, filepath.Join("/out", "B", "foo [B].torrent"), body.Message)
		} else {
			assert.Equal(t, "error", body.Status)
			assert.NotEmpty(t, body.Message)
		}
	}
	assert.NotContains(t, f.calls, missingHash+".torrent")
}

func TestWebhookMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/webhook?infohash=" + generatedHash)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.PostForm(ts.URL+"/api/webhook", url.Values{"infohash": {generatedHash}})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var m map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.EqualValues(t, 1, m["server.scans"]["count"])
}

func TestScanOneRPC(t *testing.T) {
	defer leaktest.Check(t)()
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Start("127.0.0.1", 0))
	defer srv.Stop(time.Second)

	clt := jsonrpc2.NewHTTPClient("http://" + srv.Addr() + "/rpc")
	defer clt.Close()

	var reply ScanOneResponse
	require.NoError(t, clt.Call("Fertilizer.ScanOne", ScanOneRequest{InfoHash: previousHash}, &reply))
	assert.Equal(t, "B", reply.Tracker)
	assert.True(t, reply.PreviouslyGenerated)
	assert.Equal(t, filepath.Join("/out", "B", "foo [B].torrent"), reply.Path)

	cases := map[string]int{
		notFoundHash: CodeNotFound,
		missingHash:  CodeNotFound,
		existsHash:   CodeAlreadyExists,
		unknownHash:  CodeBadRequest,
		"xyz":        CodeBadRequest,
	}
	for h, code := range cases {
		err := clt.Call("Fertilizer.ScanOne", ScanOneRequest{InfoHash: h}, &reply)
		require.Error(t, err, h)
		assert.Equal(t, code, jsonrpc2.ServerError(err).Code, h)
	}
	err := clt.Call("Fertilizer.ScanOne", ScanOneRequest{InfoHash: failingHash}, &reply)
	assert.ErrorContains(t, err, "tracker unreachable")
}
