package deluge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

const (
	password   = "deluge"
	sourceHash = "0123456789abcdef0123456789abcdef01234567"
)

type fakeTorrent struct {
	torrentStatus
	SeedMode bool
}

type fakeDeluge struct {
	*httptest.Server

	m         sync.Mutex
	session   string
	connected bool
	plugins   []string
	labels    []string
	torrents  map[string]*fakeTorrent
	logins    int
	badID     bool
	// rejectAll makes every call other than auth.login fail as unauthenticated.
	rejectAll bool
}

func newFakeDeluge(t *testing.T) *fakeDeluge {
	f := &fakeDeluge{
		connected: true,
		plugins:   []string{"Label"},
		torrents: map[string]*fakeTorrent{
			sourceHash: {torrentStatus: torrentStatus{Name: "Album", State: "Seeding", Progress: 100, SavePath: "/downloads", Label: "music"}},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDeluge) expire() {
	f.m.Lock()
	f.session = ""
	f.m.Unlock()
}

func (f *fakeDeluge) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/json" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     string            `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.m.Lock()
	defer f.m.Unlock()
	id := req.ID
	if f.badID {
		id = "other"
	}
	reply := func(result interface{}, rerr *rpcError) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "result": result, "error": rerr})
	}
	if req.Method == "auth.login" {
		var p string
		_ = json.Unmarshal(req.Params[0], &p)
		f.logins++
		if p != password {
			reply(false, nil)
			return
		}
		f.session = "s" + string(rune('0'+f.logins))
		http.SetCookie(w, &http.Cookie{Name: "_session_id", Value: f.session, Path: "/"})
		reply(true, nil)
		return
	}
	cookie, err := r.Cookie("_session_id")
	if err != nil || f.session == "" || cookie.Value != f.session || f.rejectAll {
		reply(nil, &rpcError{Message: "Not authenticated", Code: errNotAuthenticated})
		return
	}
	switch req.Method {
	case "web.connected":
		reply(f.connected, nil)
	case "core.get_enabled_plugins":
		reply(f.plugins, nil)
	case "web.update_ui":
		var filter map[string]string
		_ = json.Unmarshal(req.Params[1], &filter)
		torrents := map[string]torrentStatus{}
		if t, ok := f.torrents[filter["hash"]]; ok {
			torrents[filter["hash"]] = t.torrentStatus
		}
		reply(map[string]interface{}{"torrents": torrents, "connected": true}, nil)
	case "core.add_torrent_file":
		var data string
		var options struct {
			DownloadLocation string `json:"download_location"`
			SeedMode         bool   `json:"seed_mode"`
		}
		_ = json.Unmarshal(req.Params[1], &data)
		_ = json.Unmarshal(req.Params[2], &options)
		b, _ := base64.StdEncoding.DecodeString(data)
		m, err := metainfo.New(b)
		if err != nil {
			reply(nil, &rpcError{Message: err.Error(), Code: 4})
			return
		}
		h, _ := m.InfoHash()
		h = strings.ToLower(h)
		if _, ok := f.torrents[h]; ok {
			reply(nil, &rpcError{Message: "Torrent already in session", Code: 4})
			return
		}
		f.torrents[h] = &fakeTorrent{
			torrentStatus: torrentStatus{Name: m.Name(), State: "Seeding", Progress: 100, SavePath: options.DownloadLocation},
			SeedMode:      options.SeedMode,
		}
		reply(h, nil)
	case "label.get_labels":
		reply(f.labels, nil)
	case "label.add":
		var l string
		_ = json.Unmarshal(req.Params[0], &l)
		f.labels = append(f.labels, l)
		reply(nil, nil)
	case "label.set_torrent":
		var h, l string
		_ = json.Unmarshal(req.Params[0], &h)
		_ = json.Unmarshal(req.Params[1], &l)
		t, ok := f.torrents[h]
		if !ok {
			reply(nil, &rpcError{Message: "Unknown Torrent", Code: 4})
			return
		}
		t.Label = l
		reply(nil, nil)
	default:
		reply(nil, &rpcError{Message: "Unknown method", Code: 2})
	}
}

func newClient(t *testing.T, f *fakeDeluge, pw string) *Client {
	u := strings.Replace(f.URL, "http://", "http://:"+pw+"@", 1)
	c, err := New(Config{URL: u})
	require.NoError(t, err)
	return c
}

func writeTorrent(t *testing.T) string {
	b, err := bencode.EncodeBytes(map[string]interface{}{
		"announce": "https://b.host/pk/announce",
		"info":     map[string]interface{}{"name": "Album", "source": "B", "length": int64(1)},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "Album [B].torrent")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestSetup(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))
	assert.True(t, c.hasLabelPlugin())
	require.NoError(t, c.Setup(context.Background()))
}

func TestSetupBadPassword(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, "wrong")
	err := c.Setup(context.Background())
	var authErr *injector.TorrentClientAuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestSetupNotConnected(t *testing.T) {
	f := newFakeDeluge(t)
	f.connected = false
	c := newClient(t, f, password)
	err := c.Setup(context.Background())
	var ce *injector.TorrentClientError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "not connected")
}

func TestGetTorrentInfo(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))

	info, err := c.GetTorrentInfo(context.Background(), strings.ToUpper(sourceHash))
	require.NoError(t, err)
	assert.True(t, info.Complete)
	assert.Equal(t, "music", info.Label)
	assert.Equal(t, "/downloads", info.SavePath)
	assert.Equal(t, filepath.Join("/downloads", "Album"), info.ContentPath)

	f.torrents[sourceHash].State = "Downloading"
	f.torrents[sourceHash].Progress = 50
	f.torrents[sourceHash].TotalRemaining = 10
	info, err = c.GetTorrentInfo(context.Background(), sourceHash)
	require.NoError(t, err)
	assert.False(t, info.Complete)

	_, err = c.GetTorrentInfo(context.Background(), strings.Repeat("F", 40))
	assert.ErrorIs(t, err, injector.ErrTorrentNotFound)
}

func TestInjectTorrent(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))
	file := writeTorrent(t)

	h, err := c.InjectTorrent(context.Background(), sourceHash, file, "")
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(h), h)
	added := f.torrents[strings.ToLower(h)]
	require.NotNil(t, added)
	assert.True(t, added.SeedMode)
	assert.Equal(t, "/downloads", added.SavePath)
	assert.Equal(t, "music.fertilizer", added.Label)
	assert.Equal(t, []string{"music.fertilizer"}, f.labels)

	before := len(f.torrents)
	_, err = c.InjectTorrent(context.Background(), sourceHash, file, "")
	var exists *injector.TorrentExistsInClientError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, h, exists.InfoHash)
	assert.Len(t, f.torrents, before)
	assert.Equal(t, []string{"music.fertilizer"}, f.labels)
}

func TestInjectTorrentOverrideWithoutLabelPlugin(t *testing.T) {
	f := newFakeDeluge(t)
	f.plugins = nil
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))

	h, err := c.InjectTorrent(context.Background(), sourceHash, writeTorrent(t), "/links/B")
	require.NoError(t, err)
	added := f.torrents[strings.ToLower(h)]
	assert.Equal(t, "/links/B", added.SavePath)
	assert.Empty(t, added.Label)
	assert.Empty(t, f.labels)
}

func TestInjectTorrentIncompleteSource(t *testing.T) {
	f := newFakeDeluge(t)
	f.torrents[sourceHash].State = "Downloading"
	f.torrents[sourceHash].Progress = 10
	f.torrents[sourceHash].TotalRemaining = 100
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))

	_, err := c.InjectTorrent(context.Background(), sourceHash, writeTorrent(t), "")
	assert.ErrorContains(t, err, "not complete")
	assert.Len(t, f.torrents, 1)
}

func TestReauthenticate(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	require.NoError(t, c.Setup(context.Background()))
	assert.Equal(t, 1, f.logins)

	f.expire()
	_, err := c.GetTorrentInfo(context.Background(), sourceHash)
	require.NoError(t, err)
	assert.Equal(t, 2, f.logins)
}

func TestLoginWithoutSetup(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	_, err := c.GetTorrentInfo(context.Background(), sourceHash)
	require.NoError(t, err)
	assert.Equal(t, 1, f.logins)
}

func TestSessionRejectedAfterLogin(t *testing.T) {
	f := newFakeDeluge(t)
	f.rejectAll = true
	c := newClient(t, f, password)
	_, err := c.GetTorrentInfo(context.Background(), sourceHash)
	var authErr *injector.TorrentClientAuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "after login")
	assert.Equal(t, 2, f.logins)
}

func TestResponseIDMismatch(t *testing.T) {
	f := newFakeDeluge(t)
	f.badID = true
	c := newClient(t, f, password)
	err := c.Setup(context.Background())
	assert.ErrorContains(t, err, "does not match")
}

func TestTransportError(t *testing.T) {
	f := newFakeDeluge(t)
	c := newClient(t, f, password)
	f.Close()
	err := c.Setup(context.Background())
	var ce *injector.TorrentClientError
	assert.ErrorAs(t, err, &ce)
}
