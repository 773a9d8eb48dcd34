// Package trackerapitest provides an in-process fake of the tracker ajax.php API.
package trackerapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Torrent is a release known to the fake tracker.
type Torrent struct {
	ID       int64
	FilePath string
}

// Server is a fake tracker API. Unknown hashes answer "bad hash parameter".
type Server struct {
	*httptest.Server

	authorization string
	passkey       string

	m        sync.Mutex
	torrents map[string]Torrent
	failures map[string]string
	calls    []string
}

// NewServer starts a fake tracker that accepts requests carrying the authorization header value.
func NewServer(authorization, passkey string) *Server {
	s := &Server{
		authorization: authorization,
		passkey:       passkey,
		torrents:      make(map[string]Torrent),
		failures:      make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddTorrent registers a release under the infohash.
func (s *Server) AddTorrent(infoHash string, t Torrent) {
	s.m.Lock()
	s.torrents[strings.ToUpper(infoHash)] = t
	s.m.Unlock()
}

// FailHash makes lookups of infoHash answer with a failure message.
func (s *Server) FailHash(infoHash, message string) {
	s.m.Lock()
	s.failures[strings.ToUpper(infoHash)] = message
	s.m.Unlock()
}

// Calls returns the received actions in order, as "index" or "torrent:<HASH>".
func (s *Server) Calls() []string {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ajax.php" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	action := q.Get("action")
	hash := q.Get("hash")

	s.m.Lock()
	defer s.m.Unlock()
	if action == "torrent" {
		s.calls = append(s.calls, "torrent:"+hash)
	} else {
		s.calls = append(s.calls, action)
	}

	if r.Header.Get("Authorization") != s.authorization {
		writeJSON(w, map[string]interface{}{"status": "failure", "error": "bad credentials"})
		return
	}
	switch action {
	case "index":
		writeJSON(w, map[string]interface{}{
			"status": "success",
			"response": map[string]interface{}{
				"username": "user",
				"id":       1,
				"passkey":  s.passkey,
			},
		})
	case "torrent":
		if msg, ok := s.failures[hash]; ok {
			writeJSON(w, map[string]interface{}{"status": "failure", "error": msg})
			return
		}
		t, ok := s.torrents[hash]
		if !ok {
			writeJSON(w, map[string]interface{}{"status": "failure", "error": "bad hash parameter"})
			return
		}
		writeJSON(w, map[string]interface{}{
			"status": "success",
			"response": map[string]interface{}{
				"group":   map[string]interface{}{"id": 1, "name": "Album"},
				"torrent": map[string]interface{}{"id": t.ID, "infoHash": hash, "filePath": t.FilePath},
			},
		})
	default:
		writeJSON(w, map[string]interface{}{"status": "failure", "error": "bad parameters"})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
