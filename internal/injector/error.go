package injector

import (
	"errors"
	"fmt"
)

// ErrTorrentNotFound is wrapped by GetTorrentInfo errors when the client does not have the torrent.
var ErrTorrentNotFound = errors.New("torrent not found in client")

// TorrentClientError is a transport or protocol failure while talking to the torrent client.
type TorrentClientError struct {
	Msg string
	Err error
}

func (e *TorrentClientError) Error() string {
	if e.Err == nil {
		return "torrent client error: " + e.Msg
	}
	return fmt.Sprintf("torrent client error: %s: %s", e.Msg, e.Err)
}

// Unwrap returns the underlying error.
func (e *TorrentClientError) Unwrap() error {
	return e.Err
}

// TorrentClientAuthenticationError is returned when the client rejects the credentials.
type TorrentClientAuthenticationError struct {
	Msg string
}

func (e *TorrentClientAuthenticationError) Error() string {
	return "torrent client authentication failed: " + e.Msg
}

// TorrentExistsInClientError is returned when the torrent being injected is already in the client.
type TorrentExistsInClientError struct {
	InfoHash string
	File     string
}

func (e *TorrentExistsInClientError) Error() string {
	return fmt.Sprintf("torrent %s already exists in client (%s)", e.InfoHash, e.File)
}

// NotFound returns the error adapters use when infoHash is not in the client.
func NotFound(infoHash string) error {
	return &TorrentClientError{Msg: infoHash, Err: ErrTorrentNotFound}
}
