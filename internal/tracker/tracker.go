// Package tracker describes the reciprocal pair of private trackers and detects which one a torrent came from.
package tracker

import (
	"fmt"
	"strconv"
	"strings"
)

// Tracker is an immutable description of a private tracker.
type Tracker struct {
	// ShortName identifies the tracker. It is also the name of the output subdirectory.
	ShortName string
	// SiteURL is the base URL of the web site and its ajax.php API.
	SiteURL string
	// AnnounceHost is matched as a substring against announce URLs.
	AnnounceHost string
	// DetectFlags are the info.source values that identify a torrent from this tracker.
	DetectFlags []string
	// CreateFlags are the info.source values tried, in order, when looking up a release on this tracker.
	// The empty flag covers releases uploaded without a source tag.
	CreateFlags []string
	// AuthPrefix is prepended to the API key in the Authorization header.
	AuthPrefix string

	reciprocal string
}

// String returns the short name.
func (t *Tracker) String() string {
	return t.ShortName
}

// MatchesSource reports whether flag is one of the tracker's detection flags.
func (t *Tracker) MatchesSource(flag string) bool {
	for _, f := range t.DetectFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// MatchesAnnounce reports whether the announce URL u belongs to this tracker.
func (t *Tracker) MatchesAnnounce(u string) bool {
	return t.AnnounceHost != "" && strings.Contains(u, t.AnnounceHost)
}

// AnnounceURL builds the per-user announce URL from a passkey.
func (t *Tracker) AnnounceURL(passkey string) string {
	return fmt.Sprintf("https://%s/%s/announce", t.AnnounceHost, passkey)
}

// TorrentURL returns the permalink of a torrent on the site.
func (t *Tracker) TorrentURL(id int64) string {
	return strings.TrimSuffix(t.SiteURL, "/") + "/torrents.php?torrentid=" + strconv.FormatInt(id, 10)
}

// AuthorizationHeader returns the value of the Authorization header for the API key.
func (t *Tracker) AuthorizationHeader(key string) string {
	return t.AuthPrefix + key
}

// UnknownTrackerError is returned when neither the torrent nor its fastresume identify the origin tracker.
type UnknownTrackerError struct {
	File string
}

func (e *UnknownTrackerError) Error() string {
	return fmt.Sprintf("torrent not from a supported tracker: %q", e.File)
}
