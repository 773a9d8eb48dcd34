package transformer

import "fmt"

// TorrentNotFoundError is returned when the reciprocal tracker has no release for any candidate source flag.
type TorrentNotFoundError struct {
	File    string
	Tracker string
}

func (e *TorrentNotFoundError) Error() string {
	return fmt.Sprintf("torrent %q not found on %s", e.File, e.Tracker)
}

// TorrentAlreadyExistsError is returned when the cross-seed torrent is already among the inputs or already written.
type TorrentAlreadyExistsError struct {
	File     string
	Existing string
}

func (e *TorrentAlreadyExistsError) Error() string {
	return fmt.Sprintf("torrent %q already exists: %s", e.File, e.Existing)
}
