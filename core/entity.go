package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultExpiry is how long inactive room content is retained when a room
// has no explicit expiry configured.
const DefaultExpiry = 30 * time.Minute

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrFileNotFound = errors.New("file not found")
)

type (
	// FileRecord describes one uploaded file as seen by clients. Filename is
	// the storage-internal name (time-prefixed, unique), OriginalName is what
	// the uploader called it, Timestamp is the upload time in epoch millis.
	FileRecord struct {
		Filename     string `json:"filename"`
		OriginalName string `json:"originalName"`
		Timestamp    int64  `json:"timestamp"`
		URL          string `json:"url"`
	}

	// SavedText is a text snippet kept with its own retention, independent
	// of the room expiry. Timestamp and Expiry are epoch millis / millis.
	SavedText struct {
		Text      string `json:"text"`
		Timestamp int64  `json:"timestamp"`
		Expiry    int64  `json:"expiry"`
	}

	// Room holds the live state of one sharing session. Users is keyed by
	// stable client id, not transport connection id, so reconnects do not
	// double-count presence.
	Room struct {
		Text           string
		LastTextUpdate time.Time
		Files          []FileRecord
		SavedTexts     []SavedText
		Expiry         time.Duration
		Users          map[string]struct{}
	}

	// RoomSnapshot is the wire form of a room, sent with the init event.
	// Expiry is in millis.
	RoomSnapshot struct {
		Text       string       `json:"text"`
		Files      []FileRecord `json:"files"`
		Expiry     int64        `json:"expiry"`
		SavedTexts []SavedText  `json:"savedTexts"`
		UserCount  int          `json:"userCount"`
	}

	// BlobStore is durable byte storage for uploaded files, addressed by
	// generated filename.
	BlobStore interface {
		Save(ctx context.Context, filename string, r io.Reader) error
		Open(ctx context.Context, filename string) (io.ReadCloser, error)
		Delete(ctx context.Context, filename string) error
	}

	// Broadcaster delivers an event to every client connected to a room.
	Broadcaster interface {
		ToRoom(roomID string, event string, args ...any)
	}
)

// Empty reports whether the room may be pruned from the registry: no
// connected user, no files, no text and no saved texts.
func (r *Room) Empty() bool {
	return len(r.Users) == 0 && len(r.Files) == 0 && r.Text == "" && len(r.SavedTexts) == 0
}
