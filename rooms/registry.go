package rooms

import (
	"fmt"
	"sync"
	"time"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/sirupsen/logrus"
)

// keyPrefix namespaces caller-supplied room ids inside the registry map so
// they can never collide with internal keys.
const keyPrefix = "room:"

// Registry owns all in-memory room state. Go handlers run on multiple
// goroutines, so the serialization the design assumes is made explicit with
// a single mutex: every mutation runs to completion before the next begins.
type Registry struct {
	mu            sync.Mutex
	rooms         map[string]*core.Room
	defaultExpiry time.Duration
}

func NewRegistry(defaultExpiry time.Duration) *Registry {
	if defaultExpiry <= 0 {
		defaultExpiry = core.DefaultExpiry
	}
	return &Registry{
		rooms:         make(map[string]*core.Room),
		defaultExpiry: defaultExpiry,
	}
}

// getOrCreate returns the room for roomID, creating it with defaults if it
// is unseen. Caller must hold r.mu.
func (r *Registry) getOrCreate(roomID string) *core.Room {
	key := keyPrefix + roomID
	room, ok := r.rooms[key]
	if !ok {
		room = &core.Room{
			Expiry: r.defaultExpiry,
			Users:  make(map[string]struct{}),
		}
		r.rooms[key] = room
		logrus.WithField("room_id", roomID).Debug("room created")
	}
	return room
}

// get looks a room up without creating it. Caller must hold r.mu.
func (r *Registry) get(roomID string) (*core.Room, bool) {
	room, ok := r.rooms[keyPrefix+roomID]
	return room, ok
}

// pruneLocked removes the room when the emptiness invariant holds. Caller
// must hold r.mu. Reports whether the room was deleted.
func (r *Registry) pruneLocked(roomID string, room *core.Room) bool {
	if !room.Empty() {
		return false
	}
	delete(r.rooms, keyPrefix+roomID)
	logrus.WithField("room_id", roomID).Debug("empty room pruned")
	return true
}

// Join adds clientID to the room's presence set, creating the room if
// needed, and returns the snapshot for the init event together with the new
// member count.
func (r *Registry) Join(roomID, clientID string) (core.RoomSnapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.getOrCreate(roomID)
	room.Users[clientID] = struct{}{}
	return snapshotOf(room), len(room.Users)
}

// Leave removes clientID from the room and prunes the room if it became
// empty. It returns the remaining member count and whether the room was
// deleted. Leaving an unknown room is a no-op.
func (r *Registry) Leave(roomID, clientID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return 0, false
	}
	delete(room.Users, clientID)
	count := len(room.Users)
	return count, r.pruneLocked(roomID, room)
}

// SetText replaces the shared text. Last write wins; an empty write can
// prune an otherwise empty room.
func (r *Registry) SetText(roomID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.getOrCreate(roomID)
	room.Text = text
	room.LastTextUpdate = time.Now()
	r.pruneLocked(roomID, room)
}

func (r *Registry) ClearText(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	room.Text = ""
	room.LastTextUpdate = time.Time{}
	r.pruneLocked(roomID, room)
	return nil
}

// AddFile appends the record to the room's file list, creating the room if
// needed. Records with a filename already present are rejected.
func (r *Registry) AddFile(roomID string, rec core.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.getOrCreate(roomID)
	for _, existing := range room.Files {
		if existing.Filename == rec.Filename {
			return fmt.Errorf("file %s already exists in room %s", rec.Filename, roomID)
		}
	}
	room.Files = append(room.Files, rec)
	return nil
}

// RemoveFile removes the record for filename and returns it so the caller
// can delete the backing blob.
func (r *Registry) RemoveFile(roomID, filename string) (core.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return core.FileRecord{}, core.ErrRoomNotFound
	}
	for i, rec := range room.Files {
		if rec.Filename == filename {
			room.Files = append(room.Files[:i], room.Files[i+1:]...)
			r.pruneLocked(roomID, room)
			return rec, nil
		}
	}
	return core.FileRecord{}, core.ErrFileNotFound
}

// RemoveAllFiles clears the room's file list and returns the removed
// records so the caller can delete the backing blobs.
func (r *Registry) RemoveAllFiles(roomID string) ([]core.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	removed := room.Files
	room.Files = nil
	r.pruneLocked(roomID, room)
	return removed, nil
}

func (r *Registry) AddSavedText(roomID string, st core.SavedText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.getOrCreate(roomID)
	room.SavedTexts = append(room.SavedTexts, st)
}

func (r *Registry) RemoveSavedText(roomID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	if index < 0 || index >= len(room.SavedTexts) {
		return fmt.Errorf("saved text index %d out of range", index)
	}
	room.SavedTexts = append(room.SavedTexts[:index], room.SavedTexts[index+1:]...)
	r.pruneLocked(roomID, room)
	return nil
}

// SetExpiry changes how long inactive content in the room is retained.
func (r *Registry) SetExpiry(roomID string, expiry time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	if expiry <= 0 {
		expiry = r.defaultExpiry
	}
	room.Expiry = expiry
	return nil
}

func (r *Registry) Snapshot(roomID string) (core.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return core.RoomSnapshot{}, core.ErrRoomNotFound
	}
	return snapshotOf(room), nil
}

func (r *Registry) UserCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.get(roomID)
	if !ok {
		return 0
	}
	return len(room.Users)
}

// Has reports whether the room currently exists in the registry.
func (r *Registry) Has(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.get(roomID)
	return ok
}

// RoomIDs returns the ids of all registered rooms.
func (r *Registry) RoomIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		ids = append(ids, key[len(keyPrefix):])
	}
	return ids
}

// snapshotOf copies the room into its wire form. Slices are copied so the
// snapshot stays stable once the registry lock is released.
func snapshotOf(room *core.Room) core.RoomSnapshot {
	files := make([]core.FileRecord, len(room.Files))
	copy(files, room.Files)
	savedTexts := make([]core.SavedText, len(room.SavedTexts))
	copy(savedTexts, room.SavedTexts)

	return core.RoomSnapshot{
		Text:       room.Text,
		Files:      files,
		Expiry:     room.Expiry.Milliseconds(),
		SavedTexts: savedTexts,
		UserCount:  len(room.Users),
	}
}
