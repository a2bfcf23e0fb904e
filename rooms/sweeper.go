package rooms

import (
	"context"
	"time"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically evicts expired files, saved texts and text, and
// prunes rooms that became empty. Files and text age against the room
// expiry, saved texts against their own.
type Sweeper struct {
	registry  *Registry
	blobs     core.BlobStore
	broadcast core.Broadcaster
	interval  time.Duration

	now func() time.Time
}

func NewSweeper(registry *Registry, blobs core.BlobStore, broadcast core.Broadcaster, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		registry:  registry,
		blobs:     blobs,
		broadcast: broadcast,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. The loop body is
// sequential, so at most one sweep is ever in flight.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.WithField("interval", s.interval).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// sweepResult records what one sweep pass did to a room, so blob deletion
// and event fan-out can happen after the registry lock is released.
type sweepResult struct {
	roomID       string
	evicted      []core.FileRecord
	evictedTexts int
	clearedText  bool
	deleted      bool
	snapshot     core.RoomSnapshot
}

func (r *sweepResult) changed() bool {
	return r.deleted || len(r.evicted) > 0 || r.evictedTexts > 0 || r.clearedText
}

// Sweep runs a single pass over all rooms. Each room is fully processed
// under the registry lock before the next one is examined, so a sweep never
// observes a room mid-mutation.
func (s *Sweeper) Sweep() {
	now := s.now()

	s.registry.mu.Lock()
	results := make([]sweepResult, 0)
	for key, room := range s.registry.rooms {
		roomID := key[len(keyPrefix):]
		res := sweepRoom(room, roomID, now, s.registry.defaultExpiry)
		if res.deleted {
			delete(s.registry.rooms, key)
		}
		if res.changed() {
			results = append(results, res)
		}
	}
	s.registry.mu.Unlock()

	for _, res := range results {
		log := logrus.WithField("room_id", res.roomID)
		for _, rec := range res.evicted {
			if err := s.blobs.Delete(context.Background(), rec.Filename); err != nil {
				log.WithError(err).WithField("filename", rec.Filename).Warn("failed to delete expired blob")
			}
		}
		if res.clearedText {
			s.broadcast.ToRoom(res.roomID, "clearText")
		}
		if res.deleted {
			log.Debug("expired room deleted")
			continue
		}
		s.broadcast.ToRoom(res.roomID, "init", res.snapshot)
	}
}

// sweepRoom applies the expiry rules to one room in place and reports what
// changed. Caller must hold the registry lock.
func sweepRoom(room *core.Room, roomID string, now time.Time, defaultExpiry time.Duration) sweepResult {
	res := sweepResult{roomID: roomID}

	expiry := room.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	kept := room.Files[:0]
	for _, rec := range room.Files {
		age := now.Sub(time.UnixMilli(rec.Timestamp))
		if age > expiry {
			res.evicted = append(res.evicted, rec)
			continue
		}
		kept = append(kept, rec)
	}
	room.Files = kept

	keptTexts := room.SavedTexts[:0]
	for _, st := range room.SavedTexts {
		retention := time.Duration(st.Expiry) * time.Millisecond
		if retention <= 0 {
			retention = expiry
		}
		if now.Sub(time.UnixMilli(st.Timestamp)) > retention {
			res.evictedTexts++
			continue
		}
		keptTexts = append(keptTexts, st)
	}
	room.SavedTexts = keptTexts

	if room.Text != "" && !room.LastTextUpdate.IsZero() && now.Sub(room.LastTextUpdate) > expiry {
		room.Text = ""
		room.LastTextUpdate = time.Time{}
		res.clearedText = true
	}

	if room.Empty() {
		res.deleted = true
		return res
	}
	res.snapshot = snapshotOf(room)
	return res
}
