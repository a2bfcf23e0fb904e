package files

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/abdullahwebtech/air-exchange/rooms"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// uploads larger than this are buffered to disk by the multipart reader
const maxMultipartMemory = 32 << 20

type (
	UploadResponse struct {
		Success bool            `json:"success"`
		File    core.FileRecord `json:"file"`
	}

	DeleteResponse struct {
		Success bool `json:"success"`
	}

	RoomInfo struct {
		ID    string `json:"id"`
		Users int    `json:"users"`
	}
)

// newFilename builds the storage-internal name for an upload: a ULID, which
// is time-prefixed and unique, plus the original extension so downloads keep
// a recognizable type.
func newFilename(originalName string) string {
	return ulid.Make().String() + filepath.Ext(originalName)
}

// HandleUpload stores the multipart "file" field and registers it with the
// room named by the x-room-id header. The blob write completes before the
// registry mutation, and the registry mutation before the broadcast, so a
// file is never announced before its bytes are durable.
func HandleUpload(registry *rooms.Registry, blobs core.BlobStore, broadcast core.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.Header.Get("x-room-id")
		if roomID == "" {
			http.Error(w, "room id is required", http.StatusBadRequest)
			return
		}

		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			logrus.WithField("error", err).Error("Failed to parse multipart form")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		filename := newFilename(header.Filename)
		log := logrus.WithFields(logrus.Fields{
			"room_id":       roomID,
			"filename":      filename,
			"original_name": header.Filename,
		})

		if err := blobs.Save(r.Context(), filename, file); err != nil {
			log.WithError(err).Error("Failed to store uploaded file")
			http.Error(w, "Failed to store file", http.StatusInternalServerError)
			return
		}

		rec := core.FileRecord{
			Filename:     filename,
			OriginalName: header.Filename,
			Timestamp:    time.Now().UnixMilli(),
			URL:          "/uploads/" + filename,
		}
		if err := registry.AddFile(roomID, rec); err != nil {
			log.WithError(err).Error("Failed to register uploaded file")
			http.Error(w, "Failed to store file", http.StatusInternalServerError)
			return
		}

		broadcast.ToRoom(roomID, "newFile", rec)
		broadcast.ToRoom(roomID, "notification", fmt.Sprintf("%s was uploaded", header.Filename))

		log.Info("File uploaded successfully")
		render.JSON(w, r, UploadResponse{Success: true, File: rec})
	}
}

// HandleDownload streams a stored blob as an attachment. It does not consult
// the room registry, so a direct link keeps working regardless of room state.
func HandleDownload(blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		blob, err := blobs.Open(r.Context(), filename)
		if err != nil {
			if errors.Is(err, core.ErrFileNotFound) {
				http.Error(w, "File not found", http.StatusNotFound)
				return
			}
			logrus.WithField("error", err).Error("Failed to open blob")
			http.Error(w, "Failed to read file", http.StatusInternalServerError)
			return
		}
		defer blob.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, blob); err != nil {
			logrus.WithField("error", err).Warn("Failed to stream blob to client")
		}
	}
}

// HandleServeBlob streams a stored blob inline, backing the URL field of
// file records.
func HandleServeBlob(blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		blob, err := blobs.Open(r.Context(), filename)
		if err != nil {
			if errors.Is(err, core.ErrFileNotFound) {
				http.Error(w, "File not found", http.StatusNotFound)
				return
			}
			logrus.WithField("error", err).Error("Failed to open blob")
			http.Error(w, "Failed to read file", http.StatusInternalServerError)
			return
		}
		defer blob.Close()

		if _, err := io.Copy(w, blob); err != nil {
			logrus.WithField("error", err).Warn("Failed to stream blob to client")
		}
	}
}

// HandleDeleteFile removes one file record and its blob from the room named
// by the x-room-id header. The record is removed first; a failed blob unlink
// is logged and leaves an orphan on disk rather than a dangling record.
func HandleDeleteFile(registry *rooms.Registry, blobs core.BlobStore, broadcast core.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.Header.Get("x-room-id")
		if roomID == "" {
			http.Error(w, "room id is required", http.StatusBadRequest)
			return
		}
		filename := chi.URLParam(r, "filename")

		rec, err := registry.RemoveFile(roomID, filename)
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}

		if err := blobs.Delete(r.Context(), rec.Filename); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id":  roomID,
				"filename": rec.Filename,
			}).WithError(err).Warn("Failed to delete blob for removed file record")
		}

		broadcast.ToRoom(roomID, "fileDeleted", rec.Filename)
		broadcast.ToRoom(roomID, "notification", fmt.Sprintf("%s was deleted", rec.OriginalName))

		render.JSON(w, r, DeleteResponse{Success: true})
	}
}

// HandleDeleteAll removes every file record and blob from the room named by
// the x-room-id header.
func HandleDeleteAll(registry *rooms.Registry, blobs core.BlobStore, broadcast core.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.Header.Get("x-room-id")
		if roomID == "" {
			http.Error(w, "room id is required", http.StatusBadRequest)
			return
		}

		removed, err := registry.RemoveAllFiles(roomID)
		if err != nil {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}

		for _, rec := range removed {
			if err := blobs.Delete(r.Context(), rec.Filename); err != nil {
				logrus.WithFields(logrus.Fields{
					"room_id":  roomID,
					"filename": rec.Filename,
				}).WithError(err).Warn("Failed to delete blob for removed file record")
			}
		}

		broadcast.ToRoom(roomID, "allFilesDeleted")
		broadcast.ToRoom(roomID, "notification", "All files were deleted")

		render.JSON(w, r, DeleteResponse{Success: true})
	}
}

// HandleListRooms reports the registered rooms and their member counts,
// busiest first.
func HandleListRooms(registry *rooms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := registry.RoomIDs()
		roomList := make([]RoomInfo, 0, len(ids))
		for _, id := range ids {
			roomList = append(roomList, RoomInfo{ID: id, Users: registry.UserCount(id)})
		}

		sort.Slice(roomList, func(i, j int) bool {
			if roomList[i].Users == roomList[j].Users {
				return roomList[i].ID < roomList[j].ID
			}
			return roomList[i].Users > roomList[j].Users
		})

		render.JSON(w, r, roomList)
	}
}
