package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/abdullahwebtech/air-exchange/rooms"

	"github.com/go-chi/chi/v5"
)

// Mock blob store for testing
type mockBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	saveErr error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: make(map[string][]byte)}
}

func (m *mockBlobStore) Save(ctx context.Context, filename string, r io.Reader) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[filename] = data
	m.mu.Unlock()
	return nil
}

func (m *mockBlobStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.blobs[filename]
	m.mu.Unlock()
	if !ok {
		return nil, core.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockBlobStore) Delete(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[filename]; !ok {
		return core.ErrFileNotFound
	}
	delete(m.blobs, filename)
	return nil
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (m *mockBroadcaster) ToRoom(roomID string, event string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, roomID+"/"+event)
}

func (m *mockBroadcaster) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.events...)
}

func multipartBody(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHandleUpload_Success(t *testing.T) {
	registry := rooms.NewRegistry(0)
	blobs := newMockBlobStore()
	broadcast := &mockBroadcaster{}
	handler := HandleUpload(registry, blobs, broadcast)

	content := []byte("hello upload")
	body, contentType := multipartBody(t, "file", "notes.txt", content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success flag to be set")
	}
	if resp.File.OriginalName != "notes.txt" {
		t.Errorf("Expected original name notes.txt, got %q", resp.File.OriginalName)
	}
	if resp.File.URL != "/uploads/"+resp.File.Filename {
		t.Errorf("Expected URL to point at the stored filename, got %q", resp.File.URL)
	}

	// Blob must hold the uploaded bytes.
	blob, err := blobs.Open(context.Background(), resp.File.Filename)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	stored, _ := io.ReadAll(blob)
	blob.Close()
	if !bytes.Equal(stored, content) {
		t.Errorf("Stored blob mismatch: got %q, want %q", stored, content)
	}

	// Record must be registered with the room.
	snapshot, err := registry.Snapshot("abc")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snapshot.Files) != 1 {
		t.Fatalf("Expected 1 file record, got %d", len(snapshot.Files))
	}

	events := broadcast.recorded()
	if len(events) != 2 || events[0] != "abc/newFile" || events[1] != "abc/notification" {
		t.Errorf("Expected newFile then notification, got %v", events)
	}
}

func TestHandleUpload_MissingRoomID(t *testing.T) {
	handler := HandleUpload(rooms.NewRegistry(0), newMockBlobStore(), &mockBroadcaster{})

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	handler := HandleUpload(rooms.NewRegistry(0), newMockBlobStore(), &mockBroadcaster{})

	body, contentType := multipartBody(t, "wrongfield", "notes.txt", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestHandleUpload_StorageFailure(t *testing.T) {
	registry := rooms.NewRegistry(0)
	blobs := newMockBlobStore()
	blobs.saveErr = errors.New("disk full")
	broadcast := &mockBroadcaster{}
	handler := HandleUpload(registry, blobs, broadcast)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	// No partial registry mutation on storage failure.
	if registry.Has("abc") {
		t.Error("Registry must not be mutated when the blob write fails")
	}
	if len(broadcast.recorded()) != 0 {
		t.Error("No events must be emitted when the blob write fails")
	}
}

func newRouterWithParam(pattern string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.HandleFunc(pattern, handler)
	return r
}

func TestHandleDownload_Success(t *testing.T) {
	blobs := newMockBlobStore()
	content := []byte("file body bytes")
	blobs.Save(context.Background(), "stored-name.txt", bytes.NewReader(content))

	r := newRouterWithParam("/download/{filename}", HandleDownload(blobs))
	req := httptest.NewRequest(http.MethodGet, "/download/stored-name.txt", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("Downloaded bytes differ from uploaded bytes")
	}
	if disposition := rec.Header().Get("Content-Disposition"); disposition != `attachment; filename="stored-name.txt"` {
		t.Errorf("Unexpected Content-Disposition: %q", disposition)
	}
}

func TestHandleDownload_NotFound(t *testing.T) {
	r := newRouterWithParam("/download/{filename}", HandleDownload(newMockBlobStore()))
	req := httptest.NewRequest(http.MethodGet, "/download/missing.txt", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestHandleDeleteFile_Success(t *testing.T) {
	registry := rooms.NewRegistry(0)
	blobs := newMockBlobStore()
	broadcast := &mockBroadcaster{}

	blobs.Save(context.Background(), "f1", bytes.NewReader([]byte("data")))
	registry.AddFile("abc", core.FileRecord{Filename: "f1", OriginalName: "a.txt"})

	r := newRouterWithParam("/delete-file/{filename}", HandleDeleteFile(registry, blobs, broadcast))
	req := httptest.NewRequest(http.MethodDelete, "/delete-file/f1", nil)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if _, err := blobs.Open(context.Background(), "f1"); !errors.Is(err, core.ErrFileNotFound) {
		t.Error("Expected blob to be deleted alongside the record")
	}
	// Room had only that file, so it must be pruned.
	if registry.Has("abc") {
		t.Error("Expected empty room to be pruned after file deletion")
	}

	events := broadcast.recorded()
	if len(events) != 2 || events[0] != "abc/fileDeleted" {
		t.Errorf("Expected fileDeleted then notification, got %v", events)
	}
}

func TestHandleDeleteFile_UnknownRoom(t *testing.T) {
	r := newRouterWithParam("/delete-file/{filename}", HandleDeleteFile(rooms.NewRegistry(0), newMockBlobStore(), &mockBroadcaster{}))
	req := httptest.NewRequest(http.MethodDelete, "/delete-file/f1", nil)
	req.Header.Set("x-room-id", "missing")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestHandleDeleteFile_UnknownFilename(t *testing.T) {
	registry := rooms.NewRegistry(0)
	registry.Join("abc", "client-1")

	r := newRouterWithParam("/delete-file/{filename}", HandleDeleteFile(registry, newMockBlobStore(), &mockBroadcaster{}))
	req := httptest.NewRequest(http.MethodDelete, "/delete-file/f1", nil)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestHandleDeleteFile_MissingRoomID(t *testing.T) {
	r := newRouterWithParam("/delete-file/{filename}", HandleDeleteFile(rooms.NewRegistry(0), newMockBlobStore(), &mockBroadcaster{}))
	req := httptest.NewRequest(http.MethodDelete, "/delete-file/f1", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestHandleDeleteAll_Success(t *testing.T) {
	registry := rooms.NewRegistry(0)
	blobs := newMockBlobStore()
	broadcast := &mockBroadcaster{}
	ctx := context.Background()

	registry.Join("abc", "client-1")
	for _, name := range []string{"f1", "f2"} {
		blobs.Save(ctx, name, bytes.NewReader([]byte("data")))
		registry.AddFile("abc", core.FileRecord{Filename: name})
	}

	handler := HandleDeleteAll(registry, blobs, broadcast)
	req := httptest.NewRequest(http.MethodDelete, "/delete-all", nil)
	req.Header.Set("x-room-id", "abc")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	for _, name := range []string{"f1", "f2"} {
		if _, err := blobs.Open(ctx, name); !errors.Is(err, core.ErrFileNotFound) {
			t.Errorf("Expected blob %s to be deleted", name)
		}
	}
	snapshot, err := registry.Snapshot("abc")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snapshot.Files) != 0 {
		t.Errorf("Expected no file records to remain, got %d", len(snapshot.Files))
	}

	events := broadcast.recorded()
	if len(events) != 2 || events[0] != "abc/allFilesDeleted" {
		t.Errorf("Expected allFilesDeleted then notification, got %v", events)
	}
}

func TestHandleDeleteAll_UnknownRoom(t *testing.T) {
	handler := HandleDeleteAll(rooms.NewRegistry(0), newMockBlobStore(), &mockBroadcaster{})
	req := httptest.NewRequest(http.MethodDelete, "/delete-all", nil)
	req.Header.Set("x-room-id", "missing")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestHandleListRooms(t *testing.T) {
	registry := rooms.NewRegistry(0)
	registry.Join("busy", "client-1")
	registry.Join("busy", "client-2")
	registry.Join("quiet", "client-3")

	handler := HandleListRooms(registry)
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var roomList []RoomInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &roomList); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(roomList) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(roomList))
	}
	if roomList[0].ID != "busy" || roomList[0].Users != 2 {
		t.Errorf("Expected busiest room first, got %+v", roomList[0])
	}
}

func TestNewFilenameKeepsExtension(t *testing.T) {
	filename := newFilename("report.pdf")
	if len(filename) != 26+len(".pdf") {
		t.Errorf("Expected ULID plus extension, got %q", filename)
	}
	if filename[len(filename)-4:] != ".pdf" {
		t.Errorf("Expected .pdf suffix, got %q", filename)
	}
}

func TestNewFilenameIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := newFilename("a.txt")
		if seen[name] {
			t.Fatalf("Duplicate generated filename %q", name)
		}
		seen[name] = true
	}
}
