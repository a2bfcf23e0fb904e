package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/sirupsen/logrus"
)

type blobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewBlobStore creates an in-memory blob store. Contents are lost on
// restart; useful for development and tests.
func NewBlobStore() *blobStore {
	return &blobStore{
		blobs: make(map[string][]byte),
	}
}

func (s *blobStore) Save(ctx context.Context, filename string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		logrus.WithError(err).WithField("filename", filename).Error("Failed to read blob data")
		return err
	}

	s.mu.Lock()
	s.blobs[filename] = data
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"filename": filename,
		"size":     len(data),
	}).Info("Blob stored successfully")
	return nil
}

func (s *blobStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[filename]
	s.mu.RUnlock()

	if !ok {
		logrus.WithField("filename", filename).Warn("Blob with specified filename not found")
		return nil, core.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *blobStore) Delete(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[filename]; !ok {
		return core.ErrFileNotFound
	}
	delete(s.blobs, filename)
	return nil
}
