package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/sirupsen/logrus"
)

type blobStore struct {
	basePath string
}

// NewBlobStore creates a filesystem-backed blob store rooted at basePath.
func NewBlobStore(basePath string) *blobStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logrus.WithError(err).WithField("basePath", basePath).Fatal("failed to create blob directory")
	}
	return &blobStore{basePath: basePath}
}

// BasePath returns the directory blobs are stored in, for static serving.
func (s *blobStore) BasePath() string {
	return s.basePath
}

// resolve joins filename onto the base path and rejects anything that would
// escape it.
func (s *blobStore) resolve(filename string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(filepath.Join(s.basePath, filename))
	if err != nil {
		return "", err
	}
	if absPath == absBase || !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid filename %q: access denied", filename)
	}
	return absPath, nil
}

func (s *blobStore) Save(ctx context.Context, filename string, r io.Reader) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"filename":  filename,
		"file_path": path,
	})

	f, err := os.Create(path)
	if err != nil {
		log.WithError(err).Error("Failed to create blob file")
		return err
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		log.WithError(err).Error("Failed to write blob file")
		os.Remove(path)
		return err
	}

	log.WithField("size", written).Info("Blob stored successfully")
	return nil
}

func (s *blobStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("filename", filename)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Blob with specified filename not found")
			return nil, core.ErrFileNotFound
		}
		log.WithError(err).Error("Failed to open blob")
		return nil, err
	}
	return f, nil
}

func (s *blobStore) Delete(ctx context.Context, filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	log := logrus.WithField("filename", filename)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Blob not found for deletion")
			return core.ErrFileNotFound
		}
		log.WithError(err).Error("Failed to delete blob")
		return err
	}

	log.Info("Blob deleted successfully")
	return nil
}
