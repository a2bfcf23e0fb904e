package stores

import (
	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/abdullahwebtech/air-exchange/stores/filesystem"
	"github.com/abdullahwebtech/air-exchange/stores/memory"

	"github.com/sirupsen/logrus"
)

// GetBlobStore selects the blob store backend. The filesystem store is the
// default; the in-memory store exists for development runs without a data
// directory.
func GetBlobStore(storageType, basePath string) core.BlobStore {
	var store core.BlobStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "memory":
		store = memory.NewBlobStore()
	default:
		storageField["storageType"] = "filesystem"
		storageField["basePath"] = basePath
		store = filesystem.NewBlobStore(basePath)
	}
	logrus.WithFields(storageField).Info("Use blob storage")
	return store
}
