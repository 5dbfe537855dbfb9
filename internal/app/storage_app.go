package app

import (
	"devicegate/internal/storage/sqlite"
)

// StorageApp owns the storage connection: it is created once at startup,
// injected into the components that need it, and closed on shutdown. No
// component reaches for an ambient global handle.
type StorageApp struct {
	storage *sqlite.Storage
}

func NewStorageApp(storagePath string) (*StorageApp, error) {
	storage, err := sqlite.New(storagePath)
	if err != nil {
		return nil, err
	}
	return &StorageApp{storage: storage}, nil
}

func (s *StorageApp) Stop() error {
	return s.storage.Close()
}

func (s *StorageApp) Storage() *sqlite.Storage {
	return s.storage
}
