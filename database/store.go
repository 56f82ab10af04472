package database

import (
	"context"
	"fmt"

	"bulk-downloader/config"
)

// Persisted keys shared by every backend.
const (
	KeyDownloadedFiles = "downloadedFilesByClassroom"
	KeyPanelEnabled    = "panelEnabled"
)

// Store is process-independent key-value persistence for the dedup history
// and the panel toggle.
type Store interface {
	LoadHistory(ctx context.Context) (map[string][]string, error)
	SaveHistory(ctx context.Context, history map[string][]string) error
	LoadPanelEnabled(ctx context.Context) (bool, error)
	SavePanelEnabled(ctx context.Context, enabled bool) error
	Close() error
}

// Open returns the backend selected by cfg.StoreBackend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case "", "file":
		return NewFileStore(cfg.StorePath), nil
	case "postgres":
		return NewPostgresStore(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
