package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthands/droneguard/internal/config"
	"github.com/agenthands/droneguard/internal/core/model"
)

var (
	ErrNotFound = errors.New("item not found")
	ErrExists   = errors.New("item already exists")
)

// Store holds the ordered inspection collection and the source images.
// Update applies fn atomically: the stored item is replaced only when fn
// returns nil. AddUnique checks the hash and inserts in one step; when an
// item with item.Hash exists it is returned with created=false.
type Store interface {
	Add(ctx context.Context, item model.InspectionItem, image []byte) error
	AddUnique(ctx context.Context, item model.InspectionItem, image []byte) (stored model.InspectionItem, created bool, err error)
	Get(ctx context.Context, id string) (model.InspectionItem, error)
	List(ctx context.Context) ([]model.InspectionItem, error)
	Update(ctx context.Context, id string, fn func(*model.InspectionItem) error) (model.InspectionItem, error)
	Image(ctx context.Context, id string) ([]byte, error)
	FindByHash(ctx context.Context, hash string) (model.InspectionItem, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
