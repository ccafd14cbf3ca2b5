package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/store"
)

// Hash returns the hex SHA-256 of an image.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Deduplicator detects re-uploads of the same photo by content hash.
type Deduplicator struct {
	Store store.Store
}

func NewDeduplicator(s store.Store) *Deduplicator {
	return &Deduplicator{Store: s}
}

// FindDuplicate returns the first stored item with the given hash.
func (d *Deduplicator) FindDuplicate(ctx context.Context, hash string) (model.InspectionItem, bool, error) {
	item, err := d.Store.FindByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return model.InspectionItem{}, false, nil
	}
	if err != nil {
		return model.InspectionItem{}, false, err
	}
	return item, true, nil
}

// Insert stores item unless a photo with the same hash is already present,
// in which case the earlier item is returned and created is false. The
// check and the insert happen in one store operation.
func (d *Deduplicator) Insert(ctx context.Context, item model.InspectionItem, image []byte) (stored model.InspectionItem, created bool, err error) {
	if item.Hash == "" {
		item.Hash = Hash(image)
	}
	return d.Store.AddUnique(ctx, item, image)
}
