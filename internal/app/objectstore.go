package app

import (
	"context"

	"github.com/odyssey-erp/kitledger/internal/platform/objectstore"
)

// NewObjectStore connects MinIO and ensures the export bucket. It returns nil
// when exports are disabled.
func NewObjectStore(ctx context.Context, cfg *Config) (*objectstore.Store, error) {
	if !cfg.ExportsEnabled() {
		return nil, nil
	}
	store, err := objectstore.New(cfg.ObjectStore())
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
