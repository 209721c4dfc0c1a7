package rag

import "context"

// Unavailable is the VectorStore used in degraded mode. Searches return
// nothing and writes fail with ErrStoreUnavailable.
type Unavailable struct{}

// Upsert always fails.
func (Unavailable) Upsert(context.Context, []Document, [][]float32) error {
	return ErrStoreUnavailable
}

// Search always returns an empty result.
func (Unavailable) Search(context.Context, []float32, int) ([]Document, error) {
	return []Document{}, nil
}

// Delete always fails.
func (Unavailable) Delete(context.Context, []string) error { return ErrStoreUnavailable }

// Close is a no-op.
func (Unavailable) Close() error { return nil }
