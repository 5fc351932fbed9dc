package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
)

func TestCBORMetadataStoreRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "meta")
	store := NewCBORMetadataStore(dir)

	dataRoot := id.ID{0xAB}
	meta := CachedChunkMetadata{DataRoot: dataRoot, DataSize: 123456, RelativeOffset: 9000}

	if err := store.Put(42, meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.GetByAbsoluteOffset(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetByAbsoluteOffset: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != meta {
		t.Fatalf("got %+v, want %+v", got, meta)
	}
}

func TestCBORMetadataStoreMissIsNotAnError(t *testing.T) {
	store := NewCBORMetadataStore(filepath.Join(t.TempDir(), "meta"))
	_, ok, err := store.GetByAbsoluteOffset(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetByAbsoluteOffset: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on an empty store")
	}
}
