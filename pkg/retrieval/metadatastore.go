package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// chunkMetadataMode is the encoding mode used to persist chunk metadata:
// canonical field order and no floating types, so two stores holding the
// same metadata always produce byte-identical files.
var chunkMetadataMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("retrieval: build chunk metadata encoding mode: %v", err))
	}
	return mode
}()

// wireCachedChunkMetadata is CachedChunkMetadata's on-disk shape, kept
// separate from the exported type so the wire encoding doesn't shift
// if CachedChunkMetadata grows fields callers don't need persisted.
type wireCachedChunkMetadata struct {
	DataRoot       [32]byte
	DataSize       uint64
	RelativeOffset uint64
}

// CBORMetadataStore is a write-through on-disk ChunkMetadataStore, sharded
// by the absolute offset's low byte so no single directory holds an
// unbounded number of files.
type CBORMetadataStore struct {
	baseDir string
}

func NewCBORMetadataStore(baseDir string) *CBORMetadataStore {
	return &CBORMetadataStore{baseDir: baseDir}
}

func (s *CBORMetadataStore) shardDir(absoluteOffset uint64) string {
	shard := fmt.Sprintf("%02x", byte(absoluteOffset))
	return filepath.Join(s.baseDir, shard)
}

func (s *CBORMetadataStore) path(absoluteOffset uint64) string {
	return filepath.Join(s.shardDir(absoluteOffset), fmt.Sprintf("%d.cbor", absoluteOffset))
}

// Put persists meta for absoluteOffset, overwriting any prior entry.
func (s *CBORMetadataStore) Put(absoluteOffset uint64, meta CachedChunkMetadata) error {
	dir := s.shardDir(absoluteOffset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("retrieval: metadata store mkdir: %w", err)
	}
	w := wireCachedChunkMetadata{
		DataRoot:       [32]byte(meta.DataRoot),
		DataSize:       meta.DataSize,
		RelativeOffset: meta.RelativeOffset,
	}
	encoded, err := chunkMetadataMode.Marshal(w)
	if err != nil {
		return fmt.Errorf("retrieval: metadata store encode: %w", err)
	}
	return os.WriteFile(s.path(absoluteOffset), encoded, 0o644)
}

// GetByAbsoluteOffset implements ChunkMetadataStore.
func (s *CBORMetadataStore) GetByAbsoluteOffset(ctx context.Context, absoluteOffset uint64) (CachedChunkMetadata, bool, error) {
	data, err := os.ReadFile(s.path(absoluteOffset))
	if os.IsNotExist(err) {
		return CachedChunkMetadata{}, false, nil
	}
	if err != nil {
		return CachedChunkMetadata{}, false, err
	}
	var w wireCachedChunkMetadata
	if err := cbor.Unmarshal(data, &w); err != nil {
		return CachedChunkMetadata{}, false, fmt.Errorf("retrieval: metadata store decode: %w", err)
	}
	return CachedChunkMetadata{
		DataRoot:       w.DataRoot,
		DataSize:       w.DataSize,
		RelativeOffset: w.RelativeOffset,
	}, true, nil
}
