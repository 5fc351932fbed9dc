// Package retrieval implements the chunk retrieval pipeline: a
// cache-first lookup that falls through to boundary resolution and
// peer fetch, coalescing concurrent fetches for the same (data_root,
// relative_offset) pair.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// CachedChunkMetadata is what the metadata store keeps per
// absolute_offset.
type CachedChunkMetadata struct {
	DataRoot       id.ID
	DataSize       uint64
	RelativeOffset uint64
}

// ChunkDataStore looks up a chunk's raw bytes by absolute offset.
type ChunkDataStore interface {
	GetByAbsoluteOffset(ctx context.Context, absoluteOffset uint64) ([]byte, bool, error)
}

// ChunkMetadataStore looks up a chunk's cached metadata by absolute
// offset.
type ChunkMetadataStore interface {
	GetByAbsoluteOffset(ctx context.Context, absoluteOffset uint64) (CachedChunkMetadata, bool, error)
}

// BoundarySource resolves an absolute offset to the TxBoundary it
// falls within. Implementations compose their own DB → tx_path → chain
// fallback chain; this package only consumes the result.
type BoundarySource interface {
	GetTxBoundary(ctx context.Context, absoluteOffset uint64) (*model.TxBoundary, error)
}

// ChunkFetcher fetches and validates a chunk by absolute offset,
// choosing among whatever peers or sources it has available.
type ChunkFetcher interface {
	GetChunkByAny(ctx context.Context, absoluteOffset uint64) (*model.Chunk, error)
}

// Config wires the pipeline's dependencies together.
type Config struct {
	DataStore     ChunkDataStore     // optional
	MetadataStore ChunkMetadataStore // optional
	Boundary      BoundarySource
	Fetcher       ChunkFetcher
}

// Pipeline implements chunk retrieval: cache lookup, then boundary
// resolution and fetch on a miss.
type Pipeline struct {
	cfg   Config
	group singleflight.Group
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// RetrieveChunk resolves absoluteOffset to its chunk: a cache lookup
// first, then boundary resolution followed by a fetch. Concurrent
// callers for the same absolute_offset's eventual (data_root,
// relative_offset) pair are coalesced once the boundary is known,
// without needing to know the pair up front.
func (p *Pipeline) RetrieveChunk(ctx context.Context, absoluteOffset uint64) (model.ChunkRetrievalResult, error) {
	if hit, ok, err := p.cachePath(ctx, absoluteOffset); err != nil {
		return model.ChunkRetrievalResult{}, err
	} else if ok {
		return hit, nil
	}

	if err := ctx.Err(); err != nil {
		return model.ChunkRetrievalResult{}, model.NewAbortedError("retrieval: aborted before boundary lookup", err)
	}

	boundary, err := p.cfg.Boundary.GetTxBoundary(ctx, absoluteOffset)
	if err != nil {
		if model.Is(err, model.KindAborted) {
			return model.ChunkRetrievalResult{}, err
		}
		return model.ChunkRetrievalResult{}, model.NewChunkNotFoundError("boundary_not_found", err)
	}
	if boundary == nil {
		return model.ChunkRetrievalResult{}, model.NewChunkNotFoundError("boundary_not_found", nil)
	}

	txDataStart := boundary.TxDataStart()
	relativeOffset := absoluteOffset - txDataStart

	key := fmt.Sprintf("%s:%d", boundary.DataRoot.String(), relativeOffset)
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		return p.cfg.Fetcher.GetChunkByAny(ctx, absoluteOffset)
	})
	if err != nil {
		if model.Is(err, model.KindAborted) {
			return model.ChunkRetrievalResult{}, err
		}
		return model.ChunkRetrievalResult{}, model.NewChunkNotFoundError("fetch_failed", err)
	}
	chunk := v.(*model.Chunk)

	return model.NewBoundaryFetchResult(
		*chunk,
		boundary.ID, boundary.HasID,
		boundary.DataRoot, boundary.DataSize, boundary.WeaveOffset,
		relativeOffset, txDataStart,
	), nil
}

// cachePath implements step 1: both stores must hit for a cache hit to
// count. Lookups run in parallel; either store erroring (rather than
// simply missing) is surfaced to the caller.
func (p *Pipeline) cachePath(ctx context.Context, absoluteOffset uint64) (model.ChunkRetrievalResult, bool, error) {
	if p.cfg.DataStore == nil || p.cfg.MetadataStore == nil {
		return model.ChunkRetrievalResult{}, false, nil
	}

	type dataResult struct {
		data []byte
		ok   bool
		err  error
	}
	type metaResult struct {
		meta CachedChunkMetadata
		ok   bool
		err  error
	}

	dataCh := make(chan dataResult, 1)
	metaCh := make(chan metaResult, 1)

	go func() {
		data, ok, err := p.cfg.DataStore.GetByAbsoluteOffset(ctx, absoluteOffset)
		dataCh <- dataResult{data, ok, err}
	}()
	go func() {
		meta, ok, err := p.cfg.MetadataStore.GetByAbsoluteOffset(ctx, absoluteOffset)
		metaCh <- metaResult{meta, ok, err}
	}()

	dr := <-dataCh
	mr := <-metaCh

	if dr.err != nil {
		return model.ChunkRetrievalResult{}, false, dr.err
	}
	if mr.err != nil {
		return model.ChunkRetrievalResult{}, false, mr.err
	}
	if !dr.ok || !mr.ok || len(dr.data) == 0 {
		return model.ChunkRetrievalResult{}, false, nil
	}

	txDataStart := absoluteOffset - mr.meta.RelativeOffset
	weaveOffset := txDataStart + mr.meta.DataSize - 1

	chunk := model.Chunk{
		Data:     dr.data,
		DataRoot: mr.meta.DataRoot,
		DataSize: mr.meta.DataSize,
		Offset:   mr.meta.RelativeOffset,
		Source:   model.SourceCache,
	}

	return model.NewCacheHitResult(chunk, mr.meta.DataRoot, mr.meta.DataSize, weaveOffset, mr.meta.RelativeOffset, txDataStart), true, nil
}
