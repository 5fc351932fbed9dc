// Package datacache implements a read-through data cache: an
// attributes-then-contiguous-store lookup, a parent-range read for
// nested bundle items, a sequential fallback over a list of
// ContiguousDataSource implementations, and a tee-to-cache pipeline on
// trusted, non-empty, non-skip-cache hits.
package datacache

import (
	"context"
	"io"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// Attributes is what the attributes source knows about a content id.
type Attributes struct {
	Hash              [32]byte
	HasHash           bool
	Size              uint64
	ContentType       string
	IsNestedDataItem  bool
	ParentID          id.ID
	OffsetInParent    uint64
}

// AttributesSource resolves a content id's known attributes.
type AttributesSource interface {
	GetAttributes(ctx context.Context, contentID id.ID) (Attributes, bool, error)
}

// Region is a byte range within a content item, mirroring
// pkg/byterange.Region.
type Region struct {
	Offset uint64
	Size   uint64
}

// ContiguousStore serves bytes for a content item addressed by hash,
// optionally clipped to a region.
type ContiguousStore interface {
	Get(ctx context.Context, hash [32]byte, region *Region) (io.ReadCloser, bool, error)
	// Put begins a write of size bytes for hash; the caller must Commit
	// the returned writer (committing the write) or Abort it (discarding
	// a partial write) exactly once.
	Put(ctx context.Context, hash [32]byte, size uint64) (CacheWriter, error)
}

// CacheWriter is the tee-pipeline's write side.
type CacheWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// ParentRangeReader satisfies a nested data item's read from its
// parent's cached bytes, when known.
type ParentRangeReader interface {
	ReadParentRange(ctx context.Context, parentID id.ID, offset, size uint64) (io.ReadCloser, bool, error)
}

// ContiguousDataSource is one entry in the ordered fallback list (spec
// §4.8 step 3): a trusted gateway, a chunk-based source, S3, or a peer
// source. Trusted reports whether bytes from this source may be
// cached without independent verification.
type ContiguousDataSource interface {
	Name() string
	Trusted() bool
	GetData(ctx context.Context, contentID id.ID, region *Region) (stream io.ReadCloser, size uint64, hash [32]byte, hasHash bool, contentType string, err error)
}

// RequestAttrs threads hop count and origin through a get_data call.
// SkipCache disables the tee-to-cache write for this call.
type RequestAttrs struct {
	Hops      int
	Origin    string
	SkipCache bool
}

// Result is GetData's return value.
type Result struct {
	Stream             io.ReadCloser
	Size               uint64
	Hash               [32]byte
	HasHash            bool
	SourceContentType  string
	Verified           bool
	Trusted            bool
	Cached             bool
	RequestAttrs       RequestAttrs
}

// Config wires the cache's dependencies together.
type Config struct {
	Attributes  AttributesSource
	Contiguous  ContiguousStore
	ParentRange ParentRangeReader
	Sources     []ContiguousDataSource // tried in order
	Logger      errorLogger
}

type errorLogger interface {
	LogSourceError(name string, err error)
}

// Cache implements the read-through data lookup.
type Cache struct {
	cfg Config
}

func New(cfg Config) *Cache {
	return &Cache{cfg: cfg}
}

// GetData resolves contentID through attributes/contiguous-store
// lookup, falling back to the configured sources in order on a miss.
func (c *Cache) GetData(ctx context.Context, contentID id.ID, attrs RequestAttrs, region *Region) (Result, error) {
	attrs.Hops++

	if attributes, ok, err := c.attributesLookup(ctx, contentID); err != nil {
		return Result{}, err
	} else if ok {
		if stream, size, hit, err := c.contiguousHit(ctx, attributes, region); err != nil {
			return Result{}, err
		} else if hit {
			return Result{
				Stream: stream, Size: size, Hash: attributes.Hash, HasHash: attributes.HasHash,
				SourceContentType: attributes.ContentType, Verified: true, Trusted: true, Cached: true,
				RequestAttrs: attrs,
			}, nil
		}

		if attributes.IsNestedDataItem && c.cfg.ParentRange != nil {
			if stream, ok, err := c.cfg.ParentRange.ReadParentRange(ctx, attributes.ParentID, attributes.OffsetInParent, regionSize(region, attributes.Size)); err != nil {
				return Result{}, err
			} else if ok {
				return Result{
					Stream: stream, Size: attributes.Size, Hash: attributes.Hash, HasHash: attributes.HasHash,
					SourceContentType: attributes.ContentType, Verified: true, Trusted: true, Cached: true,
					RequestAttrs: attrs,
				}, nil
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, model.NewAbortedError("datacache: aborted before sequential fetch", err)
	}

	stream, size, hash, hasHash, contentType, trusted, err := c.sequentialFetch(ctx, contentID, region)
	if err != nil {
		return Result{}, err
	}

	cached := false
	if trusted && size > 0 && !attrs.SkipCache && c.cfg.Contiguous != nil && region == nil {
		stream, cached = c.teeToCache(ctx, stream, hash, size)
	}

	return Result{
		Stream: stream, Size: size, Hash: hash, HasHash: hasHash,
		SourceContentType: contentType, Verified: hasHash, Trusted: trusted, Cached: cached,
		RequestAttrs: attrs,
	}, nil
}

func regionSize(region *Region, total uint64) uint64 {
	if region == nil {
		return total
	}
	return region.Size
}

func (c *Cache) attributesLookup(ctx context.Context, contentID id.ID) (Attributes, bool, error) {
	if c.cfg.Attributes == nil {
		return Attributes{}, false, nil
	}
	return c.cfg.Attributes.GetAttributes(ctx, contentID)
}

func (c *Cache) contiguousHit(ctx context.Context, attrs Attributes, region *Region) (io.ReadCloser, uint64, bool, error) {
	if !attrs.HasHash || c.cfg.Contiguous == nil {
		return nil, 0, false, nil
	}
	stream, ok, err := c.cfg.Contiguous.Get(ctx, attrs.Hash, region)
	if err != nil {
		return nil, 0, false, err
	}
	if !ok {
		return nil, 0, false, nil
	}
	size := attrs.Size
	if region != nil {
		size = region.Size
	}
	return stream, size, true, nil
}

// sequentialFetch implements SequentialDataSource: try each configured
// source in order, returning the first to succeed. Errors from sources
// that are not the last are logged, not surfaced, except AbortError
// which always propagates immediately.
func (c *Cache) sequentialFetch(ctx context.Context, contentID id.ID, region *Region) (io.ReadCloser, uint64, [32]byte, bool, string, bool, error) {
	var lastErr error
	for _, src := range c.cfg.Sources {
		stream, size, hash, hasHash, contentType, err := src.GetData(ctx, contentID, region)
		if err == nil {
			return stream, size, hash, hasHash, contentType, src.Trusted(), nil
		}
		if model.Is(err, model.KindAborted) {
			return nil, 0, [32]byte{}, false, "", false, err
		}
		lastErr = err
		if c.cfg.Logger != nil {
			c.cfg.Logger.LogSourceError(src.Name(), err)
		}
	}
	if lastErr != nil {
		return nil, 0, [32]byte{}, false, "", false, model.NewNotFoundError("datacache: all sources exhausted: " + lastErr.Error())
	}
	return nil, 0, [32]byte{}, false, "", false, model.NewNotFoundError("datacache: no sources configured")
}

// teeToCache wraps stream in an adapter that copies bytes into the
// contiguous store as they're read, committing on full consumption and
// aborting on any read/write error.
func (c *Cache) teeToCache(ctx context.Context, stream io.ReadCloser, hash [32]byte, size uint64) (io.ReadCloser, bool) {
	writer, err := c.cfg.Contiguous.Put(ctx, hash, size)
	if err != nil {
		return stream, false
	}
	return &teeReadCloser{upstream: stream, writer: writer}, true
}

type teeReadCloser struct {
	upstream io.ReadCloser
	writer   CacheWriter
	failed   bool
	done     bool
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.upstream.Read(p)
	if n > 0 && !t.failed {
		if _, werr := t.writer.Write(p[:n]); werr != nil {
			t.failed = true
			_ = t.writer.Abort()
		}
	}
	if err == io.EOF && !t.failed && !t.done {
		t.done = true
		if cerr := t.writer.Commit(); cerr != nil {
			t.failed = true
		}
	}
	return n, err
}

func (t *teeReadCloser) Close() error {
	if !t.done && !t.failed {
		_ = t.writer.Abort()
	}
	return t.upstream.Close()
}
