package byterange

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultHeaderSize = 4096

// CachingConfig configures a CachingSource.
type CachingConfig struct {
	HeaderSize   uint64
	RegionCacheN int // number of (offset,size) regions to keep
	OwnsSource   bool
}

func DefaultCachingConfig() CachingConfig {
	return CachingConfig{HeaderSize: defaultHeaderSize, RegionCacheN: 256, OwnsSource: false}
}

// CachingSource wraps a Source with a permanent pin of the first
// header_size bytes and an LRU of other regions.
type CachingSource struct {
	underlying Source
	cfg        CachingConfig

	mu     sync.Mutex
	header []byte // nil until fetched

	regions *lru.Cache[string, []byte]
}

func NewCachingSource(underlying Source, cfg CachingConfig) (*CachingSource, error) {
	if cfg.HeaderSize == 0 {
		cfg.HeaderSize = defaultHeaderSize
	}
	n := cfg.RegionCacheN
	if n <= 0 {
		n = 256
	}
	regions, err := lru.New[string, []byte](n)
	if err != nil {
		return nil, fmt.Errorf("byterange: create region cache: %w", err)
	}
	return &CachingSource{underlying: underlying, cfg: cfg, regions: regions}, nil
}

func regionKey(offset, size uint64) string {
	return fmt.Sprintf("%d:%d", offset, size)
}

// Read splits any request spanning the header boundary so the pinned
// header bytes are served from memory and the remainder from the
// region cache or underlying source.
func (s *CachingSource) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	end := offset + size
	headerEnd := s.cfg.HeaderSize

	if offset < headerEnd {
		header, err := s.getHeader(ctx)
		if err != nil {
			return nil, err
		}
		if end <= headerEnd {
			return append([]byte{}, header[offset:end]...), nil
		}
		// Spans the header boundary: header part + rest via recursion.
		headerPart := append([]byte{}, header[offset:headerEnd]...)
		rest, err := s.Read(ctx, headerEnd, end-headerEnd)
		if err != nil {
			return nil, err
		}
		return append(headerPart, rest...), nil
	}

	key := regionKey(offset, size)
	if v, ok := s.regions.Get(key); ok {
		return v, nil
	}
	buf, err := s.underlying.Read(ctx, offset, size)
	if err != nil {
		return nil, err
	}
	s.regions.Add(key, buf)
	return buf, nil
}

func (s *CachingSource) getHeader(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.header != nil {
		h := s.header
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	buf, err := s.underlying.Read(ctx, 0, s.cfg.HeaderSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.header == nil {
		s.header = buf
	}
	h := s.header
	s.mu.Unlock()
	return h, nil
}

func (s *CachingSource) Close() error {
	s.mu.Lock()
	s.header = nil
	s.mu.Unlock()
	s.regions.Purge()

	if s.cfg.OwnsSource {
		return s.underlying.Close()
	}
	return nil
}

func (s *CachingSource) IsOpen() bool {
	return s.underlying.IsOpen()
}
