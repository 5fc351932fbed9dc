// Package byterange implements a uniform read(offset, size) source
// abstraction over local files, HTTP range requests, and a
// content-addressed large-object source, plus a header-pinning caching
// wrapper.
package byterange

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Source is the uniform byte-range read abstraction.
type Source interface {
	// Read returns exactly size bytes starting at offset, or an error.
	Read(ctx context.Context, offset, size uint64) ([]byte, error)
	Close() error
	IsOpen() bool
}

// FileSource reads ranges from a local file. Positioned reads (ReadAt)
// avoid seek races under concurrent callers.
type FileSource struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// OpenFile opens path for positioned reads.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("byterange: open %s: %w", path, err)
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) Read(_ context.Context, offset, size uint64) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("byterange: file source closed")
	}

	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, int64(offset))
	if err != nil && !(err == io.EOF && uint64(n) == size) {
		return nil, fmt.Errorf("byterange: read %d bytes at offset %d: %w", size, offset, err)
	}
	return buf[:n], nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func (s *FileSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// ContiguousDataSource is the external large-object provider that
// LargeObjectSource folds read(offset,size) calls into.
type ContiguousDataSource interface {
	Get(ctx context.Context, contentID string, region *Region) (io.ReadCloser, error)
}

// Region is a byte range [Offset, Offset+Size).
type Region struct {
	Offset uint64
	Size   uint64
}

// LargeObjectSource folds read(o,s) into get(id, region={base+o, s}).
type LargeObjectSource struct {
	mu         sync.Mutex
	underlying ContiguousDataSource
	contentID  string
	baseOffset uint64
	closed     bool
}

func NewLargeObjectSource(underlying ContiguousDataSource, contentID string, baseOffset uint64) *LargeObjectSource {
	return &LargeObjectSource{underlying: underlying, contentID: contentID, baseOffset: baseOffset}
}

func (s *LargeObjectSource) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("byterange: large-object source closed")
	}

	rc, err := s.underlying.Get(ctx, s.contentID, &Region{Offset: s.baseOffset + offset, Size: size})
	if err != nil {
		return nil, fmt.Errorf("byterange: large-object get %s: %w", s.contentID, err)
	}
	defer rc.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("byterange: large-object read %s: %w", s.contentID, err)
	}
	return buf, nil
}

func (s *LargeObjectSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *LargeObjectSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
