// Package rangestream implements a lazy, finite byte sequence over
// [range_start, range_end) within a transaction's data, built by
// repeatedly fetching the chunk containing the current cursor.
package rangestream

import (
	"context"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// ChunkByAnyFetcher is the chunk-fetch surface this stream consumes.
type ChunkByAnyFetcher interface {
	GetChunkByAny(ctx context.Context, absoluteOffset uint64) (*model.Chunk, error)
}

// Params configures one stream_range call.
type Params struct {
	TxID            id.ID
	TxSize          uint64
	TxAbsoluteStart uint64
	DataRoot        id.ID
	RangeStart      uint64
	RangeEnd        uint64
	Fetcher         ChunkByAnyFetcher
}

// Stream produces the byte range [RangeStart, RangeEnd) chunk by
// chunk, via repeated Next() calls.
type Stream struct {
	params       Params
	current      uint64
	chunksFetched int
	done         bool
}

// New validates params and returns a Stream ready for iteration. An
// out-of-bounds or empty range yields a Stream that is immediately
// done and emits nothing.
func New(p Params) *Stream {
	s := &Stream{params: p, current: p.RangeStart}
	if p.RangeStart >= p.RangeEnd || p.RangeStart > p.TxSize || p.RangeEnd > p.TxSize {
		s.done = true
	}
	return s
}

// ChunksFetched returns the number of chunks fetched so far, for
// metrics.
func (s *Stream) ChunksFetched() int { return s.chunksFetched }

// Done reports whether the stream has emitted its full range.
func (s *Stream) Done() bool { return s.done }

// Next fetches the chunk containing the current cursor and returns the
// clipped slice of bytes belonging to [RangeStart, RangeEnd). It
// returns ok=false once the stream is exhausted.
func (s *Stream) Next(ctx context.Context) (data []byte, ok bool, err error) {
	if s.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, model.NewAbortedError("rangestream: aborted", err)
	}

	absoluteOffset := s.params.TxAbsoluteStart + s.current
	chunk, err := s.params.Fetcher.GetChunkByAny(ctx, absoluteOffset)
	if err != nil {
		s.done = true
		return nil, false, err
	}
	s.chunksFetched++

	// chunk.Offset is the chunk's end offset within the tx (relative),
	// per the data_path encoding; its start is offset - len(data).
	chunkEnd := chunk.Offset
	chunkStart := chunkEnd - uint64(len(chunk.Data))

	clipStart := chunkStart
	if s.params.RangeStart > clipStart {
		clipStart = s.params.RangeStart
	}
	clipEnd := chunkEnd
	if s.params.RangeEnd < clipEnd {
		clipEnd = s.params.RangeEnd
	}
	if clipEnd <= clipStart {
		s.current = chunkEnd
		if s.current >= s.params.RangeEnd {
			s.done = true
		}
		return nil, true, nil
	}

	data = chunk.Data[clipStart-chunkStart : clipEnd-chunkStart]
	s.current = chunkEnd
	if s.current >= s.params.RangeEnd {
		s.done = true
	}
	return data, true, nil
}

// Collect drains the stream, concatenating every emitted slice. Useful
// for tests and small ranges; production callers should prefer Next
// for true streaming.
func Collect(ctx context.Context, p Params) ([]byte, int, error) {
	s := New(p)
	var out []byte
	for {
		data, ok, err := s.Next(ctx)
		if err != nil {
			return nil, s.ChunksFetched(), err
		}
		if !ok {
			break
		}
		out = append(out, data...)
	}
	return out, s.ChunksFetched(), nil
}
