package rangestream

import (
	"bytes"
	"context"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// fakeFetcher serves a fixed in-memory tx split into chunks of
// chunkSize bytes (the last one possibly short), keyed by absolute
// offset falling anywhere within the chunk.
type fakeFetcher struct {
	txData      []byte
	txAbsStart  uint64
	chunkSize   int
	fetchCalls  int
}

func (f *fakeFetcher) GetChunkByAny(ctx context.Context, absoluteOffset uint64) (*model.Chunk, error) {
	f.fetchCalls++
	relative := absoluteOffset - f.txAbsStart
	chunkIndex := int(relative) / f.chunkSize
	start := chunkIndex * f.chunkSize
	end := start + f.chunkSize
	if end > len(f.txData) {
		end = len(f.txData)
	}
	return &model.Chunk{
		Data:   f.txData[start:end],
		Offset: uint64(end), // end-exclusive, per data_path convention
		Source: model.SourcePeer,
	}, nil
}

// TestStreamRangeConcatenation confirms that for any contiguous byte
// range over a multi-chunk tx, concatenating the stream's output equals
// the reference bytes of that range.
func TestStreamRangeConcatenation(t *testing.T) {
	reference := make([]byte, 700_000)
	for i := range reference {
		reference[i] = byte(i % 256)
	}

	fetcher := &fakeFetcher{txData: reference, txAbsStart: 10_000_000, chunkSize: 262_144}

	tests := []struct {
		name       string
		start, end uint64
	}{
		{"within first chunk", 100, 50_000},
		{"spans two chunks", 200_000, 400_000},
		{"spans three chunks including short last", 0, 700_000},
		{"single byte", 262_144, 262_145},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetcher.fetchCalls = 0
			got, _, err := Collect(context.Background(), Params{
				TxID:            id.ID{},
				TxSize:          uint64(len(reference)),
				TxAbsoluteStart: fetcher.txAbsStart,
				RangeStart:      tc.start,
				RangeEnd:        tc.end,
				Fetcher:         fetcher,
			})
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			want := reference[tc.start:tc.end]
			if !bytes.Equal(got, want) {
				t.Fatalf("range [%d,%d): got %d bytes, want %d bytes (mismatch)", tc.start, tc.end, len(got), len(want))
			}
		})
	}
}

func TestStreamRangeEmptyWhenStartNotBeforeEnd(t *testing.T) {
	fetcher := &fakeFetcher{txData: make([]byte, 1000), chunkSize: 262_144}
	got, chunksFetched, err := Collect(context.Background(), Params{
		TxSize:     1000,
		RangeStart: 500,
		RangeEnd:   500,
		Fetcher:    fetcher,
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
	if chunksFetched != 0 {
		t.Fatalf("expected no fetches for an empty range, got %d", chunksFetched)
	}
}

func TestChunksFetchedCountsOncePerChunk(t *testing.T) {
	reference := make([]byte, 600_000)
	fetcher := &fakeFetcher{txData: reference, chunkSize: 262_144}

	_, chunksFetched, err := Collect(context.Background(), Params{
		TxSize:     uint64(len(reference)),
		RangeStart: 0,
		RangeEnd:   600_000,
		Fetcher:    fetcher,
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if chunksFetched != 3 {
		t.Fatalf("expected 3 chunk fetches for a 600000-byte range over 262144-byte chunks, got %d", chunksFetched)
	}
}
