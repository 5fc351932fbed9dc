package cdb64

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ar-io/ar-io-node-sub005/pkg/byterange"
)

// Reader performs constant-time point lookups and full-index iteration
// over a CDB64 file via any byterange.Source. Concurrent Get calls are
// safe.
type Reader struct {
	src byterange.Source

	once    sync.Once
	onceErr error
	dirs    [numBuckets]tableDir
}

// NewReader wraps src, which should usually be a
// byterange.CachingSource so the 4096-byte header is fetched once and
// pinned in memory.
func NewReader(src byterange.Source) *Reader {
	return &Reader{src: src}
}

func (r *Reader) ensureHeader(ctx context.Context) error {
	r.once.Do(func() {
		buf, err := r.src.Read(ctx, 0, HeaderSize)
		if err != nil {
			r.onceErr = fmt.Errorf("cdb64: read header: %w", err)
			return
		}
		dirs, err := decodeHeader(buf)
		if err != nil {
			r.onceErr = fmt.Errorf("%w: %v", ErrCorrupt, err)
			return
		}
		r.dirs = dirs
	})
	return r.onceErr
}

// Get returns the value for key, or ok=false if absent.
func (r *Reader) Get(ctx context.Context, key []byte) (value []byte, ok bool, err error) {
	if len(key) == 0 {
		return nil, false, fmt.Errorf("cdb64: empty key")
	}
	if err := r.ensureHeader(ctx); err != nil {
		return nil, false, err
	}

	raw := djb2(key)
	b := bucketOf(raw)
	dir := r.dirs[b]
	if dir.NumSlots == 0 {
		return nil, false, nil
	}

	tableBuf, err := r.src.Read(ctx, dir.Offset, dir.NumSlots*slotSize)
	if err != nil {
		return nil, false, fmt.Errorf("cdb64: read bucket %d table: %w", b, err)
	}
	if uint64(len(tableBuf)) != dir.NumSlots*slotSize {
		return nil, false, fmt.Errorf("%w: short table read for bucket %d", ErrCorrupt, b)
	}

	wantHash := storedHash(raw)
	startIdx := (raw / numBuckets) % dir.NumSlots

	for i := uint64(0); i < dir.NumSlots; i++ {
		idx := (startIdx + i) % dir.NumSlots
		slot := decodeSlot(tableBuf[idx*slotSize : (idx+1)*slotSize])
		if slot.RecOffset == 0 {
			return nil, false, nil // empty slot: end of this chain
		}
		if slot.Hash != wantHash {
			continue
		}
		recKey, recValue, err := r.readRecord(ctx, slot.RecOffset)
		if err != nil {
			return nil, false, err
		}
		if bytes.Equal(recKey, key) {
			return recValue, true, nil
		}
	}
	return nil, false, nil
}

func (r *Reader) readRecord(ctx context.Context, offset uint64) (key, value []byte, err error) {
	lenBuf, err := r.src.Read(ctx, offset, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("cdb64: read record length at %d: %w", offset, err)
	}
	if len(lenBuf) != 8 {
		return nil, nil, fmt.Errorf("%w: truncated record length at %d", ErrCorrupt, offset)
	}
	klen := binary.LittleEndian.Uint32(lenBuf[0:4])
	vlen := binary.LittleEndian.Uint32(lenBuf[4:8])

	body, err := r.src.Read(ctx, offset+8, uint64(klen)+uint64(vlen))
	if err != nil {
		return nil, nil, fmt.Errorf("cdb64: read record body at %d: %w", offset, err)
	}
	if uint64(len(body)) != uint64(klen)+uint64(vlen) {
		return nil, nil, fmt.Errorf("%w: truncated record body at %d", ErrCorrupt, offset)
	}
	return body[:klen], body[klen:], nil
}

// Entries yields every (key, value) in storage order via sequential
// ranged reads, stopping at the first bucket's table (the record
// section's end, since tables are written bucket 0..255 in order by
// Writer.Finalize).
func (r *Reader) Entries(ctx context.Context) ([]Entry, error) {
	if err := r.ensureHeader(ctx); err != nil {
		return nil, err
	}

	recordsEnd := uint64(0)
	for _, d := range r.dirs {
		if recordsEnd == 0 || d.Offset < recordsEnd {
			recordsEnd = d.Offset
		}
	}

	var entries []Entry
	cursor := uint64(HeaderSize)
	for cursor < recordsEnd {
		key, value, err := r.readRecord(ctx, cursor)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Value: value})
		cursor += 8 + uint64(len(key)) + uint64(len(value))
	}
	return entries, nil
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}
