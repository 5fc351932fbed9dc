package cdb64

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer streams records to a temp file; Finalize rewrites the header in
// place and appends the 256 bucket tables, then atomically renames the
// temp file into place. Writes are single-producer; no concurrent
// readers are safe against an in-progress Writer.
type Writer struct {
	targetPath string
	tmpFile    *os.File
	cursor     uint64 // absolute file offset of the next write

	buckets [numBuckets][]bucketRecord
	done    bool
}

type bucketRecord struct {
	hash      uint64
	recOffset uint64
}

// NewWriter creates a Writer that will atomically produce targetPath on
// Finalize.
func NewWriter(targetPath string) (*Writer, error) {
	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".cdb64-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("cdb64: create temp file: %w", err)
	}

	// Reserve the header region; it is rewritten with real offsets on
	// Finalize.
	var placeholder [HeaderSize]byte
	if _, err := tmp.Write(placeholder[:]); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("cdb64: reserve header: %w", err)
	}

	return &Writer{
		targetPath: targetPath,
		tmpFile:    tmp,
		cursor:     HeaderSize,
	}, nil
}

// Add appends one record. Keys must be non-empty: a zero-length key
// would be a degenerate, unusable record, so it is rejected here
// uniformly regardless of what any caller-side validation does.
func (w *Writer) Add(key, value []byte) error {
	if w.done {
		return fmt.Errorf("cdb64: writer already finalized or aborted")
	}
	if len(key) == 0 {
		return fmt.Errorf("cdb64: empty key")
	}

	recOffset := w.cursor
	rec := encodeRecord(key, value)
	n, err := w.tmpFile.Write(rec)
	if err != nil {
		return fmt.Errorf("cdb64: write record: %w", err)
	}
	w.cursor += uint64(n)

	raw := djb2(key)
	b := bucketOf(raw)
	w.buckets[b] = append(w.buckets[b], bucketRecord{hash: raw, recOffset: recOffset})
	return nil
}

// Finalize writes every bucket's hash table, rewrites the header, and
// atomically renames the temp file to the target path.
func (w *Writer) Finalize() error {
	if w.done {
		return fmt.Errorf("cdb64: writer already finalized or aborted")
	}
	w.done = true

	var dirs [numBuckets]tableDir
	for b := 0; b < numBuckets; b++ {
		records := w.buckets[b]
		numSlots := slotCountFor(uint64(len(records)))
		slots := make([]slotEntry, numSlots)

		for _, r := range records {
			idx := (r.hash / numBuckets) % numSlots
			for {
				if slots[idx].RecOffset == 0 {
					slots[idx] = slotEntry{Hash: storedHash(r.hash), RecOffset: r.recOffset}
					break
				}
				idx = (idx + 1) % numSlots
			}
		}

		tableOffset := w.cursor
		for _, s := range slots {
			n, err := w.tmpFile.Write(encodeSlot(s))
			if err != nil {
				return fmt.Errorf("cdb64: write table for bucket %d: %w", b, err)
			}
			w.cursor += uint64(n)
		}
		dirs[b] = tableDir{Offset: tableOffset, NumSlots: numSlots}
	}

	if _, err := w.tmpFile.WriteAt(encodeHeader(dirs), 0); err != nil {
		return fmt.Errorf("cdb64: write header: %w", err)
	}
	if err := w.tmpFile.Sync(); err != nil {
		return fmt.Errorf("cdb64: sync: %w", err)
	}
	if err := w.tmpFile.Close(); err != nil {
		return fmt.Errorf("cdb64: close temp file: %w", err)
	}
	if err := os.Rename(w.tmpFile.Name(), w.targetPath); err != nil {
		return fmt.Errorf("cdb64: rename into place: %w", err)
	}
	return nil
}

// Abort removes the temp file without producing the target.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.tmpFile.Close()
	return os.Remove(w.tmpFile.Name())
}
