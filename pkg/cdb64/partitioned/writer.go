package partitioned

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"lukechampine.com/blake3"

	"github.com/ar-io/ar-io-node-sub005/pkg/cdb64"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// Writer routes Add(key,value) to a per-partition cdb64.Writer created
// lazily in a temp directory; Finalize atomically renames the temp
// directory into place and emits the manifest.
//
// Only the "file" location is emitted; uploading partitions to remote
// storage is left as an external post-step.
type Writer struct {
	targetDir string
	tmpDir    string

	writers map[byte]*cdb64.Writer
	counts  map[byte]uint64
	total   uint64
	done    bool
}

func NewWriter(targetDir string) (*Writer, error) {
	parent := filepath.Dir(targetDir)
	tmpDir, err := os.MkdirTemp(parent, ".cdb64-partitions-*")
	if err != nil {
		return nil, fmt.Errorf("partitioned: create temp dir: %w", err)
	}
	return &Writer{
		targetDir: targetDir,
		tmpDir:    tmpDir,
		writers:   make(map[byte]*cdb64.Writer),
		counts:    make(map[byte]uint64),
	}, nil
}

func (w *Writer) Add(key, value []byte) error {
	if w.done {
		return fmt.Errorf("partitioned: writer already finalized or aborted")
	}
	if len(key) == 0 {
		return fmt.Errorf("partitioned: empty key")
	}
	prefixByte := key[0]

	pw, ok := w.writers[prefixByte]
	if !ok {
		path := filepath.Join(w.tmpDir, PrefixOf(prefixByte)+".cdb")
		var err error
		pw, err = cdb64.NewWriter(path)
		if err != nil {
			return fmt.Errorf("partitioned: create partition writer for %s: %w", PrefixOf(prefixByte), err)
		}
		w.writers[prefixByte] = pw
	}

	if err := pw.Add(key, value); err != nil {
		return fmt.Errorf("partitioned: add to partition %s: %w", PrefixOf(prefixByte), err)
	}
	w.counts[prefixByte]++
	w.total++
	return nil
}

// Finalize finalizes every partition writer, renames the temp directory
// into place, and writes manifest.json alongside it.
func (w *Writer) Finalize(metadata map[string]string) (model.Cdb64Manifest, error) {
	if w.done {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: writer already finalized or aborted")
	}
	w.done = true

	m := model.Cdb64Manifest{
		Version:      1,
		CreatedAt:    time.Now(),
		TotalRecords: w.total,
		Metadata:     metadata,
	}

	for prefixByte, pw := range w.writers {
		if err := pw.Finalize(); err != nil {
			return model.Cdb64Manifest{}, fmt.Errorf("partitioned: finalize partition %s: %w", PrefixOf(prefixByte), err)
		}
		path := filepath.Join(w.tmpDir, PrefixOf(prefixByte)+".cdb")
		info, err := os.Stat(path)
		if err != nil {
			return model.Cdb64Manifest{}, fmt.Errorf("partitioned: stat partition %s: %w", PrefixOf(prefixByte), err)
		}
		m.Partitions = append(m.Partitions, model.PartitionInfo{
			Prefix:      PrefixOf(prefixByte),
			Location:    model.Location{Type: model.LocationFile, Filename: PrefixOf(prefixByte) + ".cdb"},
			RecordCount: w.counts[prefixByte],
			Size:        uint64(info.Size()),
		})
	}

	digest, err := blake3ManifestDigest(w.tmpDir, m.Partitions)
	if err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: digest partitions: %w", err)
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata["blake3"] = digest

	if err := os.Rename(w.tmpDir, w.targetDir); err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: rename into place: %w", err)
	}

	manifestBytes, err := EncodeManifest(m)
	if err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.targetDir, "manifest.json"), manifestBytes, 0o644); err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: write manifest: %w", err)
	}

	return m, nil
}

// blake3ManifestDigest hashes the concatenation of every partition file
// in prefix order, giving manifest.json an optional "blake3" digest
// clients can use to verify the whole partition set's integrity
// without individually checksumming each .cdb file.
func blake3ManifestDigest(dir string, partitions []model.PartitionInfo) (string, error) {
	sorted := make([]model.PartitionInfo, len(partitions))
	copy(sorted, partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Prefix < sorted[j].Prefix })

	h := blake3.New(32, nil)
	for _, p := range sorted {
		f, err := os.Open(filepath.Join(dir, p.Location.Filename))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Abort removes the temp directory without producing the target.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	for _, pw := range w.writers {
		pw.Abort()
	}
	return os.RemoveAll(w.tmpDir)
}
