// Package partitioned implements a 256-way prefix-partitioned CDB64
// index: a manifest.json enumerates present partitions, each lazily
// opened on first access and de-duplicated across concurrent openers.
package partitioned

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// wireManifest is manifest.json's on-disk shape.
type wireManifest struct {
	Version      int               `json:"version"`
	CreatedAt    string            `json:"createdAt"`
	TotalRecords uint64            `json:"totalRecords"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Partitions   []wirePartition   `json:"partitions"`
}

type wirePartition struct {
	Prefix      string        `json:"prefix"`
	Location    wireLocation  `json:"location"`
	RecordCount uint64        `json:"recordCount"`
	Size        uint64        `json:"size"`
}

type wireLocation struct {
	Type               string `json:"type"`
	Filename           string `json:"filename,omitempty"`
	URL                string `json:"url,omitempty"`
	ID                 string `json:"id,omitempty"`
	RootTxID           string `json:"rootTxId,omitempty"`
	DataOffsetInRootTx uint64 `json:"dataOffsetInRootTx,omitempty"`
}

// EncodeManifest serializes m to its manifest.json form.
func EncodeManifest(m model.Cdb64Manifest) ([]byte, error) {
	w := wireManifest{
		Version:      m.Version,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		TotalRecords: m.TotalRecords,
		Metadata:     m.Metadata,
	}
	for _, p := range m.Partitions {
		wp := wirePartition{Prefix: p.Prefix, RecordCount: p.RecordCount, Size: p.Size}
		switch p.Location.Type {
		case model.LocationFile:
			wp.Location = wireLocation{Type: "file", Filename: p.Location.Filename}
		case model.LocationHTTP:
			wp.Location = wireLocation{Type: "http", URL: p.Location.URL}
		case model.LocationLargeObjectID:
			wp.Location = wireLocation{Type: "arweave-id", ID: p.Location.LargeObjectID}
		case model.LocationLargeObjectByteRange:
			wp.Location = wireLocation{
				Type:               "arweave-byte-range",
				RootTxID:           p.Location.RootTxID.String(),
				DataOffsetInRootTx: p.Location.DataOffsetInRootTx,
			}
		default:
			return nil, fmt.Errorf("partitioned: unknown location type %q", p.Location.Type)
		}
		w.Partitions = append(w.Partitions, wp)
	}
	sort.Slice(w.Partitions, func(i, j int) bool { return w.Partitions[i].Prefix < w.Partitions[j].Prefix })
	return json.MarshalIndent(w, "", "  ")
}

// DecodeManifest parses a manifest.json document.
func DecodeManifest(data []byte) (model.Cdb64Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: decode manifest: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return model.Cdb64Manifest{}, fmt.Errorf("partitioned: invalid createdAt: %w", err)
	}

	m := model.Cdb64Manifest{
		Version:      w.Version,
		CreatedAt:    createdAt,
		TotalRecords: w.TotalRecords,
		Metadata:     w.Metadata,
	}
	for _, wp := range w.Partitions {
		if _, err := hex.DecodeString(wp.Prefix); err != nil || len(wp.Prefix) != 2 {
			return model.Cdb64Manifest{}, fmt.Errorf("partitioned: invalid prefix %q", wp.Prefix)
		}
		pi := model.PartitionInfo{Prefix: wp.Prefix, RecordCount: wp.RecordCount, Size: wp.Size}
		switch wp.Location.Type {
		case "file":
			pi.Location = model.Location{Type: model.LocationFile, Filename: wp.Location.Filename}
		case "http":
			pi.Location = model.Location{Type: model.LocationHTTP, URL: wp.Location.URL}
		case "arweave-id":
			pi.Location = model.Location{Type: model.LocationLargeObjectID, LargeObjectID: wp.Location.ID}
		case "arweave-byte-range":
			rootID, err := id.Parse(wp.Location.RootTxID)
			if err != nil {
				return model.Cdb64Manifest{}, fmt.Errorf("partitioned: invalid rootTxId: %w", err)
			}
			pi.Location = model.Location{
				Type:               model.LocationLargeObjectByteRange,
				RootTxID:           rootID,
				DataOffsetInRootTx: wp.Location.DataOffsetInRootTx,
			}
		default:
			return model.Cdb64Manifest{}, fmt.Errorf("%w: unknown location type %q", model.NewConfigurationError("unknown partition location type", nil), wp.Location.Type)
		}
		m.Partitions = append(m.Partitions, pi)
	}
	sort.Slice(m.Partitions, func(i, j int) bool { return m.Partitions[i].Prefix < m.Partitions[j].Prefix })
	return m, nil
}

// PrefixByte returns the single byte a 2-hex-char prefix represents.
func PrefixByte(prefix string) (byte, error) {
	b, err := hex.DecodeString(prefix)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("partitioned: invalid prefix %q", prefix)
	}
	return b[0], nil
}

// PrefixOf returns the 2-hex-char prefix for a key's first byte.
func PrefixOf(b byte) string {
	return hex.EncodeToString([]byte{b})
}
