package model

import (
	"time"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
)

// Source identifies where a Chunk's bytes came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourcePeer        Source = "peer"
	SourceTrustedNode Source = "trusted-node"
	SourceS3          Source = "s3"
	SourceGateway     Source = "gateway"
)

// Chunk is a single Merkle-verified data chunk fetched from a peer, the
// trusted node, or the local cache.
type Chunk struct {
	Data       []byte
	DataPath   []byte
	TxPath     []byte // optional
	DataRoot   id.ID
	DataSize   uint64
	Offset     uint64 // relative within tx data
	Hash       [32]byte
	Source     Source
	SourceHost string // optional
}

// TxBoundary locates a transaction's data within the weave. WeaveOffset
// is the inclusive end of the tx's data in the weave.
type TxBoundary struct {
	ID         id.ID
	HasID      bool // false when derived from a validated tx_path only
	DataRoot   id.ID
	DataSize   uint64
	WeaveOffset uint64
}

// TxDataStart returns the first weave offset occupied by this tx's data.
func (b TxBoundary) TxDataStart() uint64 {
	return b.WeaveOffset - b.DataSize + 1
}

// Block is the subset of block fields this core needs to resolve a
// weave offset to the transaction that owns it.
type Block struct {
	IndepHash id.ID
	Height    uint64
	TxRoot    id.ID
	WeaveSize uint64
	Txs       []id.ID
}

// Peer is a weighted peer URL. Weight is a value copied from one
// category; the peer manager keeps weights per category, since the same
// URL can carry different weights in different categories.
type Peer struct {
	URL    string
	Weight uint32 // [1,100]
}

// LocationType identifies how a CDB64 partition's bytes are stored.
type LocationType string

const (
	LocationFile                 LocationType = "file"
	LocationHTTP                 LocationType = "http"
	LocationLargeObjectID        LocationType = "arweave-id"
	LocationLargeObjectByteRange LocationType = "arweave-byte-range"
)

// Location is a CDB64 partition's storage location: exactly one of the
// fields below is populated, selected by Type.
type Location struct {
	Type LocationType

	Filename string // file
	URL      string // http

	LargeObjectID string // arweave-id

	RootTxID             id.ID  // arweave-byte-range
	DataOffsetInRootTx    uint64 // arweave-byte-range
}

// PartitionInfo describes one partition in a Cdb64Manifest.
type PartitionInfo struct {
	Prefix      string // 2 hex chars, "00".."ff"
	Location    Location
	RecordCount uint64
	Size        uint64
}

// Cdb64Manifest is the manifest.json shape describing a partitioned
// CDB64 index: its partitions, their record counts, and an optional
// integrity digest over the whole set.
type Cdb64Manifest struct {
	Version      int
	CreatedAt    time.Time
	TotalRecords uint64
	Metadata     map[string]string
	Partitions   []PartitionInfo
}

// ChunkRetrievalResult is the outcome of a chunk retrieval: either a
// cache hit or a freshly resolved boundary fetch. Callers should check
// IsCacheHit before reading TxID/HasTxID, which are only meaningful for
// a boundary fetch.
type ChunkRetrievalResult struct {
	isCacheHit bool

	Chunk          Chunk
	TxID           id.ID
	HasTxID        bool
	DataRoot       id.ID
	DataSize       uint64
	WeaveOffset    uint64
	RelativeOffset uint64
	TxDataStart    uint64
}

func NewCacheHitResult(chunk Chunk, dataRoot id.ID, dataSize, weaveOffset, relativeOffset, txDataStart uint64) ChunkRetrievalResult {
	return ChunkRetrievalResult{
		isCacheHit:     true,
		Chunk:          chunk,
		DataRoot:       dataRoot,
		DataSize:       dataSize,
		WeaveOffset:    weaveOffset,
		RelativeOffset: relativeOffset,
		TxDataStart:    txDataStart,
	}
}

func NewBoundaryFetchResult(chunk Chunk, txID id.ID, hasTxID bool, dataRoot id.ID, dataSize, weaveOffset, relativeOffset, txDataStart uint64) ChunkRetrievalResult {
	return ChunkRetrievalResult{
		isCacheHit:     false,
		Chunk:          chunk,
		TxID:           txID,
		HasTxID:        hasTxID,
		DataRoot:       dataRoot,
		DataSize:       dataSize,
		WeaveOffset:    weaveOffset,
		RelativeOffset: relativeOffset,
		TxDataStart:    txDataStart,
	}
}

func (r ChunkRetrievalResult) IsCacheHit() bool { return r.isCacheHit }
