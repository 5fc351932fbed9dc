package partitioned

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ar-io/ar-io-node-sub005/pkg/byterange"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

type slotState int

const (
	slotUnopened slotState = iota
	slotAbsent
	slotOpen
)

type slot struct {
	state  slotState
	reader *innerReader
}

// Reader is a CDB64 index split into 256 prefix-addressed partitions,
// each opened lazily on first access.
type Reader struct {
	mu    sync.Mutex
	slots [256]slot

	manifest  model.Cdb64Manifest
	baseDir   string // for "file" locations; required if any partition uses one
	httpCli   *http.Client
	largeObj  byterange.ContiguousDataSource // for "arweave-*" locations

	openGroup singleflight.Group
	log       zerolog.Logger
}

// innerReader is the type of an opened partition's own CDB64 reader
// (cdb64.Reader, via the cdbReader alias in inner.go), as distinct from
// this package's partitioned Reader.
type innerReader = cdbReader

// Config configures a partitioned Reader.
type Config struct {
	BaseDir     string
	HTTPClient  *http.Client
	LargeObject byterange.ContiguousDataSource
	Logger      zerolog.Logger
}

// NewReader constructs a partitioned Reader for manifest m. Partition
// slots start unopened unless m has no entry for a prefix, in which
// case the slot starts absent and no I/O is ever attempted for it.
func NewReader(m model.Cdb64Manifest, cfg Config) *Reader {
	r := &Reader{
		manifest: m,
		baseDir:  cfg.BaseDir,
		httpCli:  cfg.HTTPClient,
		largeObj: cfg.LargeObject,
		log:      cfg.Logger,
	}
	if r.httpCli == nil {
		r.httpCli = http.DefaultClient
	}

	present := make(map[byte]model.PartitionInfo, len(m.Partitions))
	for _, p := range m.Partitions {
		b, err := PrefixByte(p.Prefix)
		if err != nil {
			continue
		}
		present[b] = p
	}
	for b := 0; b < 256; b++ {
		if _, ok := present[byte(b)]; !ok {
			r.slots[b].state = slotAbsent
		}
	}
	return r
}

// Get routes key to the partition for key[0].
func (r *Reader) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, model.NewValidationError("empty key", nil)
	}
	prefixByte := key[0]

	r.mu.Lock()
	s := r.slots[prefixByte]
	r.mu.Unlock()

	switch s.state {
	case slotAbsent:
		return nil, false, nil
	case slotOpen:
		return r.delegateGet(ctx, s.reader, key)
	}

	opened, err, _ := r.openGroup.Do(PrefixOf(prefixByte), func() (interface{}, error) {
		return r.openPartition(ctx, prefixByte)
	})
	if err != nil {
		if model.Is(err, model.KindConfiguration) {
			return nil, false, err
		}
		r.log.Debug().Err(err).Str("prefix", PrefixOf(prefixByte)).Msg("partition open failed, treating as absent")
		r.mu.Lock()
		r.slots[prefixByte] = slot{state: slotAbsent}
		r.mu.Unlock()
		return nil, false, nil
	}

	reader := opened.(*innerReader)
	r.mu.Lock()
	r.slots[prefixByte] = slot{state: slotOpen, reader: reader}
	r.mu.Unlock()

	return r.delegateGet(ctx, reader, key)
}

func (r *Reader) delegateGet(ctx context.Context, reader *innerReader, key []byte) ([]byte, bool, error) {
	v, ok, err := reader.Get(ctx, key)
	if err != nil {
		r.log.Debug().Err(err).Msg("partition lookup failed, treating as not-found")
		return nil, false, nil
	}
	return v, ok, nil
}

func (r *Reader) openPartition(ctx context.Context, prefixByte byte) (*innerReader, error) {
	var info model.PartitionInfo
	found := false
	for _, p := range r.manifest.Partitions {
		if b, err := PrefixByte(p.Prefix); err == nil && b == prefixByte {
			info = p
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("partitioned: no manifest entry for prefix %s", PrefixOf(prefixByte))
	}

	var src byterange.Source
	switch info.Location.Type {
	case model.LocationFile:
		if r.baseDir == "" {
			return nil, model.NewConfigurationError("partition uses a file location but no base directory is configured", nil)
		}
		f, err := byterange.OpenFile(filepath.Join(r.baseDir, info.Location.Filename))
		if err != nil {
			return nil, fmt.Errorf("partitioned: open file partition %s: %w", info.Prefix, err)
		}
		src = f
	case model.LocationHTTP:
		src = byterange.NewHTTPSource(info.Location.URL, r.httpCli, byterange.DefaultHTTPConfig())
	case model.LocationLargeObjectID:
		if r.largeObj == nil {
			return nil, model.NewConfigurationError("partition uses a large-object location but no large-object source is configured", nil)
		}
		src = byterange.NewLargeObjectSource(r.largeObj, info.Location.LargeObjectID, 0)
	case model.LocationLargeObjectByteRange:
		if r.largeObj == nil {
			return nil, model.NewConfigurationError("partition uses a large-object location but no large-object source is configured", nil)
		}
		src = byterange.NewLargeObjectSource(r.largeObj, info.Location.RootTxID.String(), info.Location.DataOffsetInRootTx)
	default:
		return nil, model.NewConfigurationError(fmt.Sprintf("unknown partition location type %q", info.Location.Type), nil)
	}

	caching, err := byterange.NewCachingSource(src, byterange.CachingConfig{
		HeaderSize:   4096,
		RegionCacheN: 64,
		OwnsSource:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("partitioned: wrap caching source for %s: %w", info.Prefix, err)
	}

	return newCdbReader(caching), nil
}

// OpenPartitionCount reports how many partition slots are currently
// open, for scenario S6's monotonic-until-close assertion.
func (r *Reader) OpenPartitionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.state == slotOpen {
			n++
		}
	}
	return n
}

// Close closes every open partition reader and resets slots to their
// pre-open state.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	present := make(map[byte]bool, len(r.manifest.Partitions))
	for _, p := range r.manifest.Partitions {
		if b, err := PrefixByte(p.Prefix); err == nil {
			present[b] = true
		}
	}
	for b := 0; b < 256; b++ {
		s := r.slots[b]
		if s.state == slotOpen {
			if err := s.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if present[byte(b)] {
			r.slots[b] = slot{state: slotUnopened}
		} else {
			r.slots[b] = slot{state: slotAbsent}
		}
	}
	r.openGroup = singleflight.Group{}
	return firstErr
}
