package datacache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

type fakeAttributes struct {
	attrs map[id.ID]Attributes
}

func (f fakeAttributes) GetAttributes(ctx context.Context, contentID id.ID) (Attributes, bool, error) {
	a, ok := f.attrs[contentID]
	return a, ok, nil
}

type fakeContiguousStore struct {
	data map[[32]byte][]byte
	puts int
}

func (f *fakeContiguousStore) Get(ctx context.Context, hash [32]byte, region *Region) (io.ReadCloser, bool, error) {
	d, ok := f.data[hash]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(d)), true, nil
}

func (f *fakeContiguousStore) Put(ctx context.Context, hash [32]byte, size uint64) (CacheWriter, error) {
	f.puts++
	return &fakeCacheWriter{store: f, hash: hash}, nil
}

type fakeCacheWriter struct {
	store *fakeContiguousStore
	hash  [32]byte
	buf   bytes.Buffer
}

func (w *fakeCacheWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeCacheWriter) Commit() error {
	if w.store.data == nil {
		w.store.data = make(map[[32]byte][]byte)
	}
	w.store.data[w.hash] = w.buf.Bytes()
	return nil
}
func (w *fakeCacheWriter) Abort() error { return nil }

type fakeSource struct {
	name        string
	trusted     bool
	data        []byte
	hash        [32]byte
	contentType string
	err         error
}

func (s fakeSource) Name() string    { return s.name }
func (s fakeSource) Trusted() bool   { return s.trusted }
func (s fakeSource) GetData(ctx context.Context, contentID id.ID, region *Region) (io.ReadCloser, uint64, [32]byte, bool, string, error) {
	if s.err != nil {
		return nil, 0, [32]byte{}, false, "", s.err
	}
	return io.NopCloser(bytes.NewReader(s.data)), uint64(len(s.data)), s.hash, true, s.contentType, nil
}

func idOf(b byte) id.ID {
	var out id.ID
	out[0] = b
	return out
}

func TestContiguousStoreHit(t *testing.T) {
	contentID := idOf(1)
	hash := [32]byte{0xAB}
	store := &fakeContiguousStore{data: map[[32]byte][]byte{hash: []byte("cached bytes")}}

	c := New(Config{
		Attributes: fakeAttributes{attrs: map[id.ID]Attributes{
			contentID: {Hash: hash, HasHash: true, Size: 12},
		}},
		Contiguous: store,
	})

	result, err := c.GetData(context.Background(), contentID, RequestAttrs{}, nil)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !result.Cached || !result.Verified || !result.Trusted {
		t.Fatalf("expected cached/verified/trusted hit, got %+v", result)
	}
	got, _ := io.ReadAll(result.Stream)
	if string(got) != "cached bytes" {
		t.Fatalf("unexpected body: %q", got)
	}
	if result.RequestAttrs.Hops != 1 {
		t.Fatalf("expected hops incremented to 1, got %d", result.RequestAttrs.Hops)
	}
}

func TestSequentialFallbackTeesTrustedHitToCache(t *testing.T) {
	contentID := idOf(2)
	hash := [32]byte{0xCD}
	store := &fakeContiguousStore{}

	c := New(Config{
		Attributes: fakeAttributes{attrs: map[id.ID]Attributes{}},
		Contiguous: store,
		Sources: []ContiguousDataSource{
			fakeSource{name: "gateway", trusted: true, data: []byte("fresh bytes"), hash: hash},
		},
	})

	result, err := c.GetData(context.Background(), contentID, RequestAttrs{}, nil)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !result.Trusted {
		t.Fatal("expected trusted source result")
	}
	got, _ := io.ReadAll(result.Stream)
	if string(got) != "fresh bytes" {
		t.Fatalf("unexpected body: %q", got)
	}
	if store.puts != 1 {
		t.Fatalf("expected exactly one cache write, got %d", store.puts)
	}
	if store.data[hash] == nil || string(store.data[hash]) != "fresh bytes" {
		t.Fatalf("expected committed cache entry, got %v", store.data[hash])
	}
}

func TestUntrustedSourceIsNotCached(t *testing.T) {
	contentID := idOf(3)
	store := &fakeContiguousStore{}

	c := New(Config{
		Attributes: fakeAttributes{attrs: map[id.ID]Attributes{}},
		Contiguous: store,
		Sources: []ContiguousDataSource{
			fakeSource{name: "peer", trusted: false, data: []byte("untrusted bytes")},
		},
	})

	result, err := c.GetData(context.Background(), contentID, RequestAttrs{}, nil)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if result.Cached {
		t.Fatal("expected an untrusted source result not to be cached")
	}
	if store.puts != 0 {
		t.Fatalf("expected no cache writes, got %d", store.puts)
	}
}

func TestFirstSourceErrorFallsThroughToNext(t *testing.T) {
	contentID := idOf(4)

	c := New(Config{
		Attributes: fakeAttributes{attrs: map[id.ID]Attributes{}},
		Sources: []ContiguousDataSource{
			fakeSource{name: "broken", err: errors.New("network error")},
			fakeSource{name: "backup", trusted: true, data: []byte("backup bytes")},
		},
	})

	result, err := c.GetData(context.Background(), contentID, RequestAttrs{}, nil)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	got, _ := io.ReadAll(result.Stream)
	if string(got) != "backup bytes" {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestAllSourcesExhaustedIsNotFound(t *testing.T) {
	contentID := idOf(5)
	c := New(Config{
		Attributes: fakeAttributes{attrs: map[id.ID]Attributes{}},
		Sources: []ContiguousDataSource{
			fakeSource{name: "a", err: errors.New("fail a")},
			fakeSource{name: "b", err: errors.New("fail b")},
		},
	})

	_, err := c.GetData(context.Background(), contentID, RequestAttrs{}, nil)
	if !model.Is(err, model.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
