package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/datacache"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
	"github.com/ar-io/ar-io-node-sub005/pkg/retrieval"
)

type fakeBoundary struct {
	boundary *model.TxBoundary
}

func (f fakeBoundary) GetTxBoundary(ctx context.Context, offset uint64) (*model.TxBoundary, error) {
	return f.boundary, nil
}

type fakeFetcher struct {
	chunk *model.Chunk
}

func (f fakeFetcher) GetChunkByAny(ctx context.Context, offset uint64) (*model.Chunk, error) {
	return f.chunk, nil
}

func idOf(b byte) id.ID {
	var out id.ID
	out[0] = b
	return out
}

func TestHandleChunkDataServesBoundaryFetchBytes(t *testing.T) {
	dataRoot := idOf(0x01)
	chunk := &model.Chunk{Data: []byte("chunk payload"), Hash: [32]byte{0xAA}, Source: model.SourcePeer, SourceHost: "http://peer-a"}
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: fakeBoundary{boundary: &model.TxBoundary{DataRoot: dataRoot, DataSize: 1000, WeaveOffset: 5000}},
		Fetcher:  fakeFetcher{chunk: chunk},
	})

	srv := newServer(Config{Retrieval: pipeline})

	req := httptest.NewRequest("GET", "/chunk/4500/data", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "chunk payload" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-AR-IO-Chunk-Source") != "peer" {
		t.Fatalf("X-AR-IO-Chunk-Source = %q", rec.Header().Get("X-AR-IO-Chunk-Source"))
	}
	if rec.Header().Get("X-AR-IO-Chunk-Host") != "http://peer-a" {
		t.Fatalf("X-AR-IO-Chunk-Host = %q", rec.Header().Get("X-AR-IO-Chunk-Host"))
	}
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS for a boundary fetch", rec.Header().Get("X-Cache"))
	}
}

func TestHandleChunkJSONEnvelope(t *testing.T) {
	dataRoot := idOf(0x02)
	chunk := &model.Chunk{Data: []byte("x"), DataPath: []byte("path-bytes"), Source: model.SourcePeer}
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: fakeBoundary{boundary: &model.TxBoundary{DataRoot: dataRoot, DataSize: 1000, WeaveOffset: 5000}},
		Fetcher:  fakeFetcher{chunk: chunk},
	})
	srv := newServer(Config{Retrieval: pipeline})

	req := httptest.NewRequest("GET", "/chunk/4500", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Chunk    string `json:"chunk"`
		DataPath string `json:"data_path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DataPath != base64.RawURLEncoding.EncodeToString([]byte("path-bytes")) {
		t.Fatalf("data_path = %q", body.DataPath)
	}
}

func TestHandleChunkNotFoundReturns404(t *testing.T) {
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: boundaryErrSource{},
	})
	srv := newServer(Config{Retrieval: pipeline})

	req := httptest.NewRequest("GET", "/chunk/1/data", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

type boundaryErrSource struct{}

func (boundaryErrSource) GetTxBoundary(ctx context.Context, offset uint64) (*model.TxBoundary, error) {
	return nil, model.NewNotFoundError("no boundary")
}

type fakeLimiter struct {
	grant uint64
}

func (l fakeLimiter) Consume(ctx context.Context, key string, n uint64) (uint64, error) {
	return l.grant, nil
}

func TestRateLimitedRejectsWhenBucketEmpty(t *testing.T) {
	dataRoot := idOf(0x03)
	chunk := &model.Chunk{Data: []byte("x"), Source: model.SourcePeer}
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: fakeBoundary{boundary: &model.TxBoundary{DataRoot: dataRoot, DataSize: 1000, WeaveOffset: 5000}},
		Fetcher:  fakeFetcher{chunk: chunk},
	})
	srv := newServer(Config{Retrieval: pipeline, RateLimit: fakeLimiter{grant: 0}})
	handler := srv.rateLimited(srv.mux)

	req := httptest.NewRequest("GET", "/chunk/4500/data", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 429 {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRateLimitedAllowsWhenBucketHasTokens(t *testing.T) {
	dataRoot := idOf(0x04)
	chunk := &model.Chunk{Data: []byte("x"), Source: model.SourcePeer}
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: fakeBoundary{boundary: &model.TxBoundary{DataRoot: dataRoot, DataSize: 1000, WeaveOffset: 5000}},
		Fetcher:  fakeFetcher{chunk: chunk},
	})
	srv := newServer(Config{Retrieval: pipeline, RateLimit: fakeLimiter{grant: 1}})
	handler := srv.rateLimited(srv.mux)

	req := httptest.NewRequest("GET", "/chunk/4500/data", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type fakeAttrSource struct{}

func (fakeAttrSource) GetAttributes(ctx context.Context, contentID id.ID) (datacache.Attributes, bool, error) {
	return datacache.Attributes{}, false, nil
}

type fakeRawSource struct {
	data []byte
	hash [32]byte
}

func (s fakeRawSource) Name() string  { return "test-source" }
func (s fakeRawSource) Trusted() bool { return true }
func (s fakeRawSource) GetData(ctx context.Context, contentID id.ID, region *datacache.Region) (io.ReadCloser, uint64, [32]byte, bool, string, error) {
	return io.NopCloser(bytes.NewReader(s.data)), uint64(len(s.data)), s.hash, true, "text/plain", nil
}

func TestHandleRawServesContentBytes(t *testing.T) {
	cache := datacache.New(datacache.Config{
		Attributes: fakeAttrSource{},
		Sources:    []datacache.ContiguousDataSource{fakeRawSource{data: []byte("raw content bytes"), hash: [32]byte{0xCC}}},
	})
	srv := newServer(Config{DataCache: cache})

	req := httptest.NewRequest("GET", "/raw/"+idOf(0x05).String(), nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "raw content bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag to be set")
	}

	req2 := httptest.NewRequest("GET", "/raw/"+idOf(0x05).String(), nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec2, req2)
	if rec2.Code != 304 {
		t.Fatalf("conditional GET status = %d, want 304", rec2.Code)
	}
}
