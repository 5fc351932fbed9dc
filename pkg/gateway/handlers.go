package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/datacache"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

const originHeader = "ar-io-node-sub005"

// server implements the gateway's HTTP surface over the wired
// components.
type server struct {
	cfg Config
	mux *http.ServeMux
}

func newServer(cfg Config) *server {
	s := &server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /chunk/{offset}/data", s.handleChunkData)
	s.mux.HandleFunc("GET /chunk/{offset}", s.handleChunk)
	s.mux.HandleFunc("GET /raw/{id}", s.handleRaw)
	s.mux.HandleFunc("GET /{id}/{path...}", s.handleByID)
	s.mux.HandleFunc("GET /{id}", s.handleByID)
	return s
}

func (s *server) run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: s.rateLimited(s.mux)}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	}
}

// rateLimited wraps next with a token-bucket check keyed by the
// client's remote address, one token per request. A nil RateLimit
// leaves requests unthrottled.
func (s *server) rateLimited(next http.Handler) http.Handler {
	if s.cfg.RateLimit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		granted, err := s.cfg.RateLimit.Consume(r.Context(), key, 1)
		if err != nil {
			http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
			return
		}
		if granted < 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleChunk serves the JSON chunk envelope for a single absolute
// offset.
func (s *server) handleChunk(w http.ResponseWriter, r *http.Request) {
	offset, err := parseOffset(r.PathValue("offset"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.cfg.Retrieval == nil {
		http.Error(w, "retrieval pipeline not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := s.cfg.Retrieval.RetrieveChunk(r.Context(), offset)
	if err != nil {
		writeChunkError(w, err)
		return
	}

	setChunkHeaders(w, result)

	body := struct {
		Chunk    string `json:"chunk"`
		DataPath string `json:"data_path"`
		TxPath   string `json:"tx_path,omitempty"`
	}{
		Chunk:    base64.RawURLEncoding.EncodeToString(result.Chunk.Data),
		DataPath: base64.RawURLEncoding.EncodeToString(result.Chunk.DataPath),
	}
	if len(result.Chunk.TxPath) > 0 {
		body.TxPath = base64.RawURLEncoding.EncodeToString(result.Chunk.TxPath)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// handleChunkData serves only the chunk's raw payload bytes.
func (s *server) handleChunkData(w http.ResponseWriter, r *http.Request) {
	offset, err := parseOffset(r.PathValue("offset"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.cfg.Retrieval == nil {
		http.Error(w, "retrieval pipeline not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := s.cfg.Retrieval.RetrieveChunk(r.Context(), offset)
	if err != nil {
		writeChunkError(w, err)
		return
	}

	setChunkHeaders(w, result)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(result.Chunk.Data)
}

// handleRaw serves a content item's bytes with no manifest-path
// resolution, via the read-through data cache.
func (s *server) handleRaw(w http.ResponseWriter, r *http.Request) {
	s.serveByID(w, r, r.PathValue("id"))
}

// handleByID is the catch-all `/{id}[/{path}]` route. Manifest-path
// resolution (walking an Arweave path manifest to a nested data item)
// is not implemented; a path segment is accepted but ignored, and the
// identified content item is served as-is.
func (s *server) handleByID(w http.ResponseWriter, r *http.Request) {
	s.serveByID(w, r, r.PathValue("id"))
}

func (s *server) serveByID(w http.ResponseWriter, r *http.Request, rawID string) {
	if s.cfg.DataCache == nil {
		http.Error(w, "data cache not configured", http.StatusServiceUnavailable)
		return
	}
	contentID, err := id.Parse(rawID)
	if err != nil {
		http.Error(w, "invalid id: "+err.Error(), http.StatusBadRequest)
		return
	}

	attrs := datacache.RequestAttrs{Origin: originHeader}
	if hops := r.Header.Get("X-AR-IO-Hops"); hops != "" {
		if n, err := strconv.Atoi(hops); err == nil {
			attrs.Hops = n
		}
	}

	result, err := s.cfg.DataCache.GetData(r.Context(), contentID, attrs, nil)
	if err != nil {
		writeDataCacheError(w, err)
		return
	}
	defer result.Stream.Close()

	w.Header().Set("X-AR-IO-Hops", strconv.Itoa(result.RequestAttrs.Hops))
	if result.RequestAttrs.Origin != "" {
		w.Header().Set("X-AR-IO-Origin", result.RequestAttrs.Origin)
	}
	w.Header().Set("X-AR-IO-Root-Transaction-Id", contentID.String())
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if result.HasHash {
		etag := `"` + base64.RawURLEncoding.EncodeToString(result.Hash[:]) + `"`
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if result.SourceContentType != "" {
		w.Header().Set("Content-Type", result.SourceContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatUint(result.Size, 10))
	}

	_, _ = io.Copy(w, result.Stream)
}

func setChunkHeaders(w http.ResponseWriter, result model.ChunkRetrievalResult) {
	w.Header().Set("X-AR-IO-Chunk-Source", string(result.Chunk.Source))
	if result.Chunk.SourceHost != "" {
		w.Header().Set("X-AR-IO-Chunk-Host", result.Chunk.SourceHost)
	}
	if result.IsCacheHit() {
		w.Header().Set("X-Cache", "HIT")
		etag := `"` + base64.RawURLEncoding.EncodeToString(result.Chunk.Hash[:]) + `"`
		w.Header().Set("ETag", etag)
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if result.HasTxID {
		w.Header().Set("X-AR-IO-Root-Transaction-Id", result.TxID.String())
	}
}

func parseOffset(raw string) (uint64, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", raw, err)
	}
	return n, nil
}

func writeChunkError(w http.ResponseWriter, err error) {
	switch {
	case model.Is(err, model.KindAborted):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case model.Is(err, model.KindNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeDataCacheError(w http.ResponseWriter, err error) {
	switch {
	case model.Is(err, model.KindAborted):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case model.Is(err, model.KindNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
