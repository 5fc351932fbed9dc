package byterange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	// MaxConcurrent bounds in-flight requests via a semaphore; 0 disables
	// the limit.
	MaxConcurrent int
	// AcquireTimeout bounds how long Read waits for a semaphore slot.
	AcquireTimeout time.Duration
	// MaxElapsedTime bounds the cenkalti/backoff retry budget for 5xx/429.
	MaxElapsedTime time.Duration
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		MaxConcurrent:  64,
		AcquireTimeout: 5 * time.Second,
		MaxElapsedTime: 10 * time.Second,
	}
}

// HTTPSource issues Range requests against a fixed URL, retrying 5xx and
// 429 responses with bounded exponential backoff, and bounding
// concurrent in-flight requests with a semaphore.
type HTTPSource struct {
	url    string
	client *http.Client
	cfg    HTTPConfig

	sem    chan struct{}
	closed sync.Mutex
	isDone bool
}

func NewHTTPSource(url string, client *http.Client, cfg HTTPConfig) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return &HTTPSource{url: url, client: client, cfg: cfg, sem: sem}
}

func (s *HTTPSource) acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("byterange: http source concurrency limit: %w", ctx.Err())
	}
}

func (s *HTTPSource) release() {
	if s.sem == nil {
		return
	}
	<-s.sem
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

func (s *HTTPSource) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var result []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("byterange: build request: %w", err))
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("byterange: http do: %w", err)
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp.StatusCode) {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("byterange: retryable status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return backoff.Permanent(fmt.Errorf("byterange: expected 206, got %d: %s", resp.StatusCode, body))
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("byterange: read body: %w", err)
		}
		if uint64(len(buf)) != size {
			return backoff.Permanent(fmt.Errorf("byterange: short read: got %d bytes, want %d", len(buf), size))
		}
		result = buf
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.MaxElapsedTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *HTTPSource) Close() error {
	s.closed.Lock()
	defer s.closed.Unlock()
	s.isDone = true
	return nil
}

func (s *HTTPSource) IsOpen() bool {
	s.closed.Lock()
	defer s.closed.Unlock()
	return !s.isDone
}
