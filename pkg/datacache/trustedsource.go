package datacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
)

// TrustedGatewaySource is the lowest-priority fallback
// ContiguousDataSource: the trusted node's own content endpoint,
// fetched over plain HTTP GET with bounded retry on 5xx/429. It is
// always Trusted(), since the trusted node is an authoritative source
// whose bytes may be cached without independent hash verification.
type TrustedGatewaySource struct {
	baseURL string
	client  *http.Client
}

func NewTrustedGatewaySource(baseURL string, client *http.Client) *TrustedGatewaySource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TrustedGatewaySource{baseURL: baseURL, client: client}
}

func (s *TrustedGatewaySource) Name() string  { return "trusted-gateway" }
func (s *TrustedGatewaySource) Trusted() bool { return true }

func (s *TrustedGatewaySource) GetData(ctx context.Context, contentID id.ID, region *Region) (io.ReadCloser, uint64, [32]byte, bool, string, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, contentID.String())

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if region != nil {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", region.Offset, region.Offset+region.Size-1))
		}
		r, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("datacache: trusted-gateway http do: %w", err)
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return fmt.Errorf("datacache: trusted-gateway retryable status %d", r.StatusCode)
		}
		if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusPartialContent {
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("datacache: trusted-gateway status %d for %s", r.StatusCode, url))
		}
		resp = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, 0, [32]byte{}, false, "", err
	}

	var size uint64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseUint(cl, 10, 64); err == nil {
			size = n
		}
	}
	// NFC-normalize the upstream Content-Type before it's persisted as
	// cache metadata, so equivalent values that differ only by Unicode
	// normalization form don't produce spurious cache misses.
	contentType := norm.NFC.String(resp.Header.Get("Content-Type"))
	return resp.Body, size, [32]byte{}, false, contentType, nil
}
