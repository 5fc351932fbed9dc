package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
)

// wireBlock/wireTx mirror the trusted node's plain-JSON surface for
// blocks and transaction offsets. Only the fields this client needs
// are decoded; everything else is ignored.
type wireBlock struct {
	IndepHash string   `json:"indep_hash"`
	Height    uint64   `json:"height"`
	TxRoot    string   `json:"tx_root"`
	WeaveSize uint64   `json:"weave_size,string"`
	Txs       []string `json:"txs"`
}

type wireTxOffset struct {
	Offset struct {
		Size        uint64 `json:"size,string"`
		WeaveOffset uint64 `json:"offset,string"`
	} `json:"offset"`
}

type wireTx struct {
	DataRoot string `json:"data_root"`
	DataSize uint64 `json:"data_size,string"`
}

// NewHTTPNodeClient builds the production NodeClient, speaking the
// trusted node's JSON-over-HTTP surface with bounded retry on
// 5xx/429, in the style of pkg/byterange's HTTPSource
// (cenkalti/backoff/v4).
func NewHTTPNodeClient(client *http.Client) *HTTPNodeClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNodeClient{HTTP: client}
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func (c *HTTPNodeClient) doJSON(ctx context.Context, url string, out interface{}) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(model.NewNotFoundError("chain-http: " + url))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("chain-http: retryable status %d from %s", resp.StatusCode, url)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("chain-http: status %d from %s", resp.StatusCode, url))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

func (c *HTTPNodeClient) GetBlockByHeight(ctx context.Context, baseURL string, height uint64) (*model.Block, error) {
	var w wireBlock
	if err := c.doJSON(ctx, fmt.Sprintf("%s/block/height/%d", baseURL, height), &w); err != nil {
		return nil, err
	}
	return wireBlockToModel(w)
}

func (c *HTTPNodeClient) GetBlockByHash(ctx context.Context, baseURL string, hash id.ID) (*model.Block, error) {
	var w wireBlock
	if err := c.doJSON(ctx, fmt.Sprintf("%s/block/hash/%s", baseURL, hash.String()), &w); err != nil {
		return nil, err
	}
	return wireBlockToModel(w)
}

func wireBlockToModel(w wireBlock) (*model.Block, error) {
	indepHash, err := id.Parse(w.IndepHash)
	if err != nil {
		return nil, model.NewCorruptionError("chain-http: invalid indep_hash", err)
	}
	txRoot, _ := id.Parse(w.TxRoot)
	txs := make([]id.ID, 0, len(w.Txs))
	for _, t := range w.Txs {
		parsed, err := id.Parse(t)
		if err != nil {
			return nil, model.NewCorruptionError("chain-http: invalid tx id", err)
		}
		txs = append(txs, parsed)
	}
	return &model.Block{
		IndepHash: indepHash,
		Height:    w.Height,
		TxRoot:    txRoot,
		WeaveSize: w.WeaveSize,
		Txs:       txs,
	}, nil
}

func (c *HTTPNodeClient) GetTransaction(ctx context.Context, baseURL string, txID id.ID) (*model.TxBoundary, error) {
	var w wireTx
	if err := c.doJSON(ctx, fmt.Sprintf("%s/tx/%s", baseURL, txID.String()), &w); err != nil {
		return nil, err
	}
	dataRoot, err := id.Parse(w.DataRoot)
	if err != nil {
		return nil, model.NewCorruptionError("chain-http: invalid data_root", err)
	}
	return &model.TxBoundary{ID: txID, HasID: true, DataRoot: dataRoot, DataSize: w.DataSize}, nil
}

func (c *HTTPNodeClient) GetTxOffset(ctx context.Context, baseURL string, txID id.ID) (*model.TxBoundary, error) {
	var w wireTxOffset
	if err := c.doJSON(ctx, fmt.Sprintf("%s/tx/%s/offset", baseURL, txID.String()), &w); err != nil {
		return nil, err
	}
	return &model.TxBoundary{
		ID:          txID,
		HasID:       true,
		DataSize:    w.Offset.Size,
		WeaveOffset: w.Offset.WeaveOffset,
	}, nil
}

func (c *HTTPNodeClient) GetChunk(ctx context.Context, baseURL string, absoluteOffset uint64) (*model.Chunk, error) {
	var w struct {
		Chunk    string `json:"chunk"`
		DataPath string `json:"data_path"`
		TxPath   string `json:"tx_path"`
	}
	if err := c.doJSON(ctx, fmt.Sprintf("%s/chunk/%d", baseURL, absoluteOffset), &w); err != nil {
		return nil, err
	}
	data, err := decodeBase64URL(w.Chunk)
	if err != nil {
		return nil, model.NewCorruptionError("chain-http: invalid chunk body", err)
	}
	dataPath, err := decodeBase64URL(w.DataPath)
	if err != nil {
		return nil, model.NewCorruptionError("chain-http: invalid data_path", err)
	}
	var txPath []byte
	if w.TxPath != "" {
		txPath, err = decodeBase64URL(w.TxPath)
		if err != nil {
			return nil, model.NewCorruptionError("chain-http: invalid tx_path", err)
		}
	}
	return &model.Chunk{Data: data, DataPath: dataPath, TxPath: txPath, Source: model.SourcePeer}, nil
}
