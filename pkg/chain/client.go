package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ar-io/ar-io-node-sub005/internal/id"
	"github.com/ar-io/ar-io-node-sub005/pkg/merkle"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
	"github.com/ar-io/ar-io-node-sub005/pkg/peer"
	"github.com/ar-io/ar-io-node-sub005/pkg/ruleset"
)

// NodeClient fetches blocks, transactions, and tx offsets from a single
// node (the trusted node, or a peer URL substituted in by the caller).
type NodeClient interface {
	GetBlockByHeight(ctx context.Context, baseURL string, height uint64) (*model.Block, error)
	GetBlockByHash(ctx context.Context, baseURL string, hash id.ID) (*model.Block, error)
	GetTransaction(ctx context.Context, baseURL string, txID id.ID) (*model.TxBoundary, error)
	GetTxOffset(ctx context.Context, baseURL string, txID id.ID) (*model.TxBoundary, error)
	GetChunk(ctx context.Context, baseURL string, absoluteOffset uint64) (*model.Chunk, error)
}

// Config configures a Client.
type Config struct {
	TrustedNodeURL string
	Node           NodeClient
	Peers          *peer.Manager
	BlockStore     *BlockStore
	TxStore        *TxStore

	BlockCacheSize int
	TxCacheSize    int
}

// Client is the composite chain client: it fetches
// Block/Transaction/TxOffset data from the trusted node, falling back
// to the chain peer pool's hosts when the trusted node errs, and
// maintains both an in-memory LRU and a write-through on-disk store so
// repeated lookups for the same block/tx avoid the network entirely.
type Client struct {
	node    NodeClient
	trusted string
	peers   *peer.Manager

	blocks *BlockStore
	txs    *TxStore

	blockByHeight *lru.Cache[uint64, *model.Block]
	blockByHash   *lru.Cache[id.ID, *model.Block]
	txByID        *lru.Cache[id.ID, *model.TxBoundary]
	txOffsetByID  *lru.Cache[id.ID, *model.TxBoundary]

	currentHeight uint64
	blocksByH     map[uint64]*model.Block // ascending-height cache used for find_tx_by_offset

	chunkGroup singleflight.Group
}

func defaultSize(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

func NewClient(cfg Config) (*Client, error) {
	blockByHeight, err := lru.New[uint64, *model.Block](defaultSize(cfg.BlockCacheSize))
	if err != nil {
		return nil, err
	}
	blockByHash, err := lru.New[id.ID, *model.Block](defaultSize(cfg.BlockCacheSize))
	if err != nil {
		return nil, err
	}
	txByID, err := lru.New[id.ID, *model.TxBoundary](defaultSize(cfg.TxCacheSize))
	if err != nil {
		return nil, err
	}
	txOffsetByID, err := lru.New[id.ID, *model.TxBoundary](defaultSize(cfg.TxCacheSize))
	if err != nil {
		return nil, err
	}

	return &Client{
		node:          cfg.Node,
		trusted:       cfg.TrustedNodeURL,
		peers:         cfg.Peers,
		blocks:        cfg.BlockStore,
		txs:           cfg.TxStore,
		blockByHeight: blockByHeight,
		blockByHash:   blockByHash,
		txByID:        txByID,
		txOffsetByID:  txOffsetByID,
		blocksByH:     make(map[uint64]*model.Block),
	}, nil
}

// candidateHosts returns the trusted node URL followed by up to n
// chain peers, for fallback fetch attempts.
func (c *Client) candidateHosts(n int) []string {
	hosts := []string{c.trusted}
	if c.peers != nil {
		hosts = append(hosts, c.peers.SelectPeers(peer.CategoryChain, n)...)
	}
	return hosts
}

// GetBlockByHeight fetches a block, trying the in-memory LRU, then the
// trusted node with peer fallback. The on-disk store is keyed by
// indep_hash, so it is written to here but not read.
func (c *Client) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, error) {
	if b, ok := c.blockByHeight.Get(height); ok {
		return b, nil
	}

	var fetched *model.Block
	var lastErr error
	for _, host := range c.candidateHosts(3) {
		b, err := c.node.GetBlockByHeight(ctx, host, height)
		if err == nil && b != nil {
			fetched = b
			if host != c.trusted && c.peers != nil {
				c.peers.ReportSuccess(peer.CategoryChain, host)
			}
			break
		}
		lastErr = err
		if host != c.trusted && c.peers != nil {
			c.peers.ReportFailure(peer.CategoryChain, host)
		}
	}
	if fetched == nil {
		if lastErr != nil {
			return nil, model.NewFetchError("block by height", "chain", lastErr)
		}
		return nil, model.NewNotFoundError(fmt.Sprintf("chain: block at height %d", height))
	}

	c.cacheBlock(fetched)
	return fetched, nil
}

// GetBlockByHash mirrors GetBlockByHeight, keyed by indep_hash.
func (c *Client) GetBlockByHash(ctx context.Context, hash id.ID) (*model.Block, error) {
	if b, ok := c.blockByHash.Get(hash); ok {
		return b, nil
	}
	if c.blocks != nil {
		if b, err := c.blocks.Get(hash); err == nil && b != nil {
			c.blockByHash.Add(hash, b)
			c.blockByHeight.Add(b.Height, b)
			return b, nil
		}
	}

	var fetched *model.Block
	var lastErr error
	for _, host := range c.candidateHosts(3) {
		b, err := c.node.GetBlockByHash(ctx, host, hash)
		if err == nil && b != nil {
			fetched = b
			break
		}
		lastErr = err
	}
	if fetched == nil {
		if lastErr != nil {
			return nil, model.NewFetchError("block by hash", "chain", lastErr)
		}
		return nil, model.NewNotFoundError("chain: block " + hash.String())
	}
	c.cacheBlock(fetched)
	return fetched, nil
}

func (c *Client) cacheBlock(b *model.Block) {
	c.blockByHeight.Add(b.Height, b)
	c.blockByHash.Add(b.IndepHash, b)
	c.blocksByH[b.Height] = b
	if b.Height > c.currentHeight {
		c.currentHeight = b.Height
	}
	if c.blocks != nil {
		_ = c.blocks.Put(b)
	}
}

// GetTransaction resolves a tx's boundary (data_root/data_size), trying
// the LRU, on-disk store, then the trusted node with peer fallback.
func (c *Client) GetTransaction(ctx context.Context, txID id.ID) (*model.TxBoundary, error) {
	if t, ok := c.txByID.Get(txID); ok {
		return t, nil
	}
	if c.txs != nil {
		if t, err := c.txs.Get(txID); err == nil && t != nil {
			c.txByID.Add(txID, t)
			return t, nil
		}
	}

	var fetched *model.TxBoundary
	var lastErr error
	for _, host := range c.candidateHosts(3) {
		t, err := c.node.GetTransaction(ctx, host, txID)
		if err == nil && t != nil {
			fetched = t
			break
		}
		lastErr = err
	}
	if fetched == nil {
		if lastErr != nil {
			return nil, model.NewFetchError("transaction", "chain", lastErr)
		}
		return nil, model.NewNotFoundError("chain: tx " + txID.String())
	}
	c.txByID.Add(txID, fetched)
	if c.txs != nil {
		_ = c.txs.Put(txID, fetched)
	}
	return fetched, nil
}

// GetTxOffset resolves a tx's weave offset from the trusted node's
// tx_offset endpoint, independently cached from GetTransaction since
// some callers hold only an offset, not a full boundary.
func (c *Client) GetTxOffset(ctx context.Context, txID id.ID) (*model.TxBoundary, error) {
	if t, ok := c.txOffsetByID.Get(txID); ok {
		return t, nil
	}

	var fetched *model.TxBoundary
	var lastErr error
	for _, host := range c.candidateHosts(3) {
		t, err := c.node.GetTxOffset(ctx, host, txID)
		if err == nil && t != nil {
			fetched = t
			break
		}
		lastErr = err
	}
	if fetched == nil {
		if lastErr != nil {
			return nil, model.NewFetchError("tx offset", "chain", lastErr)
		}
		return nil, model.NewNotFoundError("chain: tx offset " + txID.String())
	}
	c.txOffsetByID.Add(txID, fetched)
	return fetched, nil
}

// FindTxByOffset performs a binary search over known blocks: find the
// block B such that prev(B).weave_size < offset <= B.weave_size, then
// returns the tx within B whose data range contains offset, using
// raw-byte comparison (internal/id.Less) to sort tx ids — never the
// base64url string form.
func (c *Client) FindTxByOffset(ctx context.Context, offset uint64) (id.ID, error) {
	lo, hi := uint64(0), c.currentHeight
	var containing *model.Block
	for lo <= hi {
		mid := lo + (hi-lo)/2
		b, err := c.GetBlockByHeight(ctx, mid)
		if err != nil {
			return id.ID{}, err
		}
		var prevWeaveSize uint64
		if mid > 0 {
			prev, err := c.GetBlockByHeight(ctx, mid-1)
			if err == nil && prev != nil {
				prevWeaveSize = prev.WeaveSize
			}
		}
		if prevWeaveSize < offset && offset <= b.WeaveSize {
			containing = b
			break
		}
		if offset > b.WeaveSize {
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	if containing == nil {
		return id.ID{}, model.NewNotFoundError(fmt.Sprintf("chain: block containing offset %d", offset))
	}
	if len(containing.Txs) == 0 {
		// Open Question 3: an empty tx list is "no match", not an error.
		return id.ID{}, model.NewNotFoundError(fmt.Sprintf("chain: no tx at offset %d in block %s", offset, containing.IndepHash))
	}

	sorted := make([]id.ID, len(containing.Txs))
	copy(sorted, containing.Txs)
	sort.Slice(sorted, func(i, j int) bool { return id.Less(sorted[i], sorted[j]) })

	for _, txID := range sorted {
		boundary, err := c.GetTxOffset(ctx, txID)
		if err != nil {
			continue
		}
		start := boundary.TxDataStart()
		if offset >= start && offset <= boundary.WeaveOffset {
			return txID, nil
		}
	}
	return id.ID{}, model.NewNotFoundError(fmt.Sprintf("chain: no tx at offset %d in block %s", offset, containing.IndepHash))
}

// GetChunkByAny fetches the chunk at absoluteOffset in parallel across
// candidate hosts, coalescing concurrent callers for the same offset
// into a single in-flight fetch. It never falls back to the trusted
// node for the chunk GET itself — only get_chunk peers are tried,
// since the trusted node is not expected to serve raw chunk bodies at
// scale.
func (c *Client) GetChunkByAny(ctx context.Context, absoluteOffset uint64, fanout int) (*model.Chunk, error) {
	key := fmt.Sprintf("%d", absoluteOffset)
	v, err, _ := c.chunkGroup.Do(key, func() (interface{}, error) {
		return c.fetchChunkByAny(ctx, absoluteOffset, fanout)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Chunk), nil
}

func (c *Client) fetchChunkByAny(ctx context.Context, absoluteOffset uint64, fanout int) (*model.Chunk, error) {
	if c.peers == nil {
		return nil, model.NewConfigurationError("chain: no peer manager configured for chunk fetch", nil)
	}
	hosts := c.peers.SelectPeers(peer.CategoryGetChunk, fanout)
	if len(hosts) == 0 {
		return nil, model.NewNotFoundError("chain: no get_chunk peers available")
	}

	txID, err := c.FindTxByOffset(ctx, absoluteOffset)
	if err != nil {
		return nil, err
	}
	boundary, err := c.GetTxOffset(ctx, txID)
	if err != nil {
		return nil, err
	}
	txDataStart := boundary.TxDataStart()
	relativeOffset := absoluteOffset - txDataStart
	rs := ruleset.ForOffset(absoluteOffset)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(fetchCtx)
	results := make(chan *model.Chunk, len(hosts))

	for _, host := range hosts {
		host := host
		g.Go(func() error {
			chunk, err := c.node.GetChunk(gctx, host, absoluteOffset)
			if err != nil || chunk == nil {
				c.peers.ReportFailure(peer.CategoryGetChunk, host)
				return nil
			}
			if err := validateChunk(chunk, [32]byte(boundary.DataRoot), boundary.DataSize, relativeOffset, rs); err != nil {
				c.peers.ReportFailure(peer.CategoryGetChunk, host)
				return nil
			}
			chunk.SourceHost = host
			c.peers.ReportSuccess(peer.CategoryGetChunk, host)
			select {
			case results <- chunk:
			default:
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case chunk := <-results:
		cancel()
		return chunk, nil
	case <-done:
		select {
		case chunk := <-results:
			return chunk, nil
		default:
			return nil, model.NewNotFoundError(fmt.Sprintf("chain: chunk at offset %d", absoluteOffset))
		}
	case <-ctx.Done():
		return nil, model.NewAbortedError("chain: chunk fetch aborted", ctx.Err())
	}
}

// validateChunk runs the Merkle path parser against a peer-delivered
// chunk, filling in its Offset/DataRoot/DataSize/Hash fields on
// success. A chunk that fails either the path proof or the data_hash
// comparison is rejected outright, same as an unreachable peer.
func validateChunk(chunk *model.Chunk, dataRoot [32]byte, dataSize, relativeOffset uint64, rs ruleset.Ruleset) error {
	result, err := merkle.ParseDataPath(dataRoot, dataSize, chunk.DataPath, relativeOffset, rs)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(chunk.Data)
	if err := result.VerifyChunkHash(hash); err != nil {
		return err
	}
	chunk.DataRoot = id.ID(dataRoot)
	chunk.DataSize = dataSize
	chunk.Offset = result.EndOffset
	chunk.Hash = hash
	return nil
}

// HTTPNodeClient is a concrete NodeClient speaking the trusted node's
// plain HTTP JSON surface, used in production; tests substitute a fake
// NodeClient instead.
type HTTPNodeClient struct {
	HTTP *http.Client
}
