// Command arionode runs the Arweave data-retrieval and chunk-verification
// gateway: it loads configuration, wires the peer pool, chain client,
// chunk retrieval pipeline, data cache, and rate limiter together behind
// the HTTP surface, then runs until signaled.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	redis "github.com/redis/go-redis/v9"

	"github.com/ar-io/ar-io-node-sub005/pkg/chain"
	"github.com/ar-io/ar-io-node-sub005/pkg/config"
	"github.com/ar-io/ar-io-node-sub005/pkg/datacache"
	"github.com/ar-io/ar-io-node-sub005/pkg/gateway"
	"github.com/ar-io/ar-io-node-sub005/pkg/gwlog"
	"github.com/ar-io/ar-io-node-sub005/pkg/model"
	"github.com/ar-io/ar-io-node-sub005/pkg/peer"
	"github.com/ar-io/ar-io-node-sub005/pkg/ratelimit"
	"github.com/ar-io/ar-io-node-sub005/pkg/retrieval"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "arionode:", err)
		os.Exit(1)
	}
}

func run() error {
	env := os.Getenv("ARIONODE_ENV")
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := gwlog.New(gwlog.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	ctx := gwlog.WithLogger(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peers := peer.NewManager(peer.Config{
		Preferred: map[peer.Category][]string{
			peer.CategoryChain:     cfg.Peers.ChainPreferred,
			peer.CategoryGetChunk:  cfg.Peers.GetChunkPreferred,
			peer.CategoryPostChunk: cfg.Peers.PostChunkPreferred,
		},
	})

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.HTTP.EnableHTTP3 {
		// Every outbound request made through this client uses QUIC
		// instead of TCP; http3.Transport does not fall back to TCP on
		// its own, so a host that doesn't speak H3 fails the request and
		// the caller's retry logic moves on.
		httpClient.Transport = &http3.Transport{}
	}

	var blockStore *chain.BlockStore
	var txStore *chain.TxStore
	if cfg.Storage.BlockStoreDir != "" {
		blockStore = chain.NewBlockStore(cfg.Storage.BlockStoreDir)
	}
	if cfg.Storage.TxStoreDir != "" {
		txStore = chain.NewTxStore(cfg.Storage.TxStoreDir)
	}

	chainClient, err := chain.NewClient(chain.Config{
		TrustedNodeURL: cfg.TrustedNode.URL,
		Node:           chain.NewHTTPNodeClient(httpClient),
		Peers:          peers,
		BlockStore:     blockStore,
		TxStore:        txStore,
	})
	if err != nil {
		return fmt.Errorf("build chain client: %w", err)
	}

	fanout := 3
	pipeline := retrieval.NewPipeline(retrieval.Config{
		Boundary: chainBoundarySource{chainClient},
		Fetcher:  chainChunkFetcher{client: chainClient, fanout: fanout},
	})

	dataCache := datacache.New(datacache.Config{
		Sources: []datacache.ContiguousDataSource{
			datacache.NewTrustedGatewaySource(cfg.TrustedNode.URL, httpClient),
		},
	})

	var limiter ratelimit.Limiter
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			Client: rdb,
			Bucket: ratelimit.Config{
				Capacity:   uint64(cfg.RateLimit.DefaultBucket),
				RefillRate: float64(cfg.RateLimit.DefaultRefill),
			},
			KeyPrefix:  "arionode:ratelimit:",
			IdleTTLSec: 3600,
		})
	} else {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{
			Capacity:   uint64(cfg.RateLimit.DefaultBucket),
			RefillRate: float64(cfg.RateLimit.DefaultRefill),
		})
	}

	gw := gateway.New(gateway.Config{
		Chain:      chainClient,
		Peers:      peers,
		Retrieval:  pipeline,
		DataCache:  dataCache,
		RateLimit:  limiter,
		Fanout:     fanout,
		ListenAddr: cfg.HTTP.ListenAddr,
	})

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(stopCtx)
}

// chainBoundarySource adapts *chain.Client to retrieval.BoundarySource,
// resolving the owning transaction and its offset in one call.
type chainBoundarySource struct {
	client *chain.Client
}

func (s chainBoundarySource) GetTxBoundary(ctx context.Context, absoluteOffset uint64) (*model.TxBoundary, error) {
	txID, err := s.client.FindTxByOffset(ctx, absoluteOffset)
	if err != nil {
		return nil, err
	}
	return s.client.GetTxOffset(ctx, txID)
}

// chainChunkFetcher adapts *chain.Client to retrieval.ChunkFetcher with
// a fixed fanout.
type chainChunkFetcher struct {
	client *chain.Client
	fanout int
}

func (f chainChunkFetcher) GetChunkByAny(ctx context.Context, absoluteOffset uint64) (*model.Chunk, error) {
	return f.client.GetChunkByAny(ctx, absoluteOffset, f.fanout)
}
