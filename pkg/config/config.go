// Package config is a thin viper-backed process configuration loader
// for cmd/arionode: a YAML default file, an optional named environment
// overlay merged on top, then environment-variable overrides,
// unmarshaled into a single struct.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the unified process configuration for the retrieval core.
type Config struct {
	TrustedNode struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"trusted_node"`

	Peers struct {
		ChainPreferred     []string `mapstructure:"chain_preferred"`
		GetChunkPreferred  []string `mapstructure:"get_chunk_preferred"`
		PostChunkPreferred []string `mapstructure:"post_chunk_preferred"`
		RefreshInterval    string   `mapstructure:"refresh_interval"`
	} `mapstructure:"peers"`

	Storage struct {
		BlockStoreDir     string `mapstructure:"block_store_dir"`
		TxStoreDir        string `mapstructure:"tx_store_dir"`
		CDB64PartitionDir string `mapstructure:"cdb64_partition_dir"`
		DataCacheDir      string `mapstructure:"data_cache_dir"`
	} `mapstructure:"storage"`

	RateLimit struct {
		RedisAddr      string `mapstructure:"redis_addr"`
		DefaultBucket  int    `mapstructure:"default_bucket_capacity"`
		DefaultRefill  int    `mapstructure:"default_refill_rate"`
	} `mapstructure:"rate_limit"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"logging"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr"`
		EnableHTTP3 bool  `mapstructure:"enable_http3"`
	} `mapstructure:"http"`
}

// Load reads config/default.yaml, optionally merges config/<env>.yaml
// on top, applies ARIONODE_-prefixed environment variable overrides,
// and unmarshals the result.
func Load(env string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("default")
	v.AddConfigPath("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: load default: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", env, err)
		}
	}

	v.SetEnvPrefix("ARIONODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trusted_node.url", "https://arweave.net")
	v.SetDefault("peers.refresh_interval", "5m")
	v.SetDefault("storage.block_store_dir", "./data/blocks")
	v.SetDefault("storage.tx_store_dir", "./data/txs")
	v.SetDefault("storage.cdb64_partition_dir", "./data/cdb64")
	v.SetDefault("storage.data_cache_dir", "./data/cache")
	v.SetDefault("rate_limit.default_bucket_capacity", 100)
	v.SetDefault("rate_limit.default_refill_rate", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.listen_addr", ":3000")
}
