package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/matluuk/linkscluster/pkg/cache"
	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/matluuk/linkscluster/pkg/embedding"
	"github.com/matluuk/linkscluster/pkg/embedding/openai"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
	"github.com/matluuk/linkscluster/pkg/mirror"
	mirrorpinecone "github.com/matluuk/linkscluster/pkg/mirror/pinecone"
	mirrorqdrant "github.com/matluuk/linkscluster/pkg/mirror/qdrant"
	"github.com/matluuk/linkscluster/pkg/retriever"
	retrieverpinecone "github.com/matluuk/linkscluster/pkg/retriever/pinecone"
	retrieverqdrant "github.com/matluuk/linkscluster/pkg/retriever/qdrant"
	"github.com/matluuk/linkscluster/pkg/store"
	"github.com/matluuk/linkscluster/pkg/store/memstore"
	"github.com/matluuk/linkscluster/pkg/store/sqlitestore"
)

// buildEngine constructs a fresh, empty engine from the three scalar
// thresholds in cfg. It never rehydrates state; callers that need a
// durable engine must replay a Store's documents into it themselves.
func buildEngine(cfg config.EngineConfig) (*linkscluster.Engine, error) {
	return linkscluster.NewEngine(linkscluster.Config{
		ClusterSim:    cfg.ClusterSim,
		SubclusterSim: cfg.SubclusterSim,
		PairSimMax:    cfg.PairSimMax,
		StoreVectors:  cfg.StoreVectors,
	})
}

// buildStore constructs the configured persistence adapter.
func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlitestore.Open(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Backend)
	}
}

// buildMirror constructs the configured ANN mirror, or nil if the
// engine's host application was not configured to mirror centroids
// anywhere.
func buildMirror(ctx context.Context, cfg config.MirrorConfig) (mirror.Mirror, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "pinecone":
		mcfg := mirrorpinecone.DefaultConfig()
		mcfg.APIKey = os.Getenv("PINECONE_API_KEY")
		mcfg.IndexName = cfg.Index
		mcfg.Namespace = cfg.Namespace
		return mirrorpinecone.NewClient(ctx, mcfg)
	case "qdrant":
		collection := cfg.Collection
		if collection == "" {
			collection = cfg.Index
		}
		return mirrorqdrant.NewClient(ctx, mirrorqdrant.Config{
			Host:       cfg.Host,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: collection,
		})
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %q", cfg.Backend)
	}
}

// buildRetriever constructs the configured replay source.
func buildRetriever(ctx context.Context, cfg config.RetrieverConfig) (retriever.Source, error) {
	base := retriever.DefaultConfig()
	base.DefaultNamespace = cfg.Namespace

	switch cfg.Backend {
	case "pinecone":
		base.APIKey = os.Getenv("PINECONE_API_KEY")
		return retrieverpinecone.NewClient(ctx, retrieverpinecone.Config{
			Config:    base,
			IndexName: cfg.Index,
		})
	case "qdrant":
		base.Host = cfg.Host
		base.APIKey = os.Getenv("QDRANT_API_KEY")
		return retrieverqdrant.NewClient(ctx, retrieverqdrant.Config{
			Config:     base,
			Collection: cfg.Index,
		})
	default:
		return nil, fmt.Errorf("unsupported retriever backend: %q", cfg.Backend)
	}
}

// buildEmbedder constructs the configured embedding provider, wrapped
// with an in-memory cache sized from cfg.CacheSize.
func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("build embedder: %w", err)
		}
		return embedding.NewCachedProvider(client, cfg.CacheSize), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}

// buildCache constructs the configured response cache.
func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		c := cache.DefaultConfig()
		c.DefaultTTL = cfg.DefaultTTL
		c.MaxSize = cfg.MaxSize
		return cache.NewMemoryCache(c), nil
	case "redis":
		rc := cache.RedisConfig{
			URL:        cfg.RedisURL,
			KeyPrefix:  "linkscluster:",
			DefaultTTL: cfg.DefaultTTL,
		}
		return cache.NewRedisCache(ctx, rc)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %q", cfg.Backend)
	}
}

// predictOutcome classifies a Predict call's effect on engine population
// for metrics and SSE reporting, since Engine.Predict itself reports only
// the resulting cluster. seeded is true on the very first vector the
// engine has ever seen (Predict returns a nil cluster in that case).
func predictOutcome(seeded bool, clustersBefore, subclustersBefore, clustersAfter, subclustersAfter int) string {
	switch {
	case seeded:
		return "seed"
	case clustersAfter > clustersBefore && subclustersAfter > subclustersBefore:
		return "new_cluster"
	case clustersAfter > clustersBefore:
		return "split"
	case subclustersAfter > subclustersBefore:
		return "attach"
	case subclustersAfter < subclustersBefore:
		return "merge"
	default:
		return "absorb"
	}
}

// engineStats summarizes an engine's current population for counters,
// logs, and SSE stats payloads.
type engineStats struct {
	ClusterCount    int `json:"cluster_count"`
	SubclusterCount int `json:"subcluster_count"`
}

func countSubclusters(e *linkscluster.Engine) int {
	n := 0
	for _, cl := range e.Clusters() {
		n += len(cl.Subclusters())
	}
	return n
}

func statsOf(e *linkscluster.Engine) engineStats {
	return engineStats{ClusterCount: e.ClusterCount(), SubclusterCount: countSubclusters(e)}
}
