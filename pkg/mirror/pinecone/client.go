// Package pinecone mirrors cluster centroids into a Pinecone index,
// adapted from the teacher's chunk-upsert write path to centroid-upsert.
package pinecone

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matluuk/linkscluster/pkg/mirror"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds Pinecone mirror configuration.
type Config struct {
	APIKey    string
	IndexName string
	Namespace string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Client mirrors centroids into Pinecone via its gRPC data-plane client.
type Client struct {
	cfg     Config
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
	stats   Stats
}

// Stats tracks mirror operation counters.
type Stats struct {
	UpsertedCentroids int64
	FailedCentroids   int64
	RetryCount        int64
	BatchCount        int64
}

// NewClient creates a new Pinecone mirror client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", cfg.IndexName, err)
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      idx.Host,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	return &Client{cfg: cfg, pc: pc, idxConn: idxConn}, nil
}

// UpsertCentroids pushes a batch of centroids, retrying with exponential
// backoff on rate-limit/unavailable responses.
func (c *Client) UpsertCentroids(ctx context.Context, centroids []mirror.Centroid) error {
	if len(centroids) == 0 {
		return nil
	}

	pcVectors := make([]*pinecone.Vector, len(centroids))
	for i, cd := range centroids {
		values := cd.Values
		pcVectors[i] = &pinecone.Vector{
			Id:       cd.ID,
			Values:   &values,
			Metadata: convertMetadata(cd.Metadata),
		}
	}

	var lastErr error
	backoff := c.cfg.InitialBackoff
	attempts := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			atomic.AddInt64(&c.stats.RetryCount, 1)
			time.Sleep(backoff)
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.cfg.MaxBackoff)))
		}

		attempts++
		_, err := c.idxConn.UpsertVectors(ctx, pcVectors)
		if err == nil {
			atomic.AddInt64(&c.stats.UpsertedCentroids, int64(len(centroids)))
			atomic.AddInt64(&c.stats.BatchCount, 1)
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	atomic.AddInt64(&c.stats.FailedCentroids, int64(len(centroids)))
	return fmt.Errorf("centroid mirror upsert failed after %d attempts: %w", attempts, lastErr)
}

// GetStats returns current operation statistics.
func (c *Client) GetStats() Stats {
	return Stats{
		UpsertedCentroids: atomic.LoadInt64(&c.stats.UpsertedCentroids),
		FailedCentroids:   atomic.LoadInt64(&c.stats.FailedCentroids),
		RetryCount:        atomic.LoadInt64(&c.stats.RetryCount),
		BatchCount:        atomic.LoadInt64(&c.stats.BatchCount),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.idxConn != nil {
		return c.idxConn.Close()
	}
	return nil
}

func convertMetadata(m map[string]any) *structpb.Struct {
	if len(m) == 0 {
		return nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil
	}
	return s
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unavailable") ||
		strings.Contains(errStr, "temporarily")
}
