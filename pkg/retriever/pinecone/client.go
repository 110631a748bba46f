// Package pinecone implements retriever.Source by paging through a
// Pinecone index's vector ids and fetching their values, adapted from the
// teacher's top-K query client to a pagination-oriented replay source.
package pinecone

import (
	"context"
	"fmt"
	"time"

	"github.com/matluuk/linkscluster/pkg/retriever"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
)

// Client implements retriever.Source for Pinecone.
type Client struct {
	cfg     Config
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
}

// Config holds Pinecone-specific configuration.
type Config struct {
	retriever.Config

	// IndexName is the Pinecone index to read from.
	IndexName string

	// IndexHost is the direct host URL (optional, resolved from IndexName).
	IndexHost string
}

// NewClient creates a new Pinecone replay source.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, fmt.Errorf("index name or host is required")
	}

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	host := cfg.IndexHost
	if host == "" {
		idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %q: %w", cfg.IndexName, err)
		}
		host = idx.Host
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: cfg.DefaultNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	return &Client{cfg: cfg, pc: pc, idxConn: idxConn}, nil
}

// Query lists a page of vector ids and fetches their values and metadata.
func (c *Client) Query(ctx context.Context, filter retriever.Filter) (*retriever.Page, error) {
	limit := uint32(filter.PageSize)
	if limit == 0 {
		limit = 100
	}

	listReq := &pinecone.ListVectorsRequest{Limit: &limit}
	if filter.Cursor != "" {
		listReq.PaginationToken = &filter.Cursor
	}

	listResp, err := c.idxConn.ListVectors(ctx, listReq)
	if err != nil {
		return nil, fmt.Errorf("list vectors failed: %w", err)
	}
	if len(listResp.VectorIds) == 0 {
		return &retriever.Page{}, nil
	}

	ids := make([]string, 0, len(listResp.VectorIds))
	for _, id := range listResp.VectorIds {
		if id != nil {
			ids = append(ids, *id)
		}
	}

	fetchResp, err := c.idxConn.FetchVectors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch vectors failed: %w", err)
	}

	records := make([]retriever.Record, 0, len(ids))
	for _, id := range ids {
		v, ok := fetchResp.Vectors[id]
		if !ok || v == nil {
			continue
		}
		rec := retriever.Record{ID: id}
		if v.Values != nil {
			rec.Embedding = append(rec.Embedding, (*v.Values)...)
		}
		if v.Metadata != nil {
			rec.Metadata = v.Metadata.AsMap()
			if ts, ok := rec.Metadata["observed_at_unix"].(float64); ok {
				rec.ObservedAt = time.Unix(int64(ts), 0).UTC()
			}
		}
		records = append(records, rec)
	}

	page := &retriever.Page{Records: records}
	if listResp.Pagination != nil {
		page.NextCursor = listResp.Pagination.Next
	}
	return page, nil
}

// Close releases resources.
func (c *Client) Close() error {
	if c.idxConn != nil {
		return c.idxConn.Close()
	}
	return nil
}
