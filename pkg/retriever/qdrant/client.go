// Package qdrant implements retriever.Source by scrolling through a
// Qdrant collection's points in stable id order, adapted from the
// teacher's top-K search client to a pagination-oriented replay source.
// It is built against the same qdrant/go-client points-service RPCs the
// write-side mirror client (pkg/mirror/qdrant) uses.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/matluuk/linkscluster/pkg/retriever"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Config holds Qdrant-specific configuration.
type Config struct {
	retriever.Config

	// Collection is the Qdrant collection to read from.
	Collection string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// GRPCPort is the Qdrant gRPC port (default 6334).
	GRPCPort int
}

// Client implements retriever.Source for Qdrant.
type Client struct {
	cfg        Config
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewClient creates a new Qdrant replay source.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	return &Client{
		cfg:        cfg,
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: cfg.Collection,
	}, nil
}

// Query scrolls one page of points in id order, with vectors and payload.
func (c *Client) Query(ctx context.Context, filter retriever.Filter) (*retriever.Page, error) {
	if c.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", c.cfg.APIKey)
	}

	limit := uint32(filter.PageSize)
	if limit == 0 {
		limit = 100
	}

	req := &pb.ScrollPoints{
		CollectionName: c.collection,
		Limit:          &limit,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter.Cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: filter.Cursor}}
	}

	resp, err := c.points.Scroll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scroll points failed: %w", err)
	}

	records := make([]retriever.Record, 0, len(resp.Result))
	for _, pt := range resp.Result {
		rec := retriever.Record{ID: pointIDString(pt.Id)}
		if vecs := pt.GetVectors(); vecs != nil {
			if v := vecs.GetVector(); v != nil {
				rec.Embedding = append(rec.Embedding, v.Data...)
			}
		}
		if payload := pt.GetPayload(); payload != nil {
			rec.Metadata = payloadToMap(payload)
			if ts, ok := rec.Metadata["observed_at_unix"].(float64); ok {
				rec.ObservedAt = time.Unix(int64(ts), 0).UTC()
			}
		}
		records = append(records, rec)
	}

	page := &retriever.Page{Records: records}
	if resp.NextPageOffset != nil {
		page.NextCursor = pointIDString(resp.NextPageOffset)
	}
	return page, nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func pointIDString(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *pb.PointId_Uuid:
		return v.Uuid
	case *pb.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

func payloadToMap(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *pb.Value) any {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
