// Package qdrant mirrors cluster centroids into a Qdrant collection. The
// teacher module only ever reads from Qdrant (pkg/retriever/qdrant); this
// client adds the write path the mirror needs, built against the same
// qdrant/go-client points-service RPCs the read client already uses.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/matluuk/linkscluster/pkg/mirror"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Config holds Qdrant mirror configuration.
type Config struct {
	Host       string
	APIKey     string
	Collection string
	UseTLS     bool
	GRPCPort   int
}

// Client mirrors centroids into a Qdrant collection.
type Client struct {
	cfg        Config
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewClient creates a new Qdrant mirror client.
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

// UpsertCentroids pushes a batch of centroids as Qdrant points, keyed by
// the centroid's string id interpreted as a UUID point id.
func (c *Client) UpsertCentroids(ctx context.Context, centroids []mirror.Centroid) error {
	if len(centroids) == 0 {
		return nil
	}

	if c.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", c.cfg.APIKey)
	}

	points := make([]*pb.PointStruct, len(centroids))
	for i, cd := range centroids {
		values := make([]float32, len(cd.Values))
		copy(values, cd.Values)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cd.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: values}},
			},
			Payload: convertMetadataToPayload(cd.Metadata),
		}
	}

	req := &pb.UpsertPoints{
		CollectionName: c.collection,
		Points:         points,
	}

	if _, err := c.points.Upsert(ctx, req); err != nil {
		return fmt.Errorf("centroid mirror upsert failed: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func convertMetadataToPayload(m map[string]any) map[string]*pb.Value {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(v any) *pb.Value {
	switch val := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	default:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	}
}
