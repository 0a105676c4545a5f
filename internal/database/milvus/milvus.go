package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ragserver/internal/config"
)

// Client holds an established Milvus connection and its configuration.
type Client struct {
	Conn   client.Client
	Config *config.MilvusConfig
}

// Connect dials Milvus at the configured address.
func Connect(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	return &Client{Conn: c, Config: cfg}, nil
}

// Close releases the connection.
func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// HealthCheck verifies the connection is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.Conn == nil {
		return fmt.Errorf("milvus client is nil")
	}
	if _, err := c.Conn.ListCollections(ctx); err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the chunk collection and its vector index if they
// do not exist yet, then loads the collection for querying. The schema is
// fixed: chunk_id (PK), document_id, source, ordinal, text, embedding.
func (c *Client) EnsureCollection(ctx context.Context, dim int, metricType entity.MetricType) error {
	collName := c.Config.Collection
	exists, err := c.Conn.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(collName).
			WithDescription("document chunks with embeddings").
			WithField(entity.NewField().WithName("chunk_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName("document_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(256)).
			WithField(entity.NewField().WithName("source").WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName("ordinal").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName("embedding").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

		if err := c.Conn.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexIvfFlat(metricType, 128)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := c.Conn.CreateIndex(ctx, collName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	if err := c.Conn.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("failed to load collection %q: %w", collName, err)
	}
	return nil
}
