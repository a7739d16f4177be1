package index

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ConnectionConfig holds configuration for the vector-index connection.
type ConnectionConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Cloud API Key (enables TLS automatically)
	UseTLS     bool   // Explicitly enable TLS without API Key
}

// Checker verifies the vector index after a deployment restart. The index
// itself is an opaque collaborator; the only capability consumed here is an
// integrity check against its collection.
type Checker struct {
	conn           *grpc.ClientConn
	collectClient  pb.CollectionsClient
	collectionName string
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewChecker connects to the vector index. Supports both local instances
// (insecure) and cloud instances (TLS + API Key).
func NewChecker(cfg *ConnectionConfig) (*Checker, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption

	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector index: %w", err)
	}

	return &Checker{
		conn:           conn,
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
	}, nil
}

// Close closes the gRPC connection.
func (c *Checker) Close() error {
	return c.conn.Close()
}

// CheckIntegrity verifies the collection exists and is not in a degraded
// state. A red status after a restart means the deployment damaged the
// index and the operator needs to rebuild it.
func (c *Checker) CheckIntegrity(ctx context.Context) error {
	info, err := c.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: c.collectionName,
	})
	if err != nil {
		return fmt.Errorf("collection %s unreachable: %w", c.collectionName, err)
	}

	result := info.GetResult()
	if result == nil {
		return fmt.Errorf("collection %s: empty info response", c.collectionName)
	}
	if result.GetStatus() == pb.CollectionStatus_Red {
		return fmt.Errorf("collection %s is in red status", c.collectionName)
	}
	return nil
}
