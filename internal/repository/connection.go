package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectOptions describes the cart database connection. Zero values fall back to the
// defaults below.
type ConnectOptions struct {
	URI            string
	Database       string
	AppName        string
	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
}

const (
	defaultMaxPoolSize     = 100
	defaultMinPoolSize     = 10
	defaultConnectTimeout  = 10 * time.Second
	serverSelectionTimeout = 5 * time.Second
)

func (o ConnectOptions) clientOptions() *options.ClientOptions {
	maxPool, minPool := o.MaxPoolSize, o.MinPoolSize
	if maxPool == 0 {
		maxPool = defaultMaxPoolSize
	}
	if minPool == 0 {
		minPool = defaultMinPoolSize
	}
	if minPool > maxPool {
		minPool = maxPool
	}
	connectTimeout := o.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(o.URI).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(serverSelectionTimeout).
		SetMaxPoolSize(maxPool).
		SetMinPoolSize(minPool)
	if o.AppName != "" {
		opts.SetAppName(o.AppName)
	}
	return opts
}

// ConnectMongoDB connects and pings before handing out the cart database.
func ConnectMongoDB(ctx context.Context, o ConnectOptions) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, o.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(o.Database), nil
}
