// SPDX-License-Identifier: MIT

// Package store persists subscription records to MongoDB so a restarted
// instance (or a peer taking over a service id) can resume dialogs without
// re-subscribing every endpoint.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
)

// Client wraps the driver connection with the pool sizing and timeouts
// from config. One client is shared by the store and any future readers.
type Client struct {
	logger zerolog.Logger
	cli    *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and verifies the connection with a primary ping.
// A failed ping tears the client down again so callers never hold a
// half-connected handle.
func Connect(ctx context.Context, cfg *config.AppConfig) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMinPoolSize(uint64(cfg.MongoMinPoolSize)).
		SetMaxPoolSize(uint64(cfg.MongoMaxPoolSize)).
		SetConnectTimeout(cfg.MongoConnectTimeout).
		SetSocketTimeout(cfg.MongoSocketTimeout)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout)
	defer cancel()

	cli, err := mongo.Connect(dialCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(dialCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	c := &Client{
		logger: log.WithComponent("mongo"),
		cli:    cli,
		db:     cli.Database(cfg.MongoDatabase),
	}
	c.logger.Info().
		Str("database", cfg.MongoDatabase).
		Int("max_pool", cfg.MongoMaxPoolSize).
		Msg("connected")
	return c, nil
}

// Collection returns a handle scoped to the configured database.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping verifies the primary is reachable. Used by the readiness surface.
func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx, readpref.Primary())
}

// Disconnect releases the connection pool.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}
