// Package persistence durably stores orders, trades, and portfolios in
// MongoDB and caches live ticker snapshots in Redis. Adapted from the
// teacher's persist.Store/Snapshotter (transactional writes, upsert on
// conflict, idempotent duplicate handling), retargeted from the feed
// simulator's symbol/order-book schema onto market_orders, market_trades,
// market_portfolios and market_ticks, matching original_source's
// StockmarketStorage collection-for-collection.
package persistence

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store wraps the MongoDB client and database used for durable state.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// NewStore connects to MongoDB. The URI should include the database name
// (e.g. mongodb://localhost:27017/marketsim); "marketsim" is used if the
// URI carries none.
func NewStore(ctx context.Context, uri string, logger zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "marketsim"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log := logger.With().Str("component", "persistence").Logger()
	log.Info().Str("db", dbName).Msg("connected to MongoDB")
	return &Store{client: client, db: client.Database(dbName), log: log}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

// DB returns the underlying database, for components outside this package
// (archival cursor bookkeeping) that need direct collection access.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// Migrate creates indexes on all collections. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return ensureIndexes(ctx, s.db)
}
