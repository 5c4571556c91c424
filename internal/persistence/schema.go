package persistence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	collOrders      = "market_orders"
	collTrades      = "market_trades"
	collPortfolios  = "market_portfolios"
	collTicks       = "market_ticks"
	collEngineState = "engine_state"
)

// ensureIndexes creates idempotent indexes mirroring the primary keys and
// lookup patterns of original_source's Postgres schema: order_id unique on
// orders, a composite uniqueness on trades, user_id unique on portfolios,
// and a symbol/recorded_at index for tick history.
func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: collOrders,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "order_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: collOrders,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "status", Value: 1}},
			},
		},
		{
			collection: collTrades,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "order_id", Value: 1},
					{Key: "executed_at", Value: 1},
					{Key: "symbol", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: collTrades,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "executed_at", Value: -1}},
			},
		},
		{
			collection: collPortfolios,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: collTicks,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "symbol", Value: 1},
					{Key: "recorded_at", Value: -1},
				},
			},
		},
	}

	for _, i := range indexes {
		if _, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}
	return nil
}
