package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/virtualbank/marketsim/internal/domain"
)

// RecordOrderStatus upserts one order by order_id, matching
// original_source's INSERT ... ON CONFLICT DO UPDATE.
func (s *Store) RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error {
	filter := bson.M{"order_id": status.OrderID}
	update := bson.M{"$set": status}
	_, err := s.db.Collection(collOrders).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", status.OrderID, err)
	}
	return nil
}

// RecordTrades bulk-inserts fills, silently ignoring duplicates on the
// (order_id, executed_at, symbol) unique index — matching the Postgres
// ON CONFLICT DO NOTHING behavior.
func (s *Store) RecordTrades(ctx context.Context, fills []domain.TradeFill) error {
	if len(fills) == 0 {
		return nil
	}
	docs := make([]any, len(fills))
	for i, f := range fills {
		docs[i] = f
	}
	_, err := s.db.Collection(collTrades).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert trades: %w", err)
	}
	return nil
}

// RecordPortfolioSnapshot upserts one user's cash/holdings snapshot.
func (s *Store) RecordPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse) error {
	filter := bson.M{"user_id": snapshot.UserID}
	update := bson.M{"$set": snapshot}
	_, err := s.db.Collection(collPortfolios).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert portfolio %s: %w", snapshot.UserID, err)
	}
	return nil
}

// LoadOrder fetches a single order by id, or nil if it doesn't exist.
func (s *Store) LoadOrder(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := s.db.Collection(collOrders).FindOne(ctx, bson.M{"order_id": orderID}).Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return &status, nil
}

// LoadOpenOrders returns every order not in the FILLED state, used to warm
// the matching book on startup.
func (s *Store) LoadOpenOrders(ctx context.Context) ([]domain.OrderStatus, error) {
	cursor, err := s.db.Collection(collOrders).Find(ctx, bson.M{"status": bson.M{"$ne": domain.OrderFilled}})
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.OrderStatus
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return out, nil
}

// LoadPortfolio fetches one user's portfolio, or nil if none exists yet.
func (s *Store) LoadPortfolio(ctx context.Context, userID string) (*domain.PortfolioResponse, error) {
	var snapshot domain.PortfolioResponse
	err := s.db.Collection(collPortfolios).FindOne(ctx, bson.M{"user_id": userID}).Decode(&snapshot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", userID, err)
	}
	return &snapshot, nil
}

// LoadAllPortfolios returns every persisted portfolio, used to warm the
// matching service's in-memory ledgers on startup.
func (s *Store) LoadAllPortfolios(ctx context.Context) ([]domain.PortfolioResponse, error) {
	cursor, err := s.db.Collection(collPortfolios).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load all portfolios: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.PortfolioResponse
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode portfolios: %w", err)
	}
	return out, nil
}

// tickDoc is one row of the append-only market_ticks collection, tagging
// each snapshot with the regime active at sampling time.
type tickDoc struct {
	domain.TickerSnapshot `bson:",inline"`
	Regime                string `bson:"regime"`
}

// RecordTicks bulk-inserts one row per instrument snapshot into
// market_ticks, tagged with the regime active at sampling time.
func (s *Store) RecordTicks(ctx context.Context, ticks []domain.TickerSnapshot, regimeName string) error {
	if len(ticks) == 0 {
		return nil
	}
	docs := make([]any, len(ticks))
	for i, t := range ticks {
		docs[i] = tickDoc{TickerSnapshot: t, Regime: regimeName}
	}
	_, err := s.db.Collection(collTicks).InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("insert ticks: %w", err)
	}
	return nil
}

// LoadRecentTrades returns up to limit trades, most recent first.
func (s *Store) LoadRecentTrades(ctx context.Context, limit int) ([]domain.TradeFill, error) {
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(collTrades).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("load recent trades: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.TradeFill
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return out, nil
}
