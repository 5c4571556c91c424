// Package archive periodically moves old trades out of MongoDB into
// gzipped NDJSON objects in S3. Adapted from the teacher's
// internal/archive.Archiver (cursor-based resumption, day-bucketed gzip
// NDJSON batches, delete-after-upload), retargeted from local files onto
// aws-sdk-go-v2's feature/s3/manager uploader and the persistence
// package's Mongo-backed cursor instead of a sim_state document.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const archiverName = "market_trades"

// cursorStore is the subset of persistence.Store the archiver depends on.
type cursorStore interface {
	DB() *mongo.Database
	LoadArchiveCursor(ctx context.Context, name string) (time.Time, error)
	SaveArchiveCursor(ctx context.Context, name string, cursor time.Time) error
}

// Archiver moves market_trades rows older than maxAge into S3. Disabled
// (Run is a no-op) whenever Bucket is empty, matching the teacher's
// `cfg.S3Bucket == ""` gate.
type Archiver struct {
	store    cursorStore
	uploader *manager.Uploader
	bucket   string
	prefix   string
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

// New constructs an Archiver. A blank bucket disables it entirely.
func New(store cursorStore, client *s3.Client, bucket, prefix string, interval, maxAge time.Duration, logger zerolog.Logger) *Archiver {
	a := &Archiver{
		store:    store,
		bucket:   bucket,
		prefix:   prefix,
		interval: interval,
		maxAge:   maxAge,
		log:      logger.With().Str("component", "archive").Logger(),
	}
	if bucket != "" && client != nil {
		a.uploader = manager.NewUploader(client)
	}
	return a
}

// Enabled reports whether archival is configured.
func (a *Archiver) Enabled() bool {
	return a.uploader != nil
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
// A no-op if archival is disabled.
func (a *Archiver) Run(ctx context.Context) {
	if !a.Enabled() {
		return
	}
	a.log.Info().Str("bucket", a.bucket).Dur("interval", a.interval).Dur("max_age", a.maxAge).Msg("trade archiver started")

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.store.LoadArchiveCursor(ctx, archiverName)
	if err != nil {
		a.log.Warn().Err(err).Msg("load cursor failed")
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	trades, err := a.queryTrades(ctx, cursor, cutoff)
	if err != nil {
		a.log.Warn().Err(err).Msg("query trades failed")
		return
	}
	if len(trades) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(trades)
	days := make([]string, 0, len(batches))
	for day := range batches {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		batch := batches[day]
		if err := a.uploadBatch(ctx, day, batch); err != nil {
			a.log.Warn().Err(err).Str("day", day).Msg("upload batch failed")
			return
		}
		if err := a.deleteBatch(ctx, batch); err != nil {
			a.log.Warn().Err(err).Str("day", day).Msg("delete archived batch failed")
			return
		}
		a.log.Info().Int("count", len(batch)).Str("day", day).Msg("archived trades")
	}

	a.saveCursor(ctx, cutoff)
}

type tradeDoc struct {
	OrderID        string    `bson:"order_id" json:"order_id"`
	CounterOrderID string    `bson:"counter_order_id" json:"counter_order_id"`
	Symbol         string    `bson:"symbol" json:"symbol"`
	Price          float64   `bson:"price" json:"price"`
	Quantity       int64     `bson:"quantity" json:"quantity"`
	ExecutedAt     time.Time `bson:"executed_at" json:"executed_at"`
}

func (a *Archiver) queryTrades(ctx context.Context, from, to time.Time) ([]tradeDoc, error) {
	filter := bson.M{"executed_at": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: 1}})

	cur, err := a.store.DB().Collection("market_trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer cur.Close(ctx)

	var trades []tradeDoc
	if err := cur.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func groupByDay(trades []tradeDoc) map[string][]tradeDoc {
	batches := make(map[string][]tradeDoc)
	for _, t := range trades {
		day := t.ExecutedAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], t)
	}
	return batches
}

// uploadBatch gzip-NDJSON-encodes a day's trades and uploads it to
// s3://bucket/prefix/trades/YYYY/MM/DD.jsonl.gz.
func (a *Archiver) uploadBatch(ctx context.Context, day string, trades []tradeDoc) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	key := fmt.Sprintf("%s/trades/%s.jsonl.gz", a.prefix, day)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) deleteBatch(ctx context.Context, trades []tradeDoc) error {
	matches := make([]bson.M, len(trades))
	for i, t := range trades {
		matches[i] = bson.M{"order_id": t.OrderID, "executed_at": t.ExecutedAt, "symbol": t.Symbol}
	}

	_, err := a.store.DB().Collection("market_trades").DeleteMany(ctx, bson.M{"$or": matches})
	if err != nil {
		return fmt.Errorf("delete archived trades: %w", err)
	}
	return nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	if err := a.store.SaveArchiveCursor(ctx, archiverName, t); err != nil {
		a.log.Warn().Err(err).Msg("save cursor failed")
	}
}
