// Package analytics streams tick history and portfolio snapshots into
// ClickHouse for downstream reporting. Grounded on original_source's
// ClickHouseAnalyticsPipeline: self-disabling when unconfigured or when
// the initial connection fails, best-effort inserts that swallow write
// errors rather than surface them to trading-path callers.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/domain"
)

const (
	ddlTicks = `
CREATE TABLE IF NOT EXISTS market_ticks (
	symbol String,
	price Float64,
	open_price Float64,
	high_price Float64,
	low_price Float64,
	volume UInt64,
	regime String,
	recorded_at DateTime64(3, 'UTC')
)
ENGINE = MergeTree()
ORDER BY (symbol, recorded_at)
`
	ddlPortfolios = `
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	user_id String,
	cash Float64,
	holdings String,
	last_updated DateTime64(3, 'UTC')
)
ENGINE = ReplacingMergeTree(last_updated)
ORDER BY (user_id, last_updated)
`
)

// Sink is the ClickHouse-backed analytics pipeline. A Sink with a nil
// underlying connection is always safe to call — every method becomes a
// no-op, matching the Python pipeline's `enabled` gate.
type Sink struct {
	conn clickhouse.Conn
	log  zerolog.Logger
}

// Options configures a Sink. An empty Host disables the pipeline entirely.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// New connects to ClickHouse and ensures the analytics tables exist. Any
// failure here — including an empty Host — produces a disabled Sink
// instead of an error, since analytics is never on the critical trading
// path.
func New(ctx context.Context, opts Options, logger zerolog.Logger) *Sink {
	log := logger.With().Str("component", "analytics").Logger()
	if opts.Host == "" {
		log.Info().Msg("analytics disabled: no clickhouse host configured")
		return &Sink{log: log}
	}

	database := opts.Database
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("analytics disabled: clickhouse connect failed")
		return &Sink{log: log}
	}
	if err := conn.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("analytics disabled: clickhouse ping failed")
		return &Sink{log: log}
	}

	if err := conn.Exec(ctx, ddlTicks); err != nil {
		log.Warn().Err(err).Msg("analytics disabled: failed to ensure market_ticks table")
		return &Sink{log: log}
	}
	if err := conn.Exec(ctx, ddlPortfolios); err != nil {
		log.Warn().Err(err).Msg("analytics disabled: failed to ensure portfolio_snapshots table")
		return &Sink{log: log}
	}

	log.Info().Str("host", opts.Host).Msg("analytics pipeline connected")
	return &Sink{conn: conn, log: log}
}

// Enabled reports whether this sink has a live ClickHouse connection.
func (s *Sink) Enabled() bool {
	return s.conn != nil
}

// Close releases the ClickHouse connection, if any.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// PublishTicks inserts one row per instrument snapshot, tagged with the
// regime active at sampling time.
func (s *Sink) PublishTicks(ctx context.Context, ticks []domain.TickerSnapshot, regimeName string) {
	if s.conn == nil || len(ticks) == 0 {
		return
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO market_ticks")
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to prepare tick batch, dropping")
		return
	}
	for _, t := range ticks {
		if err := batch.Append(t.Symbol, t.Price, t.OpenPrice, t.HighPrice, t.LowPrice, uint64(t.Volume), regimeName, t.LastUpdate); err != nil {
			s.log.Debug().Err(err).Msg("failed to append tick row, dropping batch")
			return
		}
	}
	if err := batch.Send(); err != nil {
		s.log.Debug().Err(err).Msg("failed to send tick batch, dropping")
	}
}

// PublishPortfolioSnapshot inserts one row capturing a user's cash and
// holdings at the moment of the snapshot. Implements matching.Analytics.
func (s *Sink) PublishPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse) {
	if s.conn == nil {
		return
	}
	holdingsJSON, err := json.Marshal(snapshot.Holdings)
	if err != nil {
		return
	}
	err = s.conn.Exec(ctx,
		"INSERT INTO portfolio_snapshots (user_id, cash, holdings, last_updated) VALUES (?, ?, ?, ?)",
		snapshot.UserID, snapshot.Cash, string(holdingsJSON), snapshot.LastUpdated,
	)
	if err != nil {
		s.log.Debug().Err(err).Str("user_id", snapshot.UserID).Msg("failed to publish portfolio snapshot, dropping")
	}
}
