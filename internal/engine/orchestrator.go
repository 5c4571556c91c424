// Package engine orchestrates the periodic price/news/regime loops and
// fans their results out to subscribers, on top of the pricing and
// matching services. Grounded on original_source's StockMarketEngine and
// the teacher's persist.Snapshotter/archive.Archiver periodic-loop
// pattern (time.Ticker + context.Context cancellation, graceful stop via
// sync.WaitGroup).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/analytics"
	"github.com/virtualbank/marketsim/internal/domain"
	"github.com/virtualbank/marketsim/internal/matching"
	"github.com/virtualbank/marketsim/internal/persistence"
	"github.com/virtualbank/marketsim/internal/pricing"
)

// Config tunes the orchestrator's periodic activity.
type Config struct {
	TickInterval         time.Duration
	NewsInterval         time.Duration
	RegimeRotateInterval time.Duration
}

// Orchestrator owns the single engine-wide mutex serializing every
// in-memory state transition (a tick batch, a news draw, a regime
// rotation, one PlaceOrder call). A sync.Mutex, not a sync.RWMutex: a
// reader must always observe a fully-settled write, matching the single
// asyncio.Lock boundary the Python source uses. The periodic loops do
// their durable writes, cache updates, analytics publication, and
// subscriber fan-out after releasing the mutex. PlaceOrder, OrderStatus,
// Portfolio, and RecentTrades hold it for the whole matching-service call,
// including that call's durable reads and writes, analytics publication,
// and risk HTTP calls; only their subscriber fan-out runs unlocked.
type Orchestrator struct {
	mu sync.Mutex

	cfg     Config
	pricing *pricing.Service
	matcher *matching.Service
	store   *persistence.Store
	cache   *persistence.Cache
	sink    *analytics.Sink
	log     zerolog.Logger

	hub *hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator. store, cache, and sink may be nil or
// capability-gated no-ops; the orchestrator itself never special-cases
// their presence beyond calling through.
func New(cfg Config, pricingSvc *pricing.Service, matcher *matching.Service, store *persistence.Store, cache *persistence.Cache, sink *analytics.Sink, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		pricing: pricingSvc,
		matcher: matcher,
		store:   store,
		cache:   cache,
		sink:    sink,
		log:     logger.With().Str("component", "engine").Logger(),
		hub:     newHub(),
	}
}

// Start launches the three periodic loops. Safe to call once.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(3)
	go o.runPriceLoop(runCtx)
	go o.runNewsLoop(runCtx)
	go o.runRegimeLoop(runCtx)
}

// Stop cancels all loops and waits for them to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Subscribe registers a new event subscriber and seeds it with the
// current ticker snapshot, matching the WS handler's first-frame
// contract in spec.md §6.
func (o *Orchestrator) Subscribe() chan Event {
	ch := o.hub.Subscribe()
	ch <- Event{Type: "snapshot", Data: o.pricing.Snapshot()}
	return ch
}

// Unsubscribe removes a subscriber.
func (o *Orchestrator) Unsubscribe(ch chan Event) {
	o.hub.Unsubscribe(ch)
}

func (o *Orchestrator) runPriceLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			ticks := o.pricing.Tick()
			regime := o.pricing.ActiveRegime()
			o.mu.Unlock()

			if len(ticks) == 0 {
				continue
			}
			o.hub.Broadcast(Event{Type: "tick", Data: map[string]any{
				"regime":    regime,
				"data":      ticks,
				"timestamp": time.Now().UTC(),
			}})
			if o.store != nil {
				if err := o.store.RecordTicks(ctx, ticks, regime.Name); err != nil {
					o.log.Warn().Err(err).Msg("record ticks failed")
				}
			}
			if o.cache != nil {
				o.cache.CacheTickers(ctx, ticks)
			}
			if o.sink != nil {
				o.sink.PublishTicks(ctx, ticks, regime.Name)
			}
		}
	}
}

func (o *Orchestrator) runNewsLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.NewsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			item := o.pricing.GenerateNews()
			o.mu.Unlock()

			if item == nil {
				continue
			}
			o.hub.Broadcast(Event{Type: "news", Data: item})
		}
	}
}

func (o *Orchestrator) runRegimeLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.RegimeRotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			regime := o.pricing.RotateRegime()
			o.mu.Unlock()

			o.hub.Broadcast(Event{Type: "regime", Data: regime})
		}
	}
}

// PlaceOrder serializes order placement behind the engine mutex, then
// broadcasts the result once the lock is released.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.PlaceOrderResult, error) {
	o.mu.Lock()
	result, err := o.matcher.PlaceOrder(ctx, req)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	o.hub.Broadcast(Event{Type: "order", Data: map[string]any{
		"order": result.Order,
		"fills": result.Fills,
	}})
	return result, nil
}

// OrderStatus, Portfolio, and RecentTrades pass through to the matching
// service under the engine mutex — they mutate its in-memory registry
// caches on the read path (hydrate-on-miss), so they share the same
// serialization boundary as PlaceOrder.
func (o *Orchestrator) OrderStatus(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.matcher.OrderStatus(ctx, orderID)
}

func (o *Orchestrator) Portfolio(ctx context.Context, userID string) (*domain.PortfolioResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.matcher.Portfolio(ctx, userID)
}

func (o *Orchestrator) RecentTrades(ctx context.Context, limit int) ([]domain.TradeFill, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.matcher.RecentTrades(ctx, limit)
}

// Tickers answers the hot ticker-snapshot read from the Redis cache when
// one is configured and warm, bypassing the pricing lock entirely; it
// falls back to Snapshot (which does take the pricing RWMutex) on a cache
// miss or when no cache is configured.
func (o *Orchestrator) Tickers(ctx context.Context) []domain.TickerSnapshot {
	if o.cache != nil {
		if cached, err := o.cache.LoadCachedTickers(ctx); err == nil && len(cached) > 0 {
			return cached
		}
	}
	return o.pricing.Snapshot()
}

// Regimes, ActiveRegime, and RecentNews read pricing state directly;
// pricing.Service guards itself with its own RWMutex, so these do not
// need the engine mutex.
func (o *Orchestrator) Regimes() []domain.Regime {
	return o.pricing.Regimes()
}

func (o *Orchestrator) ActiveRegime() domain.Regime {
	return o.pricing.ActiveRegime()
}

func (o *Orchestrator) RecentNews() []domain.NewsItem {
	return o.pricing.RecentNews()
}

// WarmState rebuilds the matching service's in-memory state from durable
// storage. Call once before Start.
func (o *Orchestrator) WarmState(ctx context.Context) error {
	return o.matcher.WarmState(ctx)
}
