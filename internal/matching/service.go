// Package matching implements the order-book matching engine: per-symbol
// two-sided books, the order registry, the bounded trade ring, and the
// portfolio ledger. Grounded on original_source's MatchingService, which
// is authoritative for the algorithm; book storage is adapted from the
// teacher's orderbook.Book (sorted price levels, FIFO per level).
package matching

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/virtualbank/marketsim/internal/domain"
)

const tradeRingCapacity = 1000

// PriceSource is the subset of the pricing service matching depends on.
type PriceSource interface {
	PriceFor(symbol string) (float64, bool)
	RecordTrade(symbol string, quantity int64, price float64)
	HasSymbol(symbol string) bool
}

// RiskGateway is the subset of the risk gateway matching depends on.
type RiskGateway interface {
	EnsureCreditLimit(ctx context.Context, req domain.OrderRequest, notional float64) error
	PublishOrder(ctx context.Context, status domain.OrderStatus, notional float64)
	PublishFills(ctx context.Context, status domain.OrderStatus, fills []domain.TradeFill)
	PublishPortfolio(ctx context.Context, snapshot domain.PortfolioResponse)
}

// Storage is the subset of the persistence façade matching depends on.
type Storage interface {
	RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error
	RecordTrades(ctx context.Context, fills []domain.TradeFill) error
	RecordPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse) error
	LoadOrder(ctx context.Context, orderID string) (*domain.OrderStatus, error)
	LoadOpenOrders(ctx context.Context) ([]domain.OrderStatus, error)
	LoadPortfolio(ctx context.Context, userID string) (*domain.PortfolioResponse, error)
	LoadAllPortfolios(ctx context.Context) ([]domain.PortfolioResponse, error)
	LoadRecentTrades(ctx context.Context, limit int) ([]domain.TradeFill, error)
}

// Analytics is the subset of the analytics sink matching depends on.
type Analytics interface {
	PublishPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse)
}

// Config tunes the two behaviors spec.md leaves as open questions.
type Config struct {
	// DropResidualMarketOrders cancels, rather than rests, a market order
	// that traded nothing. Default false preserves the source's literal
	// (if unusual) behavior of resting it at the current price. A
	// partially filled order's residual is never rested either way.
	DropResidualMarketOrders bool
	// MaxRegistrySize, when positive, opportunistically prunes the
	// oldest FILLED orders from the live registry after each
	// PlaceOrder call. Zero means unbounded (the source's behavior).
	MaxRegistrySize int
}

type userLedger struct {
	cash      float64
	positions map[string]float64
}

// Service is the order-book matching engine for every instrument.
type Service struct {
	pricing   PriceSource
	storage   Storage
	risk      RiskGateway
	analytics Analytics
	cfg       Config

	books map[string]*book
	orders map[string]*domain.OrderStatus
	ledgers map[string]*userLedger

	trades    []domain.TradeFill // ring, newest last, capped at tradeRingCapacity
	seq       int64
	fillOrder []string // FILLED order ids in insertion order, for opportunistic pruning
}

// New constructs a matching service. One book per symbol the pricing
// service knows about.
func New(pricing PriceSource, storage Storage, risk RiskGateway, analytics Analytics, symbols []string, cfg Config) *Service {
	books := make(map[string]*book, len(symbols))
	for _, sym := range symbols {
		books[sym] = newBook()
	}
	return &Service{
		pricing:   pricing,
		storage:   storage,
		risk:      risk,
		analytics: analytics,
		cfg:       cfg,
		books:     books,
		orders:    make(map[string]*domain.OrderStatus),
		ledgers:   make(map[string]*userLedger),
	}
}

func (s *Service) ledgerFor(userID string) *userLedger {
	l, ok := s.ledgers[userID]
	if !ok {
		l = &userLedger{positions: make(map[string]float64)}
		s.ledgers[userID] = l
	}
	return l
}

func (s *Service) nextSeq() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

// WarmState rebuilds in-memory books, ledgers, and the trade ring from
// durable storage. Call once at startup, before serving traffic.
func (s *Service) WarmState(ctx context.Context) error {
	openOrders, err := s.storage.LoadOpenOrders(ctx)
	if err != nil {
		return &domain.InfrastructureError{Op: "load_open_orders", Err: err}
	}
	for i := range openOrders {
		order := openOrders[i]
		cp := order
		s.orders[order.OrderID] = &cp
		if order.RemainingQuantity <= 0 {
			continue
		}
		price := 0.0
		if order.Price != nil {
			price = *order.Price
		} else if p, ok := s.pricing.PriceFor(order.Symbol); ok {
			price = p
		}
		b, ok := s.books[order.Symbol]
		if !ok {
			continue
		}
		b.add(order.Side, &restingOrder{
			orderID:   order.OrderID,
			userID:    order.UserID,
			price:     price,
			remaining: order.RemainingQuantity,
			createdAt: s.nextSeq(),
		})
	}

	portfolios, err := s.storage.LoadAllPortfolios(ctx)
	if err != nil {
		return &domain.InfrastructureError{Op: "load_all_portfolios", Err: err}
	}
	for _, p := range portfolios {
		l := s.ledgerFor(p.UserID)
		l.cash = p.Cash
		for _, h := range p.Holdings {
			l.positions[h.Symbol] = h.Quantity
		}
	}

	trades, err := s.storage.LoadRecentTrades(ctx, tradeRingCapacity)
	if err != nil {
		return &domain.InfrastructureError{Op: "load_recent_trades", Err: err}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })
	s.trades = trades
	if len(s.trades) > tradeRingCapacity {
		s.trades = s.trades[len(s.trades)-tradeRingCapacity:]
	}
	return nil
}

// PlaceOrder validates, risk-checks, matches, and persists a new order.
func (s *Service) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.PlaceOrderResult, error) {
	if !s.pricing.HasSymbol(req.Symbol) {
		return nil, &domain.UnknownSymbolError{Symbol: req.Symbol}
	}

	notionalPrice := 0.0
	if req.Price != nil {
		notionalPrice = *req.Price
	} else if p, ok := s.pricing.PriceFor(req.Symbol); ok {
		notionalPrice = p
	}
	notional := notionalPrice * float64(req.Quantity)

	if err := s.risk.EnsureCreditLimit(ctx, req, notional); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := &domain.OrderStatus{
		OrderID:           uuid.New().String(),
		UserID:            req.UserID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderType:         req.OrderType,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Price:             req.Price,
		Status:            domain.OrderAccepted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.orders[status.OrderID] = status

	fills, touchedUsers := s.match(status)
	status.UpdatedAt = time.Now().UTC()

	if err := s.storage.RecordOrderStatus(ctx, *status); err != nil {
		return nil, &domain.InfrastructureError{Op: "record_order_status", Err: err}
	}
	counterIDs := map[string]struct{}{}
	for _, f := range fills {
		if f.CounterOrderID != "" {
			counterIDs[f.CounterOrderID] = struct{}{}
		}
	}
	for id := range counterIDs {
		if counterStatus, ok := s.orders[id]; ok {
			if err := s.storage.RecordOrderStatus(ctx, *counterStatus); err != nil {
				return nil, &domain.InfrastructureError{Op: "record_order_status", Err: err}
			}
		}
	}
	if len(fills) > 0 {
		if err := s.storage.RecordTrades(ctx, fills); err != nil {
			return nil, &domain.InfrastructureError{Op: "record_trades", Err: err}
		}
		s.risk.PublishFills(ctx, *status, fills)
	}
	s.risk.PublishOrder(ctx, *status, notional)
	s.persistPortfolios(ctx, touchedUsers)

	for _, f := range fills {
		if counterStatus, ok := s.orders[f.CounterOrderID]; ok && counterStatus.Status == domain.OrderFilled {
			s.fillOrder = append(s.fillOrder, f.CounterOrderID)
		}
	}
	if status.Status == domain.OrderFilled {
		s.fillOrder = append(s.fillOrder, status.OrderID)
	}
	s.pruneRegistry()

	return &domain.PlaceOrderResult{Order: *status, Fills: fills}, nil
}

func (s *Service) pruneRegistry() {
	if s.cfg.MaxRegistrySize <= 0 {
		return
	}
	for len(s.fillOrder) > 0 && len(s.orders) > s.cfg.MaxRegistrySize {
		oldest := s.fillOrder[0]
		s.fillOrder = s.fillOrder[1:]
		delete(s.orders, oldest)
	}
}

// OrderStatus returns the live order status, falling back to durable
// storage and caching the result back into the registry.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	if o, ok := s.orders[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	loaded, err := s.storage.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, &domain.InfrastructureError{Op: "load_order", Err: err}
	}
	if loaded == nil {
		return nil, nil
	}
	s.orders[orderID] = loaded
	cp := *loaded
	return &cp, nil
}

// Portfolio returns a fresh, valued snapshot of a user's holdings and
// cash, hydrating from durable storage on first access for that user.
func (s *Service) Portfolio(ctx context.Context, userID string) (*domain.PortfolioResponse, error) {
	if _, ok := s.ledgers[userID]; !ok {
		stored, err := s.storage.LoadPortfolio(ctx, userID)
		if err != nil {
			return nil, &domain.InfrastructureError{Op: "load_portfolio", Err: err}
		}
		if stored != nil {
			l := s.ledgerFor(userID)
			l.cash = stored.Cash
			for _, h := range stored.Holdings {
				l.positions[h.Symbol] = h.Quantity
			}
			return stored, nil
		}
	}

	snapshot := s.buildPortfolioSnapshot(userID)
	if err := s.storage.RecordPortfolioSnapshot(ctx, snapshot); err != nil {
		return nil, &domain.InfrastructureError{Op: "record_portfolio_snapshot", Err: err}
	}
	s.analytics.PublishPortfolioSnapshot(ctx, snapshot)
	s.risk.PublishPortfolio(ctx, snapshot)
	return &snapshot, nil
}

func (s *Service) buildPortfolioSnapshot(userID string) domain.PortfolioResponse {
	l := s.ledgerFor(userID)
	holdings := make([]domain.PortfolioHolding, 0, len(l.positions))
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		qty := l.positions[sym]
		if math.Abs(qty) == 0 {
			continue
		}
		price, _ := s.pricing.PriceFor(sym)
		holdings = append(holdings, domain.PortfolioHolding{
			Symbol:      sym,
			Quantity:    qty,
			MarketValue: round2(qty * price),
			LastPrice:   round2(price),
		})
	}
	return domain.PortfolioResponse{
		UserID:      userID,
		Cash:        round2(l.cash),
		Holdings:    holdings,
		LastUpdated: time.Now().UTC(),
	}
}

func (s *Service) persistPortfolios(ctx context.Context, users map[string]struct{}) {
	for userID := range users {
		snapshot := s.buildPortfolioSnapshot(userID)
		if err := s.storage.RecordPortfolioSnapshot(ctx, snapshot); err != nil {
			continue // best-effort side-channel persistence; order placement already committed
		}
		s.analytics.PublishPortfolioSnapshot(ctx, snapshot)
		s.risk.PublishPortfolio(ctx, snapshot)
	}
}

// RecentTrades returns up to limit most-recent fills, newest last.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]domain.TradeFill, error) {
	if limit <= len(s.trades) {
		start := len(s.trades) - limit
		if start < 0 {
			start = 0
		}
		out := make([]domain.TradeFill, len(s.trades)-start)
		copy(out, s.trades[start:])
		return out, nil
	}

	loaded, err := s.storage.LoadRecentTrades(ctx, limit)
	if err != nil {
		return nil, &domain.InfrastructureError{Op: "load_recent_trades", Err: err}
	}
	if len(loaded) > 0 {
		sort.Slice(loaded, func(i, j int) bool { return loaded[i].ExecutedAt.Before(loaded[j].ExecutedAt) })
		s.trades = append(s.trades, loaded...)
		if len(s.trades) > tradeRingCapacity {
			s.trades = s.trades[len(s.trades)-tradeRingCapacity:]
		}
		return loaded, nil
	}
	start := len(s.trades) - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.TradeFill, len(s.trades)-start)
	copy(out, s.trades[start:])
	return out, nil
}

// match runs the price-time priority matching loop for an incoming order,
// mutating the order's remaining quantity/status and the touched book in
// place, returning the fills it produced and the set of touched user ids.
func (s *Service) match(order *domain.OrderStatus) ([]domain.TradeFill, map[string]struct{}) {
	b := s.books[order.Symbol]
	cSide := counterSide(order.Side)
	var fills []domain.TradeFill
	touched := map[string]struct{}{order.UserID: {}}
	now := time.Now().UTC()

	crossable := func(candidatePrice float64) bool {
		if order.OrderType == domain.OrderTypeMarket {
			return true
		}
		if order.Price == nil {
			return false
		}
		if order.Side == domain.SideBuy {
			return candidatePrice <= *order.Price
		}
		return candidatePrice >= *order.Price
	}

	for order.RemainingQuantity > 0 {
		counter := b.bestCounter(order.Side)
		if counter == nil {
			break
		}
		if !crossable(counter.price) {
			break
		}

		tradeQty := order.RemainingQuantity
		if counter.remaining < tradeQty {
			tradeQty = counter.remaining
		}
		order.RemainingQuantity -= tradeQty
		counter.remaining -= tradeQty

		counterStatus := s.orders[counter.orderID]
		counterStatus.RemainingQuantity -= tradeQty
		counterStatus.UpdatedAt = now
		if counterStatus.RemainingQuantity == 0 {
			counterStatus.Status = domain.OrderFilled
		} else {
			counterStatus.Status = domain.OrderPartiallyFilled
		}

		fill := domain.TradeFill{
			OrderID:        order.OrderID,
			CounterOrderID: counter.orderID,
			Symbol:         order.Symbol,
			Price:          round2(counter.price),
			Quantity:       tradeQty,
			ExecutedAt:     now,
		}
		s.trades = append(s.trades, fill)
		if len(s.trades) > tradeRingCapacity {
			s.trades = s.trades[len(s.trades)-tradeRingCapacity:]
		}
		s.pricing.RecordTrade(order.Symbol, tradeQty, counter.price)
		fills = append(fills, fill)
		touched[counterStatus.UserID] = struct{}{}

		s.applyFill(order.UserID, order.Symbol, order.Side, tradeQty, counter.price)
		s.applyFill(counterStatus.UserID, counterStatus.Symbol, counterStatus.Side, tradeQty, counter.price)

		if counter.remaining == 0 {
			b.remove(cSide, counter.orderID)
		}
	}

	switch {
	case order.RemainingQuantity == 0:
		order.Status = domain.OrderFilled
	case order.RemainingQuantity < order.Quantity:
		// Partially filled: the residual is not re-rested, matching the
		// source's literal behavior — only an order with zero fills
		// reaches the book. DropResidualMarketOrders has no effect here;
		// it governs only the zero-fill ACCEPTED branch below.
		order.Status = domain.OrderPartiallyFilled
	default:
		order.Status = domain.OrderAccepted
		if order.OrderType != domain.OrderTypeMarket || !s.cfg.DropResidualMarketOrders {
			s.rest(b, order, now)
		}
	}
	order.UpdatedAt = now

	return fills, touched
}

// rest appends the order's remaining quantity to its own-side book. It is
// reached only for an order that traded nothing. A limit order rests at
// its own price; a market order rests at the instrument's current price —
// see the DropResidualMarketOrders config knob for the alternative
// (IOC-style drop).
func (s *Service) rest(b *book, order *domain.OrderStatus, now time.Time) {
	price := 0.0
	if order.Price != nil {
		price = *order.Price
	} else if p, ok := s.pricing.PriceFor(order.Symbol); ok {
		price = p
	}
	b.add(order.Side, &restingOrder{
		orderID:   order.OrderID,
		userID:    order.UserID,
		price:     price,
		remaining: order.RemainingQuantity,
		createdAt: s.nextSeq(),
	})
}

// applyFill performs the unchecked, signed ledger update from
// `_apply_fill`: position moves by +quantity for the buy side and
// -quantity for the sell side; cash moves by the opposite sign. No
// non-negative validation is applied — short positions and unlimited
// credit are permitted by design (see DESIGN.md open question #3).
func (s *Service) applyFill(userID, symbol string, side domain.Side, quantity int64, price float64) {
	l := s.ledgerFor(userID)
	multiplier := 1.0
	cashSign := -1.0
	if side == domain.SideSell {
		multiplier = -1.0
		cashSign = 1.0
	}
	l.positions[symbol] += multiplier * float64(quantity)
	l.cash += cashSign * price * float64(quantity)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
