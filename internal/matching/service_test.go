package matching

import (
	"context"
	"testing"

	"github.com/virtualbank/marketsim/internal/domain"
)

// fakePricing is a minimal in-memory PriceSource for tests.
type fakePricing struct {
	prices  map[string]float64
	symbols map[string]bool
	trades  []domain.TradeFill
}

func newFakePricing(prices map[string]float64) *fakePricing {
	symbols := make(map[string]bool, len(prices))
	for sym := range prices {
		symbols[sym] = true
	}
	return &fakePricing{prices: prices, symbols: symbols}
}

func (f *fakePricing) PriceFor(symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *fakePricing) RecordTrade(symbol string, quantity int64, price float64) {
	f.prices[symbol] = price
	f.trades = append(f.trades, domain.TradeFill{Symbol: symbol, Quantity: quantity, Price: price})
}

func (f *fakePricing) HasSymbol(symbol string) bool { return f.symbols[symbol] }

// fakeStorage is an in-memory Storage.
type fakeStorage struct {
	orders     map[string]domain.OrderStatus
	trades     []domain.TradeFill
	portfolios map[string]domain.PortfolioResponse
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		orders:     make(map[string]domain.OrderStatus),
		portfolios: make(map[string]domain.PortfolioResponse),
	}
}

func (f *fakeStorage) RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error {
	f.orders[status.OrderID] = status
	return nil
}

func (f *fakeStorage) RecordTrades(ctx context.Context, fills []domain.TradeFill) error {
	f.trades = append(f.trades, fills...)
	return nil
}

func (f *fakeStorage) RecordPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse) error {
	f.portfolios[snapshot.UserID] = snapshot
	return nil
}

func (f *fakeStorage) LoadOrder(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeStorage) LoadOpenOrders(ctx context.Context) ([]domain.OrderStatus, error) {
	return nil, nil
}

func (f *fakeStorage) LoadPortfolio(ctx context.Context, userID string) (*domain.PortfolioResponse, error) {
	p, ok := f.portfolios[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStorage) LoadAllPortfolios(ctx context.Context) ([]domain.PortfolioResponse, error) {
	return nil, nil
}

func (f *fakeStorage) LoadRecentTrades(ctx context.Context, limit int) ([]domain.TradeFill, error) {
	return nil, nil
}

// fakeRisk never rejects and records calls.
type fakeRisk struct {
	reject bool
}

func (f *fakeRisk) EnsureCreditLimit(ctx context.Context, req domain.OrderRequest, notional float64) error {
	if f.reject {
		return &domain.RiskRejectionError{Reason: "test rejection"}
	}
	return nil
}
func (f *fakeRisk) PublishOrder(ctx context.Context, status domain.OrderStatus, notional float64) {}
func (f *fakeRisk) PublishFills(ctx context.Context, status domain.OrderStatus, fills []domain.TradeFill) {
}
func (f *fakeRisk) PublishPortfolio(ctx context.Context, snapshot domain.PortfolioResponse) {}

type fakeAnalytics struct{}

func (fakeAnalytics) PublishPortfolioSnapshot(ctx context.Context, snapshot domain.PortfolioResponse) {
}

func newTestService(t *testing.T, symbols []string, prices map[string]float64, cfg Config) (*Service, *fakeStorage, *fakeRisk) {
	t.Helper()
	storage := newFakeStorage()
	risk := &fakeRisk{}
	svc := New(newFakePricing(prices), storage, risk, fakeAnalytics{}, symbols, cfg)
	return svc, storage, risk
}

func limitPrice(p float64) *float64 { return &p }

func TestPlaceOrderUnknownSymbol(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{
		UserID: "u1", Symbol: "ZZZ", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket, Quantity: 10,
	})
	if _, ok := err.(*domain.UnknownSymbolError); !ok {
		t.Fatalf("got %v (%T), want *domain.UnknownSymbolError", err, err)
	}
}

func TestPlaceOrderRiskRejection(t *testing.T) {
	svc, _, risk := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	risk.reject = true
	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{
		UserID: "u1", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket, Quantity: 10,
	})
	if _, ok := err.(*domain.RiskRejectionError); !ok {
		t.Fatalf("got %v (%T), want *domain.RiskRejectionError", err, err)
	}
}

func TestZeroFillLimitOrderRestsOnBook(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()

	result, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
		Quantity: 100, Price: limitPrice(99),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Order.Status != domain.OrderAccepted {
		t.Fatalf("status = %s, want ACCEPTED", result.Order.Status)
	}
	if len(svc.books["AAA"].bids) != 1 {
		t.Fatalf("expected one resting bid level, got %d", len(svc.books["AAA"].bids))
	}
}

func TestFullCrossFillsBothOrders(t *testing.T) {
	svc, storage, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()

	sellResult, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "seller", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
		Quantity: 100, Price: limitPrice(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if sellResult.Order.Status != domain.OrderAccepted {
		t.Fatalf("resting sell status = %s, want ACCEPTED", sellResult.Order.Status)
	}

	buyResult, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
		Quantity: 100, Price: limitPrice(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if buyResult.Order.Status != domain.OrderFilled {
		t.Fatalf("buy status = %s, want FILLED", buyResult.Order.Status)
	}
	if len(buyResult.Fills) != 1 || buyResult.Fills[0].Quantity != 100 {
		t.Fatalf("unexpected fills: %+v", buyResult.Fills)
	}

	counter, ok := storage.orders[sellResult.Order.OrderID]
	if !ok || counter.Status != domain.OrderFilled {
		t.Fatalf("counter order not recorded as FILLED: %+v, ok=%v", counter, ok)
	}
	if len(svc.books["AAA"].asks) != 0 {
		t.Fatal("fully-filled resting sell should be removed from the book")
	}
}

// TestPartialFillDoesNotRestResidual is the regression test for the
// corrected resting behavior: a partially filled order's residual is
// never appended to its own book side, regardless of order type.
func TestPartialFillDoesNotRestResidual(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "seller", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
		Quantity: 50, Price: limitPrice(100),
	})
	if err != nil {
		t.Fatal(err)
	}

	buyResult, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
		Quantity: 100, Price: limitPrice(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if buyResult.Order.Status != domain.OrderPartiallyFilled {
		t.Fatalf("status = %s, want PARTIALLY_FILLED", buyResult.Order.Status)
	}
	if buyResult.Order.RemainingQuantity != 50 {
		t.Fatalf("remaining = %d, want 50", buyResult.Order.RemainingQuantity)
	}
	if len(svc.books["AAA"].bids) != 0 {
		t.Fatal("a partially filled order's residual must never be rested")
	}
}

func TestZeroFillMarketOrderRestsAtCurrentPriceByDefault(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 77}, Config{})
	ctx := context.Background()

	result, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Order.Status != domain.OrderAccepted {
		t.Fatalf("status = %s, want ACCEPTED", result.Order.Status)
	}
	if len(svc.books["AAA"].bids) != 1 {
		t.Fatal("a zero-fill market order should rest at the instrument's current price by default")
	}
	if svc.books["AAA"].bids[0].price != 77 {
		t.Fatalf("resting price = %f, want 77", svc.books["AAA"].bids[0].price)
	}
}

func TestDropResidualMarketOrdersSkipsRestingZeroFill(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 77}, Config{DropResidualMarketOrders: true})
	ctx := context.Background()

	result, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Order.Status != domain.OrderAccepted {
		t.Fatalf("status = %s, want ACCEPTED", result.Order.Status)
	}
	if len(svc.books["AAA"].bids) != 0 {
		t.Fatal("DropResidualMarketOrders should prevent the zero-fill market order from resting")
	}
}

func TestApplyFillUpdatesLedgerBothSides(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()

	svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "seller", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
		Quantity: 10, Price: limitPrice(50),
	})
	svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
		Quantity: 10, Price: limitPrice(50),
	})

	buyerPortfolio, err := svc.Portfolio(ctx, "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if buyerPortfolio.Cash != -500 {
		t.Fatalf("buyer cash = %f, want -500", buyerPortfolio.Cash)
	}
	sellerPortfolio, err := svc.Portfolio(ctx, "seller")
	if err != nil {
		t.Fatal(err)
	}
	if sellerPortfolio.Cash != 500 {
		t.Fatalf("seller cash = %f, want 500", sellerPortfolio.Cash)
	}
}

func TestOrderStatusFallsBackToStorage(t *testing.T) {
	svc, storage, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()
	storage.orders["external-1"] = domain.OrderStatus{OrderID: "external-1", Status: domain.OrderFilled}

	status, err := svc.OrderStatus(ctx, "external-1")
	if err != nil {
		t.Fatal(err)
	}
	if status == nil || status.Status != domain.OrderFilled {
		t.Fatalf("got %+v, want a FILLED order loaded from storage", status)
	}
}

func TestOrderStatusUnknownReturnsNilNotError(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	status, err := svc.OrderStatus(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Fatalf("got %+v, want nil", status)
	}
}

func TestPruneRegistryBoundsSize(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{MaxRegistrySize: 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.PlaceOrder(ctx, domain.OrderRequest{
			UserID: "u", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
			Quantity: 10, Price: limitPrice(100),
		})
		svc.PlaceOrder(ctx, domain.OrderRequest{
			UserID: "u2", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
			Quantity: 10, Price: limitPrice(100),
		})
	}
	if len(svc.orders) > 2 {
		t.Fatalf("registry size = %d, expected pruning to keep it small", len(svc.orders))
	}
}

func TestPriceTimePriorityFIFOWithinLevel(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"AAA"}, map[string]float64{"AAA": 100}, Config{})
	ctx := context.Background()

	first, _ := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "first", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
		Quantity: 10, Price: limitPrice(100),
	})
	svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "second", Symbol: "AAA", Side: domain.SideSell, OrderType: domain.OrderTypeLimit,
		Quantity: 10, Price: limitPrice(100),
	})

	buyResult, err := svc.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "buyer", Symbol: "AAA", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit,
		Quantity: 10, Price: limitPrice(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(buyResult.Fills) != 1 || buyResult.Fills[0].CounterOrderID != first.Order.OrderID {
		t.Fatalf("expected the earliest resting order to fill first, got %+v", buyResult.Fills)
	}
}
