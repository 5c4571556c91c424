// Package pricing implements the per-instrument GBM price simulation,
// market regime rotation, and news generation described for the pricing
// service. Grounded on the teacher's engine.MarketEngine (tick-from-map,
// sector-shock generation) and on original_source's PricingService, which
// is authoritative for the exact return/regime/news formulas.
package pricing

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/virtualbank/marketsim/internal/domain"
	"github.com/virtualbank/marketsim/internal/rng"
)

const newsRingCapacity = 50

type tickerState struct {
	symbol     string
	name       string
	sector     string
	basePrice  float64
	volatility float64
	price      float64
	openPrice  float64
	highPrice  float64
	lowPrice   float64
	volume     int64
	lastUpdate time.Time
}

// Service holds all instrument pricing state plus the active regime and
// recent news ring. An internal RWMutex guards every method, so the
// service is safe to read directly from HTTP handlers; the orchestrator
// additionally holds the engine-wide lock when calling
// Tick/RecordTrade/RotateRegime/GenerateNews.
type Service struct {
	mu sync.RWMutex

	rng *rng.Generator

	tickers      map[string]*tickerState
	order        []string // stable iteration order, matches instrument load order
	regimes      []domain.Regime
	activeRegime int

	news []domain.NewsItem
}

// New constructs a pricing service. Matches the Python constructor's
// validation: both tickers and regimes must be non-empty.
func New(instruments []domain.Instrument, regimes []domain.Regime, generator *rng.Generator) (*Service, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("pricing: at least one instrument is required")
	}
	if len(regimes) == 0 {
		return nil, fmt.Errorf("pricing: at least one regime is required")
	}

	s := &Service{
		rng:     generator,
		tickers: make(map[string]*tickerState, len(instruments)),
		order:   make([]string, 0, len(instruments)),
		regimes: regimes,
	}
	s.regimes[0].StartedAt = time.Now().UTC()

	for _, inst := range instruments {
		st := &tickerState{
			symbol:     inst.Symbol,
			name:       inst.Name,
			sector:     inst.Sector,
			basePrice:  inst.BasePrice,
			volatility: inst.Volatility,
			price:      inst.BasePrice,
			openPrice:  inst.BasePrice,
			highPrice:  inst.BasePrice,
			lowPrice:   inst.BasePrice,
			lastUpdate: time.Now().UTC(),
		}
		s.tickers[inst.Symbol] = st
		s.order = append(s.order, inst.Symbol)
	}

	return s, nil
}

// Tick advances every instrument's price by one simulated step and
// returns the resulting snapshots, all stamped with a single timestamp.
func (s *Service) Tick() []domain.TickerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	regime := s.regimes[s.activeRegime]
	now := time.Now().UTC()
	out := make([]domain.TickerSnapshot, 0, len(s.order))

	for _, sym := range s.order {
		st := s.tickers[sym]
		delta := s.sampleReturn(st, regime)
		newPrice := math.Max(0.5, st.price*math.Exp(delta))
		st.price = newPrice
		st.highPrice = math.Max(st.highPrice, newPrice)
		st.lowPrice = math.Min(st.lowPrice, newPrice)
		st.lastUpdate = now
		out = append(out, snapshotFrom(st))
	}
	return out
}

// RecordTrade updates a single instrument's price/high/low/volume after a
// fill, exactly mirroring `PricingService.record_trade`. Called once per
// fill from the matching service.
func (s *Service) RecordTrade(symbol string, quantity int64, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tickers[symbol]
	if !ok {
		return
	}
	st.price = price
	st.highPrice = math.Max(st.highPrice, price)
	st.lowPrice = math.Min(st.lowPrice, price)
	st.volume += quantity
	st.lastUpdate = time.Now().UTC()
}

// Snapshot returns the current state of every instrument.
func (s *Service) Snapshot() []domain.TickerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TickerSnapshot, 0, len(s.order))
	for _, sym := range s.order {
		out = append(out, snapshotFrom(s.tickers[sym]))
	}
	return out
}

// PriceFor returns the current price of a single instrument.
func (s *Service) PriceFor(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tickers[symbol]
	if !ok {
		return 0, false
	}
	return st.price, true
}

// SetPrice overwrites an instrument's live price. High, low, volume, and
// last-update are left unchanged; an unknown symbol is ignored.
func (s *Service) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tickers[symbol]; ok {
		st.price = price
	}
}

// HasSymbol reports whether symbol names a known instrument.
func (s *Service) HasSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tickers[symbol]
	return ok
}

// Symbols returns all instrument symbols in load order.
func (s *Service) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ActiveRegime returns the currently active market regime.
func (s *Service) ActiveRegime() domain.Regime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regimes[s.activeRegime]
}

// Regimes returns every configured regime.
func (s *Service) Regimes() []domain.Regime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Regime, len(s.regimes))
	copy(out, s.regimes)
	return out
}

// RotateRegime advances to the next regime, wrapping around.
func (s *Service) RotateRegime() domain.Regime {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRegime = (s.activeRegime + 1) % len(s.regimes)
	s.regimes[s.activeRegime].StartedAt = time.Now().UTC()
	return s.regimes[s.activeRegime]
}

var sentimentHeadlines = map[string]func(name string) string{
	"positive": func(name string) string { return name + " surges on upbeat community momentum" },
	"neutral":  func(name string) string { return name + " reports steady progress in quarterly briefing" },
	"negative": func(name string) string { return name + " faces short-term headwinds amid sector rotation" },
}

var sentiments = []string{"positive", "neutral", "negative"}

// GenerateNews draws a random instrument and sentiment, prepends the item
// to the bounded news ring (capacity 50), and returns it.
func (s *Service) GenerateNews() *domain.NewsItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}

	symbol := s.order[s.rng.Intn(len(s.order))]
	st := s.tickers[symbol]
	sentiment := sentiments[s.rng.Intn(len(sentiments))]

	item := domain.NewsItem{
		Symbol:    symbol,
		Sentiment: sentiment,
		Headline:  sentimentHeadlines[sentiment](st.name),
		Timestamp: time.Now().UTC(),
	}

	s.news = append([]domain.NewsItem{item}, s.news...)
	if len(s.news) > newsRingCapacity {
		s.news = s.news[:newsRingCapacity]
	}
	return &item
}

// RecentNews returns the news ring, most recent first.
func (s *Service) RecentNews() []domain.NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.NewsItem, len(s.news))
	copy(out, s.news)
	return out
}

// sampleReturn computes drift + gaussian noise + deterministic sector bias,
// matching `PricingService._sample_return`.
func (s *Service) sampleReturn(st *tickerState, regime domain.Regime) float64 {
	noise := s.rng.GaussianScaled(0, st.volatility*regime.VolMultiple)
	bias := s.sectorBias(st.sector)
	return regime.Drift + noise + bias
}

// sectorBias derives a fresh scoped generator from a hash of
// (sector, active regime index, hour bucket) and draws one uniform sample
// from it, matching `PricingService._sector_bias`. The same tuple always
// yields the same bias within the same hour, so sector-wide correlation is
// reproducible without needing to share state across instruments.
func (s *Service) sectorBias(sector string) float64 {
	hourBucket := time.Now().Unix() / 3600
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|%d", sector, s.activeRegime, hourBucket)
	scoped := rng.Derive(h.Sum32())
	return scoped.Uniform(-0.0005, 0.0005)
}

func snapshotFrom(st *tickerState) domain.TickerSnapshot {
	return domain.TickerSnapshot{
		Symbol:     st.symbol,
		Price:      round2(st.price),
		OpenPrice:  round2(st.openPrice),
		HighPrice:  round2(st.highPrice),
		LowPrice:   round2(st.lowPrice),
		Volume:     st.volume,
		LastUpdate: st.lastUpdate,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DefaultRegimes returns the four named regimes the original dataset ships
// with, matching `engine.py::_default_regimes` exactly.
func DefaultRegimes() []domain.Regime {
	return []domain.Regime{
		{Name: "Calm", Drift: 0.0006, VolMultiple: 0.8, Description: "Low volatility baseline session with gentle drift"},
		{Name: "Rally", Drift: 0.0015, VolMultiple: 1.2, Description: "Broad-based optimism lifts most sectors"},
		{Name: "Turbulence", Drift: -0.0002, VolMultiple: 1.8, Description: "Event-driven chop with sharp reversals"},
		{Name: "Correction", Drift: -0.001, VolMultiple: 1.4, Description: "Risk-off rotation compressing valuations"},
	}
}
