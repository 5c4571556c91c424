package pricing

import (
	"testing"
	"time"

	"github.com/virtualbank/marketsim/internal/domain"
	"github.com/virtualbank/marketsim/internal/rng"
)

func testInstruments() []domain.Instrument {
	return []domain.Instrument{
		{Symbol: "AAA", Name: "Alpha Corp", Sector: "Tech", BasePrice: 100, Volatility: 0.1},
		{Symbol: "BBB", Name: "Beta Inc", Sector: "Finance", BasePrice: 50, Volatility: 0.05},
	}
}

func TestNewRequiresInstrumentsAndRegimes(t *testing.T) {
	g := rng.New(1)
	if _, err := New(nil, DefaultRegimes(), g); err == nil {
		t.Fatal("expected error for empty instruments")
	}
	if _, err := New(testInstruments(), nil, g); err == nil {
		t.Fatal("expected error for empty regimes")
	}
}

func TestTickProducesSnapshotsForEveryInstrument(t *testing.T) {
	svc, err := New(testInstruments(), DefaultRegimes(), rng.New(1))
	if err != nil {
		t.Fatal(err)
	}
	snaps := svc.Tick()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	for _, s := range snaps {
		if s.Price <= 0 {
			t.Fatalf("symbol %s got non-positive price %f", s.Symbol, s.Price)
		}
	}
}

func TestTickTracksHighLow(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(7))
	var lastHigh, lastLow float64
	for i := 0; i < 50; i++ {
		snaps := svc.Tick()
		for _, s := range snaps {
			if s.Symbol != "AAA" {
				continue
			}
			if s.HighPrice < s.Price {
				t.Fatalf("high %f below price %f", s.HighPrice, s.Price)
			}
			if s.LowPrice > s.Price {
				t.Fatalf("low %f above price %f", s.LowPrice, s.Price)
			}
			lastHigh, lastLow = s.HighPrice, s.LowPrice
		}
	}
	if lastHigh < lastLow {
		t.Fatal("high must never be below low")
	}
}

func TestRecordTradeUpdatesPriceAndVolume(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	svc.RecordTrade("AAA", 100, 123.45)

	price, ok := svc.PriceFor("AAA")
	if !ok || price != 123.45 {
		t.Fatalf("PriceFor(AAA) = %f, %v, want 123.45, true", price, ok)
	}

	snap := svc.Snapshot()
	for _, s := range snap {
		if s.Symbol == "AAA" && s.Volume != 100 {
			t.Fatalf("volume = %d, want 100", s.Volume)
		}
	}
}

func TestRecordTradeUnknownSymbolIsNoop(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	svc.RecordTrade("ZZZ", 1, 1)
	if _, ok := svc.PriceFor("ZZZ"); ok {
		t.Fatal("unknown symbol should not materialize")
	}
}

func TestHasSymbol(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	if !svc.HasSymbol("AAA") {
		t.Fatal("expected AAA to be known")
	}
	if svc.HasSymbol("ZZZ") {
		t.Fatal("expected ZZZ to be unknown")
	}
}

func TestRotateRegimeWrapsAround(t *testing.T) {
	regimes := DefaultRegimes()
	svc, _ := New(testInstruments(), regimes, rng.New(1))
	for i := 0; i < len(regimes); i++ {
		svc.RotateRegime()
	}
	if got := svc.ActiveRegime(); got.Name != regimes[0].Name {
		t.Fatalf("after a full cycle active regime = %s, want %s", got.Name, regimes[0].Name)
	}
}

func TestGenerateNewsPrependsAndCaps(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(3))
	for i := 0; i < newsRingCapacity+10; i++ {
		svc.GenerateNews()
	}
	news := svc.RecentNews()
	if len(news) != newsRingCapacity {
		t.Fatalf("news ring length = %d, want %d", len(news), newsRingCapacity)
	}
}

func TestGenerateNewsEmptyUniverse(t *testing.T) {
	svc := &Service{rng: rng.New(1), regimes: DefaultRegimes()}
	if item := svc.GenerateNews(); item != nil {
		t.Fatal("expected nil news for an empty instrument universe")
	}
}

func TestSetPriceOverridesOnlyKnownSymbol(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	svc.SetPrice("AAA", 999)
	price, _ := svc.PriceFor("AAA")
	if price != 999 {
		t.Fatalf("PriceFor(AAA) = %f, want 999", price)
	}
	svc.SetPrice("ZZZ", 1) // must not panic
}

func TestSnapshotOrderIsStable(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	s1 := svc.Snapshot()
	s2 := svc.Snapshot()
	for i := range s1 {
		if s1[i].Symbol != s2[i].Symbol {
			t.Fatal("snapshot order must be stable across calls")
		}
	}
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		1.005:   1.0,
		1.004:   1.0,
		1.006:   1.01,
		100.125: 100.13,
	}
	for in, want := range cases {
		if got := round2(in); got != want {
			t.Errorf("round2(%f) = %f, want %f", in, got, want)
		}
	}
}

func TestLastUpdateAdvancesOnTick(t *testing.T) {
	svc, _ := New(testInstruments(), DefaultRegimes(), rng.New(1))
	before := time.Now().UTC()
	snaps := svc.Tick()
	for _, s := range snaps {
		if s.LastUpdate.Before(before) {
			t.Fatal("LastUpdate should not be before the tick call")
		}
	}
}
