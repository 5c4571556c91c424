// Package dataset loads the instrument universe from a JSON file.
// Grounded on original_source's StockMarketEngine.from_dataset: plain
// encoding/json is the right tool here — a one-shot small-file parse at
// startup has no streaming or throughput requirement that would justify
// a faster decoder elsewhere in the pack.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/virtualbank/marketsim/internal/domain"
)

type company struct {
	Ticker     string   `json:"ticker"`
	Name       string   `json:"name"`
	Sector     string   `json:"sector"`
	BasePrice  *float64 `json:"base_price"`
	Volatility *float64 `json:"volatility"`
}

// Load reads a JSON array of company records from path and converts them
// into instruments, applying the same defaults as
// `engine.py::from_dataset`: base_price=25.0, volatility=0.08 clamped to
// a 0.01 floor, name defaults to the uppercased ticker, sector defaults
// to "General".
func Load(path string) ([]domain.Instrument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	var companies []company
	if err := json.Unmarshal(raw, &companies); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}

	instruments := make([]domain.Instrument, 0, len(companies))
	for _, c := range companies {
		symbol := strings.ToUpper(strings.TrimSpace(c.Ticker))
		if symbol == "" {
			continue
		}

		basePrice := 25.0
		if c.BasePrice != nil {
			basePrice = *c.BasePrice
		}
		volatility := 0.08
		if c.Volatility != nil {
			volatility = *c.Volatility
		}
		if volatility < 0.01 {
			volatility = 0.01
		}

		name := c.Name
		if name == "" {
			name = symbol
		}
		sector := c.Sector
		if sector == "" {
			sector = "General"
		}

		instruments = append(instruments, domain.Instrument{
			Symbol:     symbol,
			Name:       name,
			Sector:     sector,
			BasePrice:  basePrice,
			Volatility: volatility,
		})
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("dataset %s contains no usable instruments", path)
	}
	return instruments, nil
}
