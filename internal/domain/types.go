// Package domain holds the value types shared across the market
// simulator: instruments, regimes, orders, fills, portfolios, and news.
package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderState is the lifecycle status of an order.
type OrderState string

const (
	OrderAccepted        OrderState = "ACCEPTED"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
)

// Instrument is a single tradable ticker.
type Instrument struct {
	Symbol     string
	Name       string
	Sector     string
	BasePrice  float64
	Volatility float64
}

// Regime is one named market-wide drift/volatility posture. StartedAt and
// the active index are the only fields that change after construction.
type Regime struct {
	Name        string    `json:"name"`
	Drift       float64   `json:"drift"`
	VolMultiple float64   `json:"vol_multiple"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
}

// TickerSnapshot is the current pricing state of one instrument.
type TickerSnapshot struct {
	Symbol     string    `json:"symbol" bson:"symbol"`
	Price      float64   `json:"price" bson:"price"`
	OpenPrice  float64   `json:"open_price" bson:"open_price"`
	HighPrice  float64   `json:"high_price" bson:"high_price"`
	LowPrice   float64   `json:"low_price" bson:"low_price"`
	Volume     int64     `json:"volume" bson:"volume"`
	LastUpdate time.Time `json:"last_update" bson:"recorded_at"`
}

// NewsItem is a single generated headline tied to a symbol.
type NewsItem struct {
	Symbol    string    `json:"symbol"`
	Sentiment string    `json:"sentiment"`
	Headline  string    `json:"headline"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest is the input to PlaceOrder.
type OrderRequest struct {
	UserID    string
	Symbol    string
	Side      Side
	OrderType OrderType
	Quantity  int64
	// Price is the limit price. It is not validated: a LIMIT order without
	// one never crosses and rests at the instrument's current price. A
	// MARKET order crosses regardless of it, but when set it is used for
	// the credit-check notional and as the resting price.
	Price *float64
}

// OrderStatus is the durable, queryable state of a placed order.
type OrderStatus struct {
	OrderID            string     `json:"order_id" bson:"order_id"`
	UserID             string     `json:"user_id" bson:"user_id"`
	Symbol             string     `json:"symbol" bson:"symbol"`
	Side               Side       `json:"side" bson:"side"`
	OrderType          OrderType  `json:"order_type" bson:"order_type"`
	Quantity           int64      `json:"quantity" bson:"quantity"`
	RemainingQuantity  int64      `json:"remaining_quantity" bson:"remaining_quantity"`
	Price              *float64   `json:"price,omitempty" bson:"price"`
	Status             OrderState `json:"status" bson:"status"`
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" bson:"updated_at"`
}

// TradeFill is one execution resulting from matching.
type TradeFill struct {
	OrderID        string    `json:"order_id" bson:"order_id"`
	CounterOrderID string    `json:"counter_order_id" bson:"counter_order_id"`
	Symbol         string    `json:"symbol" bson:"symbol"`
	Price          float64   `json:"price" bson:"price"`
	Quantity       int64     `json:"quantity" bson:"quantity"`
	ExecutedAt     time.Time `json:"executed_at" bson:"executed_at"`
}

// PortfolioHolding is a single symbol's position within a portfolio, valued
// at the latest instrument price.
type PortfolioHolding struct {
	Symbol      string  `json:"symbol" bson:"symbol"`
	Quantity    float64 `json:"quantity" bson:"quantity"`
	MarketValue float64 `json:"market_value" bson:"market_value"`
	LastPrice   float64 `json:"last_price" bson:"last_price"`
}

// PortfolioResponse is a user's full cash + holdings snapshot.
type PortfolioResponse struct {
	UserID      string             `json:"user_id" bson:"user_id"`
	Cash        float64            `json:"cash" bson:"cash"`
	Holdings    []PortfolioHolding `json:"holdings" bson:"holdings"`
	LastUpdated time.Time          `json:"last_updated" bson:"last_updated"`
}

// PlaceOrderResult is returned by the matching service on order placement.
type PlaceOrderResult struct {
	Order OrderStatus
	Fills []TradeFill
}
