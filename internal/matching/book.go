package matching

import "github.com/virtualbank/marketsim/internal/domain"

// restingOrder is one entry on a book side: a resting quantity at a price,
// tagged with the order id and arrival time needed for price-time
// priority. Adapted from the teacher's orderbook.Order/PriceLevel, but
// unlike the teacher's book (capped at 10 price levels, built for a feed
// simulator where depth is cosmetic) this book never truncates levels —
// the matching contract requires every resting order to remain reachable.
type restingOrder struct {
	orderID   string
	userID    string
	price     float64
	remaining int64
	createdAt int64 // monotonic sequence number, not wall time — breaks ties deterministically
}

type priceLevel struct {
	price  float64
	orders []*restingOrder
}

// book is a two-sided, price-time priority book for one symbol. Sides are
// kept as sorted slices of price levels, each level a FIFO queue — the
// same representation as the teacher's orderbook.Book, generalized to
// unbounded depth and string order ids.
type book struct {
	bids []priceLevel // descending by price
	asks []priceLevel // ascending by price
}

func newBook() *book {
	return &book{}
}

func (b *book) add(side domain.Side, o *restingOrder) {
	if side == domain.SideBuy {
		b.bids = addToSide(b.bids, o, true)
	} else {
		b.asks = addToSide(b.asks, o, false)
	}
}

func (b *book) remove(side domain.Side, orderID string) {
	if side == domain.SideBuy {
		b.bids = removeFromSide(b.bids, orderID)
	} else {
		b.asks = removeFromSide(b.asks, orderID)
	}
}

// bestCounter returns the best resting order on the opposite side for an
// incoming order of the given side: best bid for an incoming sell, best
// ask for an incoming buy.
func (b *book) bestCounter(incomingSide domain.Side) *restingOrder {
	if incomingSide == domain.SideBuy {
		if len(b.asks) == 0 || len(b.asks[0].orders) == 0 {
			return nil
		}
		return b.asks[0].orders[0]
	}
	if len(b.bids) == 0 || len(b.bids[0].orders) == 0 {
		return nil
	}
	return b.bids[0].orders[0]
}

// counterSide returns the book side opposite an incoming order.
func counterSide(incomingSide domain.Side) domain.Side {
	if incomingSide == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func (b *book) allOrders() []*restingOrder {
	var out []*restingOrder
	for _, lvl := range b.bids {
		out = append(out, lvl.orders...)
	}
	for _, lvl := range b.asks {
		out = append(out, lvl.orders...)
	}
	return out
}

func addToSide(levels []priceLevel, o *restingOrder, descending bool) []priceLevel {
	for i := range levels {
		if levels[i].price == o.price {
			levels[i].orders = append(levels[i].orders, o)
			return levels
		}
	}

	levels = append(levels, priceLevel{price: o.price, orders: []*restingOrder{o}})

	// insertion sort: levels are only ever extended by one entry at a time
	for i := len(levels) - 1; i > 0; i-- {
		swap := false
		if descending {
			swap = levels[i].price > levels[i-1].price
		} else {
			swap = levels[i].price < levels[i-1].price
		}
		if !swap {
			break
		}
		levels[i], levels[i-1] = levels[i-1], levels[i]
	}
	return levels
}

func removeFromSide(levels []priceLevel, orderID string) []priceLevel {
	for i := range levels {
		for j := range levels[i].orders {
			if levels[i].orders[j].orderID == orderID {
				levels[i].orders = append(levels[i].orders[:j], levels[i].orders[j+1:]...)
				if len(levels[i].orders) == 0 {
					levels = append(levels[:i], levels[i+1:]...)
				}
				return levels
			}
		}
	}
	return levels
}
