// Package curve accumulates the price-quantity bids submitted by one side of
// a market during a single bidding period.
package curve

// Order is the price ordering of a Curve
type Order int

const (
	// Descending is the default order, highest price first.
	Descending Order = iota
	// Ascending is lowest price first, used for seller curves.
	Ascending
)

func (o Order) String() string {
	if o == Ascending {
		return "ascending"
	}
	return "descending"
}

// Bid is one participant's offer for a period. Prices are $/kWh, quantities kW.
type Bid struct {
	Price    float64 `json:"Price"`
	Quantity float64 `json:"Quantity"`
	On       bool    `json:"On"`
}

// Curve is an ordered accumulator of bids. Only Add mutates the bid sequence.
type Curve struct {
	bids     []Bid
	order    Order
	total    float64
	totalOn  float64
	totalOff float64
}

// New returns an empty, descending curve
func New() *Curve {
	return &Curve{order: Descending}
}

// Add inserts a bid ahead of the first existing bid with a price less than or
// equal to price. Bids at a tied price therefore rank newest first in
// descending order; an ascending curve holds the exact reverse.
// A zero quantity is ignored.
func (c *Curve) Add(price, quantity float64, isOn bool) {
	if quantity == 0 {
		return
	}
	c.total += quantity
	if isOn {
		c.totalOn += quantity
	} else {
		c.totalOff += quantity
	}

	b := Bid{Price: price, Quantity: quantity, On: isOn}
	i := c.insertIndex(price)
	c.bids = append(c.bids, Bid{})
	copy(c.bids[i+1:], c.bids[i:])
	c.bids[i] = b
}

func (c *Curve) insertIndex(price float64) int {
	for i, b := range c.bids {
		if c.order == Descending && price >= b.Price {
			return i
		}
		if c.order == Ascending && price < b.Price {
			return i
		}
	}
	return len(c.bids)
}

// SetOrder reverses the curve when the requested order differs from the current one.
func (c *Curve) SetOrder(o Order) {
	if o == c.order {
		return
	}
	for i, j := 0, len(c.bids)-1; i < j; i, j = i+1, j-1 {
		c.bids[i], c.bids[j] = c.bids[j], c.bids[i]
	}
	c.order = o
}

// Order returns the current price ordering
func (c Curve) Order() Order {
	return c.order
}

// Bids returns a copy of the ordered bids
func (c Curve) Bids() []Bid {
	out := make([]Bid, len(c.bids))
	copy(out, c.bids)
	return out
}

// At returns the i-th bid in the current order
func (c Curve) At(i int) Bid {
	return c.bids[i]
}

// Count returns the number of collected bids
func (c Curve) Count() int {
	return len(c.bids)
}

// Total returns the summed quantity of all bids
func (c Curve) Total() float64 {
	return c.total
}

// TotalOn returns the summed quantity of bids from devices that are on
func (c Curve) TotalOn() float64 {
	return c.totalOn
}

// TotalOff returns the summed quantity of bids from devices that are off
func (c Curve) TotalOff() float64 {
	return c.totalOff
}
