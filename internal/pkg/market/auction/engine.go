package auction

import (
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
)

// ClearingType describes the solution or boundary case of one clearing
type ClearingType int

const (
	Null ClearingType = iota
	Failure
	Price
	Exact
	Seller
	Buyer
)

func (c ClearingType) String() string {
	switch c {
	case Null:
		return "NULL"
	case Failure:
		return "FAILURE"
	case Price:
		return "PRICE"
	case Exact:
		return "EXACT"
	case Seller:
		return "SELLER"
	case Buyer:
		return "BUYER"
	}
	return "UNKNOWN"
}

// Params bound the clearing engine
type Params struct {
	PriceCap float64
	// BidOffset nudges a clearing price just off a neighbouring bid so that
	// the bid is not triggered.
	BidOffset float64
	// ClearingScalar interpolates between the best buy and sell prices when
	// nothing clears.
	ClearingScalar float64
}

// Result is the outcome of one clearing period
type Result struct {
	Type     ClearingType `json:"clearing_type"`
	Price    float64      `json:"clearing_price"`
	Quantity float64      `json:"clearing_quantity"`

	SettledBuy  float64 `json:"settled_buy"`
	SettledSell float64 `json:"settled_sell"`

	BuyCount         int     `json:"buy_count"`
	UnresponsiveBuy  float64 `json:"unresponsive_buy"`
	ResponsiveBuy    float64 `json:"responsive_buy"`
	SellCount        int     `json:"sell_count"`
	UnresponsiveSell float64 `json:"unresponsive_sell"`
	ResponsiveSell   float64 `json:"responsive_sell"`

	MarginalQuantity float64 `json:"marginal_quantity"`
	MarginalFraction float64 `json:"marginal_frac"`

	ConsumerSurplus        float64 `json:"consumer_surplus"`
	AverageConsumerSurplus float64 `json:"average_consumer_surplus"`
	SupplierSurplus        float64 `json:"supplier_surplus"`
	UnrespSupplierSurplus  float64 `json:"unresp_supplier_surplus"`

	// Unserved is responsive quantity granted beyond what sellers offered.
	Unserved float64 `json:"unserved"`
}

// Clear intersects the buyer and seller curves. Neither curve is modified;
// buyers are read in descending and sellers in ascending price order.
func Clear(buyer, seller *curve.Curve, p Params) Result {
	b := ordered(buyer, curve.Descending)
	s := ordered(seller, curve.Ascending)
	nb, ns := len(b), len(s)

	res := Result{Type: Null, BuyCount: nb, SellCount: ns}
	if nb == 0 || ns == 0 {
		switch {
		case ns > 0:
			res.Price = s[0].Price - p.BidOffset
		case nb > 0:
			res.Price = b[0].Price + p.BidOffset
		}
		return res
	}

	for _, bid := range s {
		if bid.Price == p.PriceCap {
			res.UnresponsiveSell += bid.Quantity
		} else {
			res.ResponsiveSell += bid.Quantity
		}
	}
	for _, bid := range b {
		if bid.Price == p.PriceCap {
			res.UnresponsiveBuy += bid.Quantity
		} else {
			res.ResponsiveBuy += bid.Quantity
		}
	}

	w := walk(b, s, p.PriceCap)
	res.Quantity = w.quantity
	res.Type = w.marginal
	if w.a == w.b {
		res.Price = w.a
	}
	if w.tied {
		res.Price = w.a
		if w.a == w.b {
			res.Type = Exact
		} else {
			res.Type = Price
			res.Price = w.interpolate(b, s, p)
		}
	}

	switch {
	case res.Quantity == 0:
		// both sides bid but the curves never cross
		res.Type = Failure
		switch s[0].Price {
		case p.PriceCap:
			res.Price = b[0].Price + p.BidOffset
		case -p.PriceCap:
			res.Price = s[0].Price - p.BidOffset
		default:
			res.Price = s[0].Price + (b[0].Price-s[0].Price)*p.ClearingScalar
		}
	case res.Quantity < res.UnresponsiveBuy:
		res.Type = Failure
		res.Price = p.PriceCap
	case res.Quantity < res.UnresponsiveSell:
		res.Type = Failure
		res.Price = -p.PriceCap
	case res.Quantity == res.UnresponsiveBuy && res.Quantity == res.UnresponsiveSell:
		res.Type = Price
		res.Price = 0.0
	}

	marginal(&res, b, s)
	settle(&res, b, s)
	surplus(&res, b, s, p.PriceCap)
	return res
}

// crossing is the state left behind by walking the two curves toward each other.
type crossing struct {
	i, j     int
	a, b     float64 // last buyer-side and seller-side prices
	quantity float64
	marginal ClearingType
	tied     bool // last step consumed a buyer and a seller at equal quantity
}

func walk(b, s []curve.Bid, cap float64) crossing {
	w := crossing{a: cap, b: -cap, marginal: Null}
	var demand, supply float64
	for w.i < len(b) && w.j < len(s) && b[w.i].Price >= s[w.j].Price {
		buyQ := demand + b[w.i].Quantity
		sellQ := supply + s[w.j].Quantity
		switch {
		case buyQ > sellQ:
			w.quantity, supply = sellQ, sellQ
			w.a, w.b = b[w.i].Price, b[w.i].Price
			w.j++
			w.tied = false
			w.marginal = Buyer
		case buyQ < sellQ:
			w.quantity, demand = buyQ, buyQ
			w.a, w.b = s[w.j].Price, s[w.j].Price
			w.i++
			w.tied = false
			w.marginal = Seller
		default:
			w.quantity, demand, supply = buyQ, buyQ, buyQ
			w.a, w.b = b[w.i].Price, s[w.j].Price
			w.i++
			w.j++
			w.tied = true
		}
	}
	return w
}

// interpolate picks a price inside the gap [b, a] left by a tied crossing that
// does not disturb the next untouched bid on either side.
func (w crossing) interpolate(b, s []curve.Bid, p Params) float64 {
	buyersLeft := w.i < len(b)
	sellersLeft := w.j < len(s)
	avg := (w.a + w.b) / 2.0
	high, low := w.a, w.b
	if buyersLeft {
		high = b[w.i].Price
	}
	if sellersLeft {
		low = s[w.j].Price
	}

	switch {
	case w.a == p.PriceCap && w.b != -p.PriceCap:
		if buyersLeft && b[w.i].Price > w.b {
			return b[w.i].Price + p.BidOffset
		}
		return w.b
	case w.a != p.PriceCap && w.b == -p.PriceCap:
		if sellersLeft && s[w.j].Price < w.a {
			return s[w.j].Price - p.BidOffset
		}
		return w.a
	case w.a == p.PriceCap && w.b == -p.PriceCap:
		switch {
		case !buyersLeft && !sellersLeft:
			return 0
		case !sellersLeft:
			return b[w.i].Price + p.BidOffset
		case !buyersLeft:
			return s[w.j].Price - p.BidOffset
		}
		return (high + low) / 2
	}

	switch {
	case buyersLeft && b[w.i].Price == w.a:
		return w.a
	case sellersLeft && s[w.j].Price == w.b:
		return w.b
	case buyersLeft && avg < b[w.i].Price:
		return high + p.BidOffset
	case sellersLeft && avg > s[w.j].Price:
		return low - p.BidOffset
	}
	return avg
}

// marginal splits the cleared quantity of a one-sided marginal clearing into
// the fully accepted bids and the fraction of the bids at the clearing price.
func marginal(res *Result, b, s []curve.Bid) {
	var side []curve.Bid
	var accepted func(price float64) bool
	switch res.Type {
	case Buyer:
		side = b
		accepted = func(price float64) bool { return price > res.Price }
	case Seller:
		side = s
		accepted = func(price float64) bool { return price < res.Price }
	default:
		return
	}

	var subtotal float64
	k := 0
	for ; k < len(side) && accepted(side[k].Price); k++ {
		subtotal += side[k].Quantity
	}
	res.MarginalQuantity = res.Quantity - subtotal

	var atPrice float64
	for ; k < len(side) && side[k].Price == res.Price; k++ {
		atPrice += side[k].Quantity
	}
	if atPrice > 0 {
		res.MarginalFraction = res.MarginalQuantity / atPrice
	}
}

func settle(res *Result, b, s []curve.Bid) {
	for _, bid := range b {
		if bid.Price >= res.Price {
			res.SettledBuy += bid.Quantity
		}
	}
	for _, bid := range s {
		if bid.Price <= res.Price {
			res.SettledSell += bid.Quantity
		}
	}
}

// surplus grants every buyer at or above the clearing price, then serves the
// unresponsive grant first from the cheapest sellers.
func surplus(res *Result, b, s []curve.Bid, cap float64) {
	var grantedResp, grantedUnresp float64
	responsive := 0
	for _, bid := range b {
		if bid.Price < res.Price {
			continue
		}
		if bid.Price == cap {
			grantedUnresp += bid.Quantity
			continue
		}
		grantedResp += bid.Quantity
		responsive++
		res.ConsumerSurplus += (bid.Price - res.Price) * bid.Quantity
	}
	if responsive > 0 {
		res.AverageConsumerSurplus = res.ConsumerSurplus / float64(responsive)
	}

	for _, bid := range s {
		if bid.Price > res.Price {
			continue
		}
		margin := res.Price - bid.Price
		offered := bid.Quantity
		if grantedUnresp > 0 {
			used := offered
			if grantedUnresp < used {
				used = grantedUnresp
			}
			res.UnrespSupplierSurplus += margin * used
			grantedUnresp -= used
			offered -= used
			if offered == 0 {
				continue
			}
		}
		if grantedResp >= offered {
			res.SupplierSurplus += margin * offered
			grantedResp -= offered
			continue
		}
		res.SupplierSurplus += margin * grantedResp
		grantedResp = 0
		break
	}
	res.Unserved = grantedResp
}

func ordered(c *curve.Curve, o curve.Order) []curve.Bid {
	bids := c.Bids()
	if c.Order() == o {
		return bids
	}
	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}
	return bids
}
