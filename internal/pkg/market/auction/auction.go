// Package auction implements the double auction that clears one market
// period, and the market side state that collects bids for it.
package auction

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/market/aggregate"
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/report"
)

const (
	defaultBidOffset      = 1e-4
	defaultClearingScalar = 0.5
)

// ErrConfig is returned for an unusable market configuration
var ErrConfig = errors.New("auction: invalid configuration")

// Config holds one market's parameters, as found under "markets" in the case file.
type Config struct {
	Unit                            string  `json:"unit"`
	InitPrice                       float64 `json:"init_price"`
	InitStdev                       float64 `json:"init_stdev"`
	Period                          float64 `json:"period"`
	PriceCap                        float64 `json:"pricecap"`
	MaxCapacityReferenceBidQuantity float64 `json:"max_capacity_reference_bid_quantity"`
	StatisticMode                   int     `json:"statistic_mode"`
	StatInterval                    float64 `json:"stat_interval"`
	BidOffset                       float64 `json:"bid_offset"`
	ClearingScalar                  float64 `json:"clearing_scalar"`
}

// Auction is the market side of one period: it owns the buyer and seller
// curves, the aggregate bid and the last clearing result.
type Auction struct {
	pid      uuid.UUID
	name     string
	config   Config
	failures *report.Log

	buyer  *curve.Curve
	seller *curve.Curve

	refload float64
	lmp     float64
	unresp  float64
	mean    float64
	stdDev  float64

	aggregate aggregate.Bid
	result    Result
	history   *PriceHistory
}

// New reads the market configuration at configPath.
func New(configPath string, name string, failures *report.Log) (*Auction, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	return NewFromConfig(name, cfg, failures)
}

// NewFromConfig returns an Auction with empty curves.
func NewFromConfig(name string, cfg Config, failures *report.Log) (*Auction, error) {
	if cfg.PriceCap <= 0 {
		return nil, fmt.Errorf("%w: pricecap must be positive", ErrConfig)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive", ErrConfig)
	}
	if cfg.BidOffset == 0 {
		cfg.BidOffset = defaultBidOffset
	}
	if cfg.ClearingScalar == 0 {
		cfg.ClearingScalar = defaultClearingScalar
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	window := 0
	if cfg.StatisticMode > 0 && cfg.StatInterval > 0 {
		window = int(cfg.StatInterval / cfg.Period)
	}

	return &Auction{
		pid:      pid,
		name:     name,
		config:   cfg,
		failures: failures,
		buyer:    curve.New(),
		seller:   curve.New(),
		lmp:      cfg.InitPrice,
		mean:     cfg.InitPrice,
		stdDev:   cfg.InitStdev,
		result:   Result{Type: Null, Price: cfg.InitPrice},
		history:  NewPriceHistory(window),
	}, nil
}

// PID is a getter for the auction PID
func (a Auction) PID() uuid.UUID {
	return a.pid
}

// Name is the market key
func (a Auction) Name() string {
	return a.name
}

// Config returns the market configuration
func (a Auction) Config() Config {
	return a.config
}

// Init resets the clearing price and LMP to the historical mean.
func (a *Auction) Init() {
	a.lmp = a.mean
	a.result.Price = a.mean
}

// SetRefLoad records the latest substation load in kW
func (a *Auction) SetRefLoad(kw float64) {
	a.refload = kw
}

// SetLMP records the latest locational marginal price from the bulk system
func (a *Auction) SetLMP(lmp float64) {
	a.lmp = lmp
}

// ClearBids starts a new period: fresh curves, and an unresponsive load
// estimate equal to the whole substation load.
func (a *Auction) ClearBids() {
	a.buyer = curve.New()
	a.seller = curve.New()
	a.unresp = a.refload
}

// SupplierBid adds a step of the seller curve
func (a *Auction) SupplierBid(b curve.Bid) {
	a.seller.Add(b.Price, b.Quantity, false)
}

// CollectBid adds a device bid to the buyer curve. A running device's load is
// removed from the unresponsive estimate; non-positive prices do not enter
// the curve.
func (a *Auction) CollectBid(b curve.Bid) {
	if b.On {
		a.unresp -= b.Quantity
	}
	if b.Price > 0.0 {
		a.buyer.Add(b.Price, b.Quantity, b.On)
	}
}

// AddUnresponsiveLoad raises the unresponsive load estimate
func (a *Auction) AddUnresponsiveLoad(kw float64) {
	a.unresp += kw
}

// AggregateBids places the unresponsive load at the price cap and reduces the
// buyer curve to its published form.
func (a *Auction) AggregateBids() (aggregate.Bid, error) {
	if a.unresp > 0 {
		a.buyer.Add(a.config.PriceCap, a.unresp, true)
	} else {
		log.Printf("[Auction] %s unresponsive load estimate %.3f kW is not positive (buy count %d, total %.3f, on %.3f, off %.3f)\n",
			a.name, a.unresp, a.buyer.Count(), a.buyer.Total(), a.buyer.TotalOn(), a.buyer.TotalOff())
	}
	a.buyer.SetOrder(curve.Descending)
	bid, err := aggregate.Aggregate(a.buyer)
	if err != nil {
		return aggregate.Bid{}, err
	}
	a.aggregate = bid
	return bid, nil
}

// ClearMarket offers the reference capacity at the LMP and clears the period.
func (a *Auction) ClearMarket() Result {
	if a.config.MaxCapacityReferenceBidQuantity > 0 {
		a.seller.Add(a.lmp, a.config.MaxCapacityReferenceBidQuantity, true)
	}

	res := Clear(a.buyer, a.seller, a.params())
	a.result = res

	switch {
	case res.Type == Null:
		missing := "buyer"
		if a.seller.Count() == 0 {
			missing = "seller"
		}
		log.Printf("[Auction] market %s fails to clear due to missing %s\n", a.name, missing)
	case res.Type == Failure:
		log.Printf("[Auction] market %s FAILURE: cleared %.3f of %.3f unresponsive buy, %.3f unresponsive sell; price %.6f\n",
			a.name, res.Quantity, res.UnresponsiveBuy, res.UnresponsiveSell, res.Price)
		if err := a.failures.Write(report.Note{
			Component: "auction " + a.name,
			Detail:    fmt.Sprintf("FAILURE quantity=%.3f price=%.6f", res.Quantity, res.Price),
		}); err != nil {
			log.Println("[Auction] unable to write failure log:", err)
		}
	}
	if res.Unserved != 0 {
		log.Printf("[Auction] market %s cleared %.4f more quantity than supplied\n", a.name, res.Unserved)
	}

	if res.Type != Null && res.Type != Failure {
		a.history.Record(res.Price)
	}
	return res
}

// UpdateStatistics refreshes the price mean and standard deviation from the
// history window. A zero sample deviation keeps the previous estimate.
func (a *Auction) UpdateStatistics() bool {
	mean, std, ok := a.history.MeanStdDev()
	if !ok || math.IsNaN(mean) {
		return false
	}
	a.mean = mean
	if std > 0 {
		a.stdDev = std
	}
	return true
}

func (a Auction) params() Params {
	return Params{
		PriceCap:       a.config.PriceCap,
		BidOffset:      a.config.BidOffset,
		ClearingScalar: a.config.ClearingScalar,
	}
}

// Mean is the market's price mean estimate
func (a Auction) Mean() float64 {
	return a.mean
}

// StdDev is the market's price standard deviation estimate
func (a Auction) StdDev() float64 {
	return a.stdDev
}

// LMP is the latest bulk system price
func (a Auction) LMP() float64 {
	return a.lmp
}

// RefLoad is the latest substation load
func (a Auction) RefLoad() float64 {
	return a.refload
}

// Unresponsive is the current unresponsive load estimate
func (a Auction) Unresponsive() float64 {
	return a.unresp
}

// ClearingPrice is the price from the last clearing
func (a Auction) ClearingPrice() float64 {
	return a.result.Price
}

// Result returns the last clearing result
func (a Auction) Result() Result {
	return a.result
}

// Aggregate returns the last aggregate bid
func (a Auction) Aggregate() aggregate.Bid {
	return a.aggregate
}

// Buyers returns the current buyer curve
func (a Auction) Buyers() *curve.Curve {
	return a.buyer
}

// Sellers returns the current seller curve
func (a Auction) Sellers() *curve.Curve {
	return a.seller
}
