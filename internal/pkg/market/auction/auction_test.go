package auction

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/report"
	"gonum.org/v1/gonum/floats/scalar"
	"gotest.tools/v3/assert"
)

func testConfig() Config {
	return Config{
		Unit:                            "kW",
		InitPrice:                       0.02078,
		InitStdev:                       0.00361,
		Period:                          300,
		PriceCap:                        priceCap,
		MaxCapacityReferenceBidQuantity: 1000,
		StatisticMode:                   1,
		StatInterval:                    900,
	}
}

func newTestAuction(t *testing.T, failures *report.Log) *Auction {
	a, err := NewFromConfig("feeder1", testConfig(), failures)
	assert.NilError(t, err)
	return a
}

func TestNewFromConfigDefaults(t *testing.T) {
	a := newTestAuction(t, nil)
	assert.Equal(t, a.Config().BidOffset, 1e-4)
	assert.Equal(t, a.Config().ClearingScalar, 0.5)
	assert.Equal(t, a.Mean(), 0.02078)
	assert.Equal(t, a.StdDev(), 0.00361)
	assert.Equal(t, a.ClearingPrice(), 0.02078)
	assert.Equal(t, a.Name(), "feeder1")
}

func TestNewFromConfigRejectsBadCap(t *testing.T) {
	cfg := testConfig()
	cfg.PriceCap = 0
	_, err := NewFromConfig("feeder1", cfg, nil)
	assert.Assert(t, errors.Is(err, ErrConfig))

	cfg = testConfig()
	cfg.Period = 0
	_, err = NewFromConfig("feeder1", cfg, nil)
	assert.Assert(t, errors.Is(err, ErrConfig))
}

func TestNewReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.json")
	doc := `{"unit": "kW", "init_price": 0.03, "init_stdev": 0.01, "period": 300,
		"pricecap": 1.0, "max_capacity_reference_bid_quantity": 500,
		"statistic_mode": 1, "stat_interval": 86400}`
	assert.NilError(t, os.WriteFile(path, []byte(doc), 0644))

	a, err := New(path, "feeder2", nil)
	assert.NilError(t, err)
	assert.Equal(t, a.Config().PriceCap, 1.0)
	assert.Equal(t, a.Config().MaxCapacityReferenceBidQuantity, 500.0)
	assert.Equal(t, a.Mean(), 0.03)
}

func TestCollectBid(t *testing.T) {
	a := newTestAuction(t, nil)
	a.SetRefLoad(100)
	a.ClearBids()
	assert.Equal(t, a.Unresponsive(), 100.0)

	a.CollectBid(curve.Bid{Price: 0.05, Quantity: 20, On: true})
	a.CollectBid(curve.Bid{Price: 0.04, Quantity: 5, On: false})
	a.CollectBid(curve.Bid{Price: 0, Quantity: 10, On: true})

	assert.Equal(t, a.Unresponsive(), 70.0)
	assert.Equal(t, a.Buyers().Count(), 2)
	assert.Equal(t, a.Buyers().Total(), 25.0)

	a.AddUnresponsiveLoad(5)
	assert.Equal(t, a.Unresponsive(), 75.0)
}

func TestAggregateBidsAddsUnresponsiveAtCap(t *testing.T) {
	a := newTestAuction(t, nil)
	a.SetRefLoad(100)
	a.ClearBids()
	a.CollectBid(curve.Bid{Price: 0.05, Quantity: 20, On: true})

	bid, err := a.AggregateBids()
	assert.NilError(t, err)
	assert.Equal(t, a.Buyers().At(0).Price, priceCap)
	assert.Assert(t, scalar.EqualWithinAbs(bid.Unresponsive, 0.08, tol))
	assert.Assert(t, scalar.EqualWithinAbs(bid.ResponsiveMax, 0.02, tol))
	assert.Equal(t, a.Aggregate(), bid)
}

func TestClearMarketOffersReferenceCapacity(t *testing.T) {
	a := newTestAuction(t, nil)
	a.SetRefLoad(100)
	a.SetLMP(0.03)
	a.ClearBids()
	a.CollectBid(curve.Bid{Price: 0.05, Quantity: 20, On: true})
	_, err := a.AggregateBids()
	assert.NilError(t, err)

	res := a.ClearMarket()
	assert.Equal(t, res.Type, Seller)
	assert.Equal(t, res.Price, 0.03)
	assert.Assert(t, scalar.EqualWithinAbs(res.Quantity, 100, tol))
	assert.Equal(t, a.Sellers().Count(), 1)
	assert.Equal(t, a.ClearingPrice(), 0.03)
}

func TestClearMarketFailureIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.txt")
	a := newTestAuction(t, report.New(path))
	a.SetRefLoad(2000)
	a.SetLMP(0.03)
	a.ClearBids()
	_, err := a.AggregateBids()
	assert.NilError(t, err)

	res := a.ClearMarket()
	assert.Equal(t, res.Type, Failure)
	assert.Equal(t, res.Price, priceCap)

	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(b), "auction feeder1"))
	assert.Assert(t, strings.Contains(string(b), "FAILURE"))
}

func TestClearMarketMissingSellerIsNull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapacityReferenceBidQuantity = 0
	a, err := NewFromConfig("feeder1", cfg, nil)
	assert.NilError(t, err)
	a.SetRefLoad(10)
	a.ClearBids()
	_, err = a.AggregateBids()
	assert.NilError(t, err)

	res := a.ClearMarket()
	assert.Equal(t, res.Type, Null)
}

func TestUpdateStatistics(t *testing.T) {
	a := newTestAuction(t, nil)
	assert.Assert(t, !a.UpdateStatistics())

	// window of stat_interval / period = 3 clearings
	for _, lmp := range []float64{0.01, 0.02, 0.03, 0.04} {
		a.SetRefLoad(10)
		a.SetLMP(lmp)
		a.ClearBids()
		_, err := a.AggregateBids()
		assert.NilError(t, err)
		a.ClearMarket()
	}

	assert.Assert(t, a.UpdateStatistics())
	assert.Assert(t, scalar.EqualWithinAbs(a.Mean(), 0.03, tol))
	assert.Assert(t, scalar.EqualWithinAbs(a.StdDev(), 0.01, tol))

	a.Init()
	assert.Equal(t, a.LMP(), a.Mean())
	assert.Equal(t, a.ClearingPrice(), a.Mean())
}

func TestPriceHistoryWindow(t *testing.T) {
	h := NewPriceHistory(2)
	_, _, ok := h.MeanStdDev()
	assert.Assert(t, !ok)

	h.Record(1)
	h.Record(3)
	h.Record(5)
	assert.Equal(t, h.Len(), 2)
	mean, _, ok := h.MeanStdDev()
	assert.Assert(t, ok)
	assert.Equal(t, mean, 4.0)

	disabled := NewPriceHistory(0)
	disabled.Record(1)
	assert.Equal(t, disabled.Len(), 0)
}
