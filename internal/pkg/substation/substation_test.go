package substation

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/agent/thermostat"
	"github.com/ohowland/cgc_market/internal/pkg/market/auction"
	"github.com/ohowland/cgc_market/internal/pkg/measurement"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"gonum.org/v1/gonum/floats/scalar"
	"gotest.tools/v3/assert"
)

func controllerConfig(house string) thermostat.Config {
	return thermostat.Config{
		ControlMode:       thermostat.ModeRamp,
		HouseName:         house,
		MeterName:         house + "_mtr",
		Period:            300,
		WakeupStart:       6,
		DaylightStart:     8,
		EveningStart:      17,
		NightStart:        23,
		WakeupSet:         78,
		DaylightSet:       85,
		EveningSet:        78,
		NightSet:          72,
		WeekendDayStart:   8,
		WeekendDaySet:     76,
		WeekendNightStart: 23,
		WeekendNightSet:   72,
		Deadband:          2,
		OffsetLimit:       2,
		Ramp:              2,
		PriceCap:          3.78,
	}
}

func testConfig() Config {
	return Config{
		MarketName: "feeder",
		Market: auction.Config{
			Unit:                            "kW",
			InitPrice:                       0.02,
			InitStdev:                       0.005,
			Period:                          300,
			PriceCap:                        3.78,
			MaxCapacityReferenceBidQuantity: 1000,
		},
		Controllers: map[string]thermostat.Config{
			"house1_hvac": controllerConfig("house1"),
			"house2_hvac": controllerConfig("house2"),
		},
		Dt:        15,
		StartTime: "2013-07-01 00:00:00",
		HourStop:  0.25,
	}
}

func newTestSubstation(t *testing.T, cfg Config) *Substation {
	s, err := NewFromConfig(cfg, nil)
	assert.NilError(t, err)
	return s
}

func deliverAll(t *testing.T, s *Substation) {
	assert.NilError(t, s.Deliver("refload", "+50.0+10.0j KVA"))
	assert.NilError(t, s.Deliver("LMP", "0.03"))
	for _, name := range s.Controllers() {
		assert.NilError(t, s.Deliver(name+"#Tair", "80.0 degF"))
		assert.NilError(t, s.Deliver(name+"#On", "ON"))
		assert.NilError(t, s.Deliver(name+"#Load", "4.0 kW"))
		assert.NilError(t, s.Deliver(name+"#V1", "120.0+0.0j V"))
	}
}

func TestNewFromConfigRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Dt = 0
	_, err := NewFromConfig(cfg, nil)
	assert.Assert(t, errors.Is(err, ErrConfig))

	cfg = testConfig()
	cfg.StartTime = "July 1st"
	_, err = NewFromConfig(cfg, nil)
	assert.Assert(t, errors.Is(err, ErrConfig))

	cfg = testConfig()
	cfg.Dt = 200
	_, err = NewFromConfig(cfg, nil)
	assert.Assert(t, errors.Is(err, ErrConfig))
}

func TestNewReadsCaseFile(t *testing.T) {
	b, err := json.Marshal(testConfig())
	assert.NilError(t, err)
	path := filepath.Join(t.TempDir(), "case.json")
	assert.NilError(t, os.WriteFile(path, b, 0644))

	s, err := New(path)
	assert.NilError(t, err)
	assert.DeepEqual(t, s.Controllers(), []string{"house1_hvac", "house2_hvac"})
	assert.Assert(t, s.WantMarket())
	assert.Equal(t, s.Stop(), 15*time.Minute)
}

func TestDeliver(t *testing.T) {
	s := newTestSubstation(t, testConfig())
	sub, _ := uuid.NewUUID()
	ch, err := s.Subscribe(sub, msg.Measurement)
	assert.NilError(t, err)

	assert.NilError(t, s.Deliver("house1_hvac#Tair", "81.25 degF"))
	st, ok := s.Controller("house1_hvac")
	assert.Assert(t, ok)
	assert.Equal(t, st.AirTemp, 81.25)

	m := <-ch
	assert.Equal(t, m.Payload(), measurement.Measurement(measurement.AirTemp(81.25)))

	err = s.Deliver("house9_hvac#Tair", "70")
	assert.Assert(t, errors.Is(err, measurement.ErrUnknownTopic))

	_, ok = s.Controller("house9_hvac")
	assert.Assert(t, !ok)
}

func TestMarketPeriod(t *testing.T) {
	s := newTestSubstation(t, testConfig())
	sub, _ := uuid.NewUUID()
	setpoints, err := s.Subscribe(sub, msg.Setpoint)
	assert.NilError(t, err)
	bids, err := s.Subscribe(sub, msg.Bid)
	assert.NilError(t, err)

	deliverAll(t, s)
	for elapsed := 15 * time.Second; elapsed <= 300*time.Second; elapsed += 15 * time.Second {
		assert.NilError(t, s.Step(elapsed))
	}

	c := s.Clearing()
	assert.Equal(t, c.Market, "feeder")
	assert.Equal(t, c.Time, int64(300))
	assert.Equal(t, c.Result.Type, auction.Seller)
	assert.Equal(t, c.Result.Price, 0.03)
	assert.Assert(t, scalar.EqualWithinAbs(c.Result.Quantity, 50, 1e-9))

	agg := s.Aggregate()
	assert.Assert(t, scalar.EqualWithinAbs(agg.Bid.Unresponsive, 0.042, 1e-9))

	metrics := s.Metrics()
	assert.Equal(t, metrics.Auction["300"]["feeder"].Price, 0.03)
	assert.Equal(t, metrics.Auction["300"]["feeder"].ConsumerSurplus, c.Result.ConsumerSurplus)
	assert.Equal(t, metrics.Auction["300"]["feeder"].SupplierSurplus, c.Result.SupplierSurplus)
	assert.Equal(t, len(metrics.Controller["300"]), 2)
	assert.Assert(t, scalar.EqualWithinAbs(metrics.Controller["300"]["house1_hvac"].Price, 0.04, 1e-12))

	st, _ := s.Controller("house2_hvac")
	assert.Equal(t, st.Basepoint, 72.0)
	assert.Equal(t, st.Setpoint, 74.0)
	assert.Equal(t, st.ClearedPrice, 0.03)

	b := <-bids
	assert.Equal(t, b.Payload().(ControllerBid).Time, int64(300))

	var cooling []Setpoint
	for len(setpoints) > 0 {
		sp := (<-setpoints).Payload().(Setpoint)
		if sp.Property == "cooling_setpoint" {
			cooling = append(cooling, sp)
		}
	}
	assert.Equal(t, len(cooling), 2)
}

func TestNoMarket(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.WantMarket = &off
	s := newTestSubstation(t, cfg)

	deliverAll(t, s)
	assert.NilError(t, s.Step(270*time.Second))
	assert.NilError(t, s.Step(300*time.Second))

	assert.Equal(t, s.Clearing(), Clearing{})
	metrics := s.Metrics()
	assert.Equal(t, metrics.Auction["300"]["feeder"].Type, auction.Null)
	assert.Equal(t, metrics.Auction["300"]["feeder"].Price, 0.02)
	assert.Equal(t, len(metrics.Controller["300"]), 2)

	st, _ := s.Controller("house1_hvac")
	assert.Equal(t, st.Setpoint, 0.0)
}

func TestProcessAndWriteMetrics(t *testing.T) {
	s := newTestSubstation(t, testConfig())
	deliverAll(t, s)

	assert.NilError(t, s.Process(SimulatedClock(s.Dt(), s.Stop(), 0)))

	metrics := s.Metrics()
	assert.Equal(t, len(metrics.Auction), 3)
	for _, key := range []string{"300", "600", "900"} {
		_, ok := metrics.Auction[key]
		assert.Assert(t, ok, "missing clearing %s", key)
	}

	dir := t.TempDir()
	assert.NilError(t, s.WriteMetrics(dir, "test"))

	b, err := os.ReadFile(filepath.Join(dir, "auction_test_metrics.json"))
	assert.NilError(t, err)
	var auctionMetrics map[string]map[string][]interface{}
	assert.NilError(t, json.Unmarshal(b, &auctionMetrics))
	assert.Equal(t, auctionMetrics["300"]["feeder"][0], 0.03)
	assert.Equal(t, auctionMetrics["300"]["feeder"][1], float64(auction.Seller))
	row := metrics.Auction["300"]["feeder"]
	assert.DeepEqual(t, auctionMetrics["300"]["feeder"], []interface{}{
		row.Price, float64(row.Type), row.ConsumerSurplus, row.AverageConsumerSurplus, row.SupplierSurplus,
	})

	b, err = os.ReadFile(filepath.Join(dir, "controller_test_metrics.json"))
	assert.NilError(t, err)
	var controllerMetrics map[string]map[string][]float64
	assert.NilError(t, json.Unmarshal(b, &controllerMetrics))
	assert.Equal(t, len(controllerMetrics["900"]), 2)
}

func TestSetpointPublishedOnChange(t *testing.T) {
	s := newTestSubstation(t, testConfig())
	sub, _ := uuid.NewUUID()
	setpoints, err := s.Subscribe(sub, msg.Setpoint)
	assert.NilError(t, err)

	deliverAll(t, s)
	for elapsed := 15 * time.Second; elapsed <= 600*time.Second; elapsed += 15 * time.Second {
		assert.NilError(t, s.Step(elapsed))
	}
	assert.Equal(t, s.Clearing().Time, int64(600))
	assert.Equal(t, s.Clearing().Result.Price, 0.03)

	var cooling int
	for len(setpoints) > 0 {
		if (<-setpoints).Payload().(Setpoint).Property == "cooling_setpoint" {
			cooling++
		}
	}
	assert.Equal(t, cooling, 2)
}
