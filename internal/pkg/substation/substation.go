// Package substation runs one feeder's market: it routes measurements to the
// auction and its thermostats and steps them through the bid, aggregate,
// clear and adjust schedule of every market period.
package substation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/agent/thermostat"
	"github.com/ohowland/cgc_market/internal/pkg/market/aggregate"
	"github.com/ohowland/cgc_market/internal/pkg/market/auction"
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/measurement"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/report"
)

// StartLayout is the format of Config.StartTime
const StartLayout = "2006-01-02 15:04:05"

// ErrConfig is returned for an unusable case file
var ErrConfig = errors.New("substation: invalid configuration")

// Config is the case file for one substation
type Config struct {
	MarketName  string                       `json:"MarketName"`
	Market      auction.Config               `json:"Market"`
	Controllers map[string]thermostat.Config `json:"Controllers"`
	Dt          float64                      `json:"Dt"`
	StartTime   string                       `json:"StartTime"`
	HourStop    float64                      `json:"HourStop"`
	WantMarket  *bool                        `json:"WantMarket"`
	FailureLog  string                       `json:"FailureLog"`
}

// Substation owns every piece of per-period market state.
type Substation struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	config    Config
	publisher *msg.PubSub
	router    *measurement.Router

	auction     *auction.Auction
	controllers map[string]*thermostat.Thermostat
	names       []string

	start      time.Time
	period     float64
	nextBid    float64
	nextAgg    float64
	nextClear  float64
	nextAdjust float64
	defaults   bool

	clearing  Clearing
	aggregate Aggregate
	metrics   Metrics
}

// New reads the case file at configPath.
func New(configPath string) (*Substation, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	var failures *report.Log
	if cfg.FailureLog != "" {
		failures = report.New(cfg.FailureLog)
	}
	return NewFromConfig(cfg, failures)
}

// NewFromConfig builds the auction and one thermostat per controller entry.
func NewFromConfig(cfg Config, failures *report.Log) (*Substation, error) {
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("%w: Dt must be positive", ErrConfig)
	}
	start, err := time.Parse(StartLayout, cfg.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: StartTime: %v", ErrConfig, err)
	}
	if cfg.MarketName == "" {
		cfg.MarketName = "market"
	}

	auc, err := auction.NewFromConfig(cfg.MarketName, cfg.Market, failures)
	if err != nil {
		return nil, err
	}
	period := cfg.Market.Period
	if period <= 2*cfg.Dt {
		return nil, fmt.Errorf("%w: period %v must exceed two steps of %v", ErrConfig, period, cfg.Dt)
	}

	names := make([]string, 0, len(cfg.Controllers))
	for name := range cfg.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)

	controllers := make(map[string]*thermostat.Thermostat, len(names))
	for _, name := range names {
		th, err := thermostat.NewFromConfig(name, cfg.Controllers[name], auc.ClearingPrice(), auc.StdDev())
		if err != nil {
			return nil, err
		}
		controllers[name] = th
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	auc.Init()
	return &Substation{
		mux:         &sync.Mutex{},
		pid:         pid,
		config:      cfg,
		publisher:   msg.NewPublisher(pid),
		router:      measurement.NewRouter(names),
		auction:     auc,
		controllers: controllers,
		names:       names,
		start:       start,
		period:      period,
		nextBid:     period - 2*cfg.Dt,
		nextAgg:     period - 2*cfg.Dt,
		nextClear:   period,
		nextAdjust:  period,
		defaults:    true,
		metrics:     newMetrics(),
	}, nil
}

// PID is a getter for the substation PID
func (s Substation) PID() uuid.UUID {
	return s.pid
}

// Subscribe returns a channel of substation messages on topic
func (s *Substation) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return s.publisher.Subscribe(pid, topic)
}

// Unsubscribe closes every channel held by pid
func (s *Substation) Unsubscribe(pid uuid.UUID) {
	s.publisher.Unsubscribe(pid)
}

// WantMarket is false when the case runs without a market: thermostats
// still follow their schedules but no bids are collected or cleared.
func (s Substation) WantMarket() bool {
	return s.config.WantMarket == nil || *s.config.WantMarket
}

// Topics lists every measurement topic Deliver accepts
func (s Substation) Topics() []string {
	return s.router.Topics()
}

// Stop is the elapsed time at which the case ends
func (s Substation) Stop() time.Duration {
	return time.Duration(s.config.HourStop * float64(time.Hour))
}

// Deliver decodes a raw fabric value and applies it. The decoded value is
// republished on msg.Measurement.
func (s *Substation) Deliver(topic, raw string) error {
	d, err := s.router.Resolve(topic, raw)
	if err != nil {
		return err
	}

	s.mux.Lock()
	switch v := d.Value.(type) {
	case measurement.LMP:
		s.auction.SetLMP(float64(v))
	case measurement.RefLoad:
		s.auction.SetRefLoad(float64(v))
	default:
		err = s.controllers[d.Target].Apply(v)
	}
	s.mux.Unlock()
	if err != nil {
		return err
	}

	s.publisher.Publish(msg.Measurement, d.Value)
	return nil
}

// Step advances the schedule to elapsed time since StartTime. Events whose
// time has passed run in order: basepoints, bids, aggregation, clearing and
// setpoint adjustment.
func (s *Substation) Step(elapsed time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	t := elapsed.Seconds()
	now := s.start.Add(elapsed)
	hod := float64(now.Hour())

	for _, name := range s.names {
		th := s.controllers[name]
		if th.ChangeBasepoint(hod, now.Weekday()) {
			s.publisher.Publish(msg.Basepoint, Setpoint{Name: name, Property: "cooling_setpoint", Value: th.Status().Basepoint})
		}
	}
	if s.defaults {
		for _, name := range s.names {
			s.publisher.Publish(msg.Setpoint, Setpoint{Name: name, Property: "thermostat_deadband", Value: s.controllers[name].Config().Deadband})
			s.publisher.Publish(msg.Setpoint, Setpoint{Name: name, Property: "heating_setpoint", Value: 60.0})
		}
		s.defaults = false
	}

	if t >= s.nextBid {
		s.collectBids()
		s.nextBid += s.period
	}

	if t >= s.nextAgg {
		bid, err := s.auction.AggregateBids()
		if err != nil {
			return err
		}
		s.aggregate = Aggregate{Market: s.auction.Name(), Time: int64(s.nextClear), Bid: bid}
		s.publisher.Publish(msg.AggregateBid, s.aggregate)
		s.nextAgg += s.period
	}

	if t >= s.nextClear {
		s.clearMarket()
		s.nextClear += s.period
	}

	if t >= s.nextAdjust {
		if s.WantMarket() {
			for _, name := range s.names {
				th := s.controllers[name]
				if th.BidAccepted() {
					s.publisher.Publish(msg.Setpoint, Setpoint{Name: name, Property: "cooling_setpoint", Value: th.Status().Setpoint})
				}
			}
		}
		s.nextAdjust += s.period
	}
	return nil
}

func (s *Substation) collectBids() {
	s.auction.ClearBids()
	key := timeKey(s.nextClear)
	for _, name := range s.names {
		b, ok := s.controllers[name].FormulateBid()
		if !ok {
			continue
		}
		if s.WantMarket() {
			s.auction.CollectBid(b)
		}
		s.metrics.record(key, name, ControllerMetric{Price: b.Price, Quantity: b.Quantity})
		s.publisher.Publish(msg.Bid, ControllerBid{Name: name, Time: int64(s.nextClear), Bid: b})
	}
}

func (s *Substation) clearMarket() {
	key := timeKey(s.nextClear)
	if s.WantMarket() {
		res := s.auction.ClearMarket()
		s.clearing = Clearing{Market: s.auction.Name(), Time: int64(s.nextClear), Result: res}
		s.publisher.Publish(msg.Clearing, s.clearing)
		s.publisher.Publish(msg.ClearedPrice, Price{Market: s.auction.Name(), Time: int64(s.nextClear), Price: res.Price})
		for _, name := range s.names {
			s.controllers[name].InformBid(res.Price)
		}
		if s.auction.UpdateStatistics() {
			for _, name := range s.names {
				s.controllers[name].UpdatePriceEstimate(s.auction.Mean(), s.auction.StdDev())
			}
		}
	}
	s.metrics.Auction[key] = map[string]AuctionMetric{
		s.auction.Name(): auctionMetric(s.auction.ClearingPrice(), s.auction.Result()),
	}
	log.Printf("[Substation] %s cleared at %s: %s %.5f\n",
		s.auction.Name(), key, s.auction.Result().Type, s.auction.ClearingPrice())
}

// Clearing returns the latest clearing
func (s *Substation) Clearing() Clearing {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.clearing
}

// Aggregate returns the latest aggregate bid
func (s *Substation) Aggregate() Aggregate {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.aggregate
}

// Controller returns a thermostat's status
func (s *Substation) Controller(name string) (thermostat.Status, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	th, ok := s.controllers[name]
	if !ok {
		return thermostat.Status{}, false
	}
	return th.Status(), true
}

// Controllers lists the controller names in order
func (s Substation) Controllers() []string {
	return append([]string(nil), s.names...)
}

func timeKey(t float64) string {
	return fmt.Sprintf("%d", int64(t))
}

// Clearing is one market clearing as published on msg.Clearing
type Clearing struct {
	Market string         `json:"Market"`
	Time   int64          `json:"Time"`
	Result auction.Result `json:"Result"`
}

// Price is the cleared price as published on msg.ClearedPrice
type Price struct {
	Market string  `json:"Market"`
	Time   int64   `json:"Time"`
	Price  float64 `json:"Price"`
}

// Aggregate is the aggregate bid as published on msg.AggregateBid
type Aggregate struct {
	Market string        `json:"Market"`
	Time   int64         `json:"Time"`
	Bid    aggregate.Bid `json:"Bid"`
}

// ControllerBid is one thermostat bid as published on msg.Bid
type ControllerBid struct {
	Name string    `json:"Name"`
	Time int64     `json:"Time"`
	Bid  curve.Bid `json:"Bid"`
}

// Setpoint is a thermostat property change for the house model
type Setpoint struct {
	Name     string  `json:"Name"`
	Property string  `json:"Property"`
	Value    float64 `json:"Value"`
}
