// Package thermostat is the price responsive HVAC controller. Each period it
// bids its load at a price set by how far the house is from its basepoint,
// then moves its cooling setpoint according to the cleared price.
package thermostat

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/measurement"
)

// ModeRamp is the only control mode that takes part in the market
const ModeRamp = "CN_RAMP"

var (
	// ErrConfig is returned for an unusable controller configuration
	ErrConfig = errors.New("thermostat: invalid configuration")
	// ErrUnsupported is returned by Apply for a measurement a thermostat does not track
	ErrUnsupported = errors.New("thermostat: unsupported measurement")
)

// Thermostat is one bidding HVAC controller
type Thermostat struct {
	pid      uuid.UUID
	name     string
	config   Config
	status   Status
	trange   float64
	schedule *stateMachine
}

// Config mirrors one entry of the case file "controllers" map.
type Config struct {
	ControlMode          string  `json:"control_mode"`
	HouseName            string  `json:"houseName"`
	MeterName            string  `json:"meterName"`
	Period               float64 `json:"period"`
	WakeupStart          float64 `json:"wakeup_start"`
	DaylightStart        float64 `json:"daylight_start"`
	EveningStart         float64 `json:"evening_start"`
	NightStart           float64 `json:"night_start"`
	WakeupSet            float64 `json:"wakeup_set"`
	DaylightSet          float64 `json:"daylight_set"`
	EveningSet           float64 `json:"evening_set"`
	NightSet             float64 `json:"night_set"`
	WeekendDayStart      float64 `json:"weekend_day_start"`
	WeekendDaySet        float64 `json:"weekend_day_set"`
	WeekendNightStart    float64 `json:"weekend_night_start"`
	WeekendNightSet      float64 `json:"weekend_night_set"`
	Deadband             float64 `json:"deadband"`
	OffsetLimit          float64 `json:"offset_limit"`
	Ramp                 float64 `json:"ramp"`
	PriceCap             float64 `json:"price_cap"`
	BidDelay             float64 `json:"bid_delay"`
	UsePredictiveBidding float64 `json:"use_predictive_bidding"`
}

// Status is the controller's observable state
type Status struct {
	Name         string  `json:"Name"`
	AirTemp      float64 `json:"AirTemp"`
	HVACKW       float64 `json:"HVACKW"`
	Voltage      float64 `json:"Voltage"`
	HVACOn       bool    `json:"HVACOn"`
	Basepoint    float64 `json:"Basepoint"`
	Setpoint     float64 `json:"Setpoint"`
	ClearedPrice float64 `json:"ClearedPrice"`
	BidPrice     float64 `json:"BidPrice"`
	Mean         float64 `json:"Mean"`
	StdDev       float64 `json:"StdDev"`
}

// New reads the controller configuration at configPath. mean and stdDev seed
// the price estimate, normally from the market's initial statistics.
func New(configPath string, name string, mean, stdDev float64) (*Thermostat, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	return NewFromConfig(name, cfg, mean, stdDev)
}

// NewFromConfig returns a controller in its default measured state.
func NewFromConfig(name string, cfg Config, mean, stdDev float64) (*Thermostat, error) {
	if cfg.OffsetLimit == 0 {
		return nil, fmt.Errorf("%w: %s offset_limit must be non-zero", ErrConfig, name)
	}
	if cfg.Ramp <= 0 {
		return nil, fmt.Errorf("%w: %s ramp must be positive", ErrConfig, name)
	}
	if cfg.PriceCap <= 0 {
		return nil, fmt.Errorf("%w: %s price_cap must be positive", ErrConfig, name)
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	return &Thermostat{
		pid:    pid,
		name:   name,
		config: cfg,
		trange: math.Abs(2.0 * cfg.OffsetLimit),
		status: Status{
			Name:    name,
			AirTemp: 78.0,
			HVACKW:  3.0,
			Voltage: 120.0,
			HVACOn:  false,
			Mean:    mean,
			StdDev:  stdDev,
		},
		schedule: &stateMachine{},
	}, nil
}

// PID is a getter for the controller PID
func (t Thermostat) PID() uuid.UUID {
	return t.pid
}

// Name is the controller key
func (t Thermostat) Name() string {
	return t.name
}

// Config returns the controller configuration
func (t Thermostat) Config() Config {
	return t.config
}

// Status returns a snapshot of the controller state
func (t Thermostat) Status() Status {
	return t.status
}

// FormulateBid prices the HVAC load for the coming period. ok is false when
// the control mode does not bid.
func (t *Thermostat) FormulateBid() (b curve.Bid, ok bool) {
	if t.config.ControlMode != ModeRamp {
		return curve.Bid{}, false
	}
	s := &t.status
	p := s.Mean + (s.AirTemp-s.Basepoint)*t.config.Ramp*s.StdDev/t.trange
	switch {
	case p >= t.config.PriceCap:
		s.BidPrice = t.config.PriceCap
	case p <= 0.0:
		s.BidPrice = 0.0
	default:
		s.BidPrice = p
	}
	return curve.Bid{Price: s.BidPrice, Quantity: s.HVACKW, On: s.HVACOn}, true
}

// InformBid records the period's clearing price
func (t *Thermostat) InformBid(price float64) {
	t.status.ClearedPrice = price
}

// BidAccepted moves the setpoint away from the basepoint in proportion to
// how far the cleared price is from the mean, within the offset limit, and
// reports whether the setpoint changed. The setpoint is left alone while the
// price deviation estimate is not positive.
func (t *Thermostat) BidAccepted() bool {
	s := &t.status
	if s.StdDev <= 0.0 {
		return false
	}
	offset := (s.ClearedPrice - s.Mean) * t.trange / t.config.Ramp / s.StdDev
	if offset < -t.config.OffsetLimit {
		offset = -t.config.OffsetLimit
	} else if offset > t.config.OffsetLimit {
		offset = t.config.OffsetLimit
	}
	setpoint := s.Basepoint + offset
	if setpoint == s.Setpoint {
		return false
	}
	s.Setpoint = setpoint
	return true
}

// ChangeBasepoint follows the time of day schedule. It reports whether the
// basepoint moved by more than the 0.1 degF hysteresis.
func (t *Thermostat) ChangeBasepoint(hod float64, dow time.Weekday) bool {
	val := t.schedule.run(clock{hod: hod, dow: dow}, t.config)
	if math.Abs(t.status.Basepoint-val) > 0.1 {
		t.status.Basepoint = val
		return true
	}
	return false
}

// UpdatePriceEstimate replaces the price statistics used to bid
func (t *Thermostat) UpdatePriceEstimate(mean, stdDev float64) {
	t.status.Mean = mean
	t.status.StdDev = stdDev
}

// SetAirTemp records the house air temperature
func (t *Thermostat) SetAirTemp(degF float64) {
	t.status.AirTemp = degF
}

// SetVoltage records the meter voltage magnitude
func (t *Thermostat) SetVoltage(v float64) {
	t.status.Voltage = v
}

// SetHVACLoad records the running load; non-positive readings are ignored so
// an idle compressor keeps its last known size.
func (t *Thermostat) SetHVACLoad(kw float64) {
	if kw > 0.0 {
		t.status.HVACKW = kw
	}
}

// SetHVACState records whether the compressor is running
func (t *Thermostat) SetHVACState(on bool) {
	t.status.HVACOn = on
}

// Apply hands a decoded measurement to the matching setter.
func (t *Thermostat) Apply(m measurement.Measurement) error {
	switch v := m.(type) {
	case measurement.AirTemp:
		t.SetAirTemp(float64(v))
	case measurement.Voltage:
		t.SetVoltage(float64(v))
	case measurement.HVACLoad:
		t.SetHVACLoad(float64(v))
	case measurement.HVACState:
		t.SetHVACState(bool(v))
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, m)
	}
	return nil
}
