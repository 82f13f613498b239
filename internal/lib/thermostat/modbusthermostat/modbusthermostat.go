// Package modbusthermostat feeds one controller's measurements from a Modbus
// thermostat and writes the setpoints the market publishes back to it.
package modbusthermostat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ohowland/cgc_market/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/cgc_market/internal/pkg/measurement"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
)

// Register names read from the target
const (
	AirTemp  = "air_temp"
	HVACLoad = "hvac_load"
	HVACOn   = "hvac_on"
	Voltage  = "voltage"
)

const defaultPollRate = time.Second

// ErrConfig is returned for a feed without a controller name
var ErrConfig = errors.New("modbusthermostat: invalid configuration")

// Sink accepts raw measurement values by topic
type Sink interface {
	Deliver(topic, raw string) error
}

// Config is the feed configuration
type Config struct {
	Controller   string                  `json:"Controller"`
	TargetConfig modbuscomm.PollerConfig `json:"TargetConfig"`
	Registers    []modbuscomm.Register   `json:"Registers"`
}

// Reading is one raw measurement bound for the sink
type Reading struct {
	Topic string
	Raw   string
}

// Feed polls the thermostat and delivers its readings.
type Feed struct {
	name     string
	comm     modbuscomm.ModbusComm
	read     []modbuscomm.Register
	write    []modbuscomm.Register
	pollRate time.Duration
	sink     Sink
	stop     chan bool
}

// New reads the feed configuration at configPath and connects a Poller.
func New(configPath string, sink Sink) (*Feed, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, modbuscomm.NewPoller(cfg.TargetConfig), sink)
}

// NewFromConfig returns a Feed reading through comm.
func NewFromConfig(cfg Config, comm modbuscomm.ModbusComm, sink Sink) (*Feed, error) {
	if cfg.Controller == "" {
		return nil, fmt.Errorf("%w: missing Controller", ErrConfig)
	}
	rate := time.Millisecond * time.Duration(cfg.TargetConfig.PollRate)
	if rate <= 0 {
		rate = defaultPollRate
	}
	return &Feed{
		name:     cfg.Controller,
		comm:     comm,
		read:     modbuscomm.FilterRegisters(cfg.Registers, modbuscomm.ReadOnly),
		write:    modbuscomm.FilterRegisters(cfg.Registers, modbuscomm.WriteOnly),
		pollRate: rate,
		sink:     sink,
		stop:     make(chan bool),
	}, nil
}

// Name is the controller the feed serves
func (f Feed) Name() string {
	return f.name
}

// Readings converts register values into raw measurements for the controller.
// Unknown registers are ignored.
func Readings(controller string, values map[string]float64) []Reading {
	out := make([]Reading, 0, 4)
	topic := func(k measurement.Kind) string {
		return controller + "#" + k.String()
	}
	if v, ok := values[AirTemp]; ok {
		out = append(out, Reading{topic(measurement.KindAirTemp), fmt.Sprintf("%g degF", v)})
	}
	if v, ok := values[HVACLoad]; ok {
		out = append(out, Reading{topic(measurement.KindHVACLoad), fmt.Sprintf("%g kW", v)})
	}
	if v, ok := values[HVACOn]; ok {
		state := "OFF"
		if v != 0 {
			state = "ON"
		}
		out = append(out, Reading{topic(measurement.KindHVACState), state})
	}
	if v, ok := values[Voltage]; ok {
		out = append(out, Reading{topic(measurement.KindVoltage), fmt.Sprintf("%g V", v)})
	}
	return out
}

// Poll reads the thermostat once and delivers what was read. A partial read
// still delivers the registers that succeeded.
func (f *Feed) Poll() error {
	values, readErr := f.comm.Read(f.read)
	for _, r := range Readings(f.name, values) {
		if err := f.sink.Deliver(r.Topic, r.Raw); err != nil {
			return err
		}
	}
	return readErr
}

// WriteSetpoint writes a published setpoint for this controller to the
// register of the same property name. Other setpoints are ignored.
func (f *Feed) WriteSetpoint(sp substation.Setpoint) error {
	if sp.Name != f.name {
		return nil
	}
	for _, reg := range f.write {
		if reg.Name == sp.Property {
			return f.comm.Write(f.write, map[string]float64{sp.Property: sp.Value})
		}
	}
	return nil
}

// Stop ends a running Process
func (f *Feed) Stop() {
	f.stop <- true
}

// Process polls at the configured rate and writes setpoints received on ch
// until Stop is called.
func (f *Feed) Process(ch <-chan msg.Msg) {
	log.Printf("[Modbus] %s Process Started\n", f.name)
	ticker := time.NewTicker(f.pollRate)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			if err := f.Poll(); err != nil {
				log.Printf("[Modbus] %s poll: %v\n", f.name, err)
			}
		case m, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			sp, ok := m.Payload().(substation.Setpoint)
			if !ok {
				continue
			}
			if err := f.WriteSetpoint(sp); err != nil {
				log.Printf("[Modbus] %s write %s: %v\n", f.name, sp.Property, err)
			}
		case <-f.stop:
			break loop
		}
	}
	log.Printf("[Modbus] %s Process Shutdown\n", f.name)
}
