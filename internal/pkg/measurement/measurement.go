// Package measurement holds the typed values delivered by the co-simulation
// fabric and the router that maps fabric topics onto them.
package measurement

// Kind names the variant of a Measurement
type Kind int

const (
	KindAirTemp Kind = iota
	KindVoltage
	KindHVACLoad
	KindHVACState
	KindLMP
	KindRefLoad
)

func (k Kind) String() string {
	switch k {
	case KindAirTemp:
		return "Tair"
	case KindVoltage:
		return "V1"
	case KindHVACLoad:
		return "Load"
	case KindHVACState:
		return "On"
	case KindLMP:
		return "LMP"
	case KindRefLoad:
		return "refload"
	}
	return "unknown"
}

// Measurement is one decoded value from the fabric.
type Measurement interface {
	Kind() Kind
}

// AirTemp is a house air temperature in degF
type AirTemp float64

// Voltage is a meter voltage magnitude in V
type Voltage float64

// HVACLoad is the running HVAC load in kW
type HVACLoad float64

// HVACState is true while the compressor runs
type HVACState bool

// LMP is the bulk system price in $/kWh
type LMP float64

// RefLoad is the substation load in kW
type RefLoad float64

func (AirTemp) Kind() Kind   { return KindAirTemp }
func (Voltage) Kind() Kind   { return KindVoltage }
func (HVACLoad) Kind() Kind  { return KindHVACLoad }
func (HVACState) Kind() Kind { return KindHVACState }
func (LMP) Kind() Kind       { return KindLMP }
func (RefLoad) Kind() Kind   { return KindRefLoad }
