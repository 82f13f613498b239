// Package dispatch defines the contract between a dispatcher and the
// agents it assigns setpoints to.
package dispatch

import (
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch/consensus"
)

// Dispatcher collects agent curves and hands back setpoints in kW
type Dispatcher interface {
	UpdateStatus(uuid.UUID, consensus.Agent)
	DropStatus(uuid.UUID)
	GetControl() map[uuid.UUID]float64
}

// Setpoint is one agent's share of a dispatch
type Setpoint struct {
	PID   uuid.UUID `json:"PID"`
	Name  string    `json:"Name"`
	KW    float64   `json:"KW"`
	Price float64   `json:"Price"`
}

// Dispatch is the outcome of one solve as published on the bus
type Dispatch struct {
	Time        time.Time  `json:"Time"`
	Converged   bool       `json:"Converged"`
	Iterations  int        `json:"Iterations"`
	Escalations int        `json:"Escalations"`
	Demand      float64    `json:"Demand"`
	Mismatch    float64    `json:"Mismatch"`
	Setpoints   []Setpoint `json:"Setpoints"`
}
