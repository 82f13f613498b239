// Package consensusdispatch runs the real-time consensus solver on a timer
// against the agents and demand reported over the bus.
package consensusdispatch

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch/consensus"
	"github.com/ohowland/cgc_market/internal/pkg/measurement"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/report"
)

const defaultTickRate = 5000

// ErrNoDemand is returned by Solve before any demand has been reported
var ErrNoDemand = errors.New("consensusdispatch: no demand reported")

// Config of the dispatcher. TickRate is in milliseconds.
type Config struct {
	Solver     consensus.Config `json:"Solver"`
	TickRate   int              `json:"TickRate"`
	FailureLog string           `json:"FailureLog"`
}

// ConsensusDispatch owns the registry of agents and the last dispatch.
type ConsensusDispatch struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	publisher *msg.PubSub
	solver    *consensus.Solver
	tick      time.Duration

	agents    map[uuid.UUID]consensus.Agent
	order     []uuid.UUID
	demand    float64
	hasDemand bool
	control   map[uuid.UUID]float64
	last      dispatch.Dispatch
}

// New reads the dispatcher configuration at configPath.
func New(configPath string) (*ConsensusDispatch, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{Solver: consensus.RealTimeConfig()}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	var failures *report.Log
	if cfg.FailureLog != "" {
		failures = report.New(cfg.FailureLog)
	}
	return NewFromConfig(cfg, failures)
}

// NewFromConfig returns a dispatcher with an empty registry.
func NewFromConfig(cfg Config, failures *report.Log) (*ConsensusDispatch, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaultTickRate
	}
	return &ConsensusDispatch{
		mux:       &sync.Mutex{},
		pid:       pid,
		publisher: msg.NewPublisher(pid),
		solver:    consensus.New(cfg.Solver, failures),
		tick:      time.Duration(cfg.TickRate) * time.Millisecond,
		agents:    make(map[uuid.UUID]consensus.Agent),
		control:   make(map[uuid.UUID]float64),
	}, nil
}

// PID is a getter for the dispatcher PID
func (d ConsensusDispatch) PID() uuid.UUID {
	return d.pid
}

// Subscribe returns a channel of dispatcher messages on topic
func (d *ConsensusDispatch) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return d.publisher.Subscribe(pid, topic)
}

// Unsubscribe closes every channel held by pid
func (d *ConsensusDispatch) Unsubscribe(pid uuid.UUID) {
	d.publisher.Unsubscribe(pid)
}

// UpdateStatus registers or refreshes an agent. The first agent registered
// is the leader of the averaging star.
func (d *ConsensusDispatch) UpdateStatus(pid uuid.UUID, a consensus.Agent) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if _, ok := d.agents[pid]; !ok {
		d.order = append(d.order, pid)
	}
	d.agents[pid] = a
}

// DropStatus removes an agent and its setpoint
func (d *ConsensusDispatch) DropStatus(pid uuid.UUID) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if _, ok := d.agents[pid]; !ok {
		return
	}
	delete(d.agents, pid)
	delete(d.control, pid)
	for i, p := range d.order {
		if p == pid {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// SetDemand sets the target the agents must meet in kW
func (d *ConsensusDispatch) SetDemand(kw float64) {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.demand = kw
	d.hasDemand = true
}

// GetControl returns the last converged setpoints
func (d *ConsensusDispatch) GetControl() map[uuid.UUID]float64 {
	d.mux.Lock()
	defer d.mux.Unlock()
	out := make(map[uuid.UUID]float64, len(d.control))
	for pid, kw := range d.control {
		out[pid] = kw
	}
	return out
}

// Last returns the most recent dispatch, converged or not
func (d *ConsensusDispatch) Last() dispatch.Dispatch {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.last
}

// Solve runs one real-time solve. Each agent starts from, and ramps from,
// its last setpoint. A converged solve replaces the setpoints and is
// published on msg.Dispatch; otherwise the previous setpoints stand and the
// result goes out on msg.Failure.
func (d *ConsensusDispatch) Solve() (dispatch.Dispatch, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.hasDemand {
		return dispatch.Dispatch{}, ErrNoDemand
	}
	if len(d.order) == 0 {
		return dispatch.Dispatch{}, consensus.ErrNoAgents
	}

	agents := make([]consensus.Agent, len(d.order))
	for i, pid := range d.order {
		a := d.agents[pid]
		if kw, ok := d.control[pid]; ok {
			a.Initial = kw
			a.Previous = kw
		}
		agents[i] = a
	}

	res, err := d.solver.SolveRealTime(agents, d.demand)
	if err != nil {
		return dispatch.Dispatch{}, err
	}

	out := dispatch.Dispatch{
		Time:        time.Now(),
		Converged:   res.Converged,
		Iterations:  res.Iterations,
		Escalations: res.Escalations,
		Demand:      d.demand,
		Mismatch:    res.Mismatch,
		Setpoints:   make([]dispatch.Setpoint, len(d.order)),
	}
	for i, pid := range d.order {
		out.Setpoints[i] = dispatch.Setpoint{
			PID:   pid,
			Name:  agents[i].Name,
			KW:    res.Dispatch[i],
			Price: res.Price[i],
		}
	}
	d.last = out

	if !res.Converged {
		log.Printf("[Consensus Dispatch] keeping previous setpoints; mismatch %.4f\n", res.Mismatch)
		d.publisher.Publish(msg.Failure, out)
		return out, nil
	}
	for _, sp := range out.Setpoints {
		d.control[sp.PID] = sp.KW
	}
	d.publisher.Publish(msg.Dispatch, out)
	return out, nil
}

// StartProcess launches the ingest and solve loop
func (d *ConsensusDispatch) StartProcess(ch <-chan msg.Msg) error {
	log.Println("[Consensus Dispatch] Starting")
	go d.Process(ch)
	return nil
}

// Process ingests bus messages and solves on every tick until ch closes.
func (d *ConsensusDispatch) Process(ch <-chan msg.Msg) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
loop:
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				log.Println("[Consensus Dispatch] disconnected from bus")
				break loop
			}
			d.ingress(m)
		case <-ticker.C:
			if _, err := d.Solve(); err != nil && !errors.Is(err, ErrNoDemand) && !errors.Is(err, consensus.ErrNoAgents) {
				log.Println("[Consensus Dispatch] solve:", err)
			}
		}
	}
}

// ingress takes the demand target from the reference load measurement.
// Agents are registered with UpdateStatus.
func (d *ConsensusDispatch) ingress(m msg.Msg) {
	switch m.Topic() {
	case msg.Measurement:
		if v, ok := m.Payload().(measurement.RefLoad); ok {
			d.SetDemand(float64(v))
		}
	default:
	}
}
