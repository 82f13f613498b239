// Package consensus solves economic dispatch across price responsive agents
// by distributed averaging of their shadow prices on a star topology. Each
// agent only needs its own curve, its neighbours' prices and the system
// mismatch.
package consensus

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/ohowland/cgc_market/internal/pkg/report"
)

var (
	// ErrNoAgents is returned for an empty problem
	ErrNoAgents = errors.New("consensus: no agents")
	// ErrHorizonMismatch is returned when horizon rows or demand lengths disagree
	ErrHorizonMismatch = errors.New("consensus: horizon dimensions do not match")
	// ErrConfig is returned for unusable solver limits
	ErrConfig = errors.New("consensus: invalid solver configuration")
)

// Config bounds one solve. Epsilon is an absolute mismatch in the units of
// the agents' quantities.
type Config struct {
	Gamma           float64 `json:"gamma"`
	Epsilon         float64 `json:"epsilon"`
	LambdaTolerance float64 `json:"lambda_tolerance"`
	IterMax         int     `json:"iter_max"`
	EscalationMax   int     `json:"escalation_max"`
}

// RealTimeConfig is the single step default
func RealTimeConfig() Config {
	return Config{Gamma: 0.0025, Epsilon: 0.05, LambdaTolerance: 1e-2, IterMax: 2000, EscalationMax: 15}
}

// DayAheadConfig is the horizon default. Day-ahead convergence ignores the
// price divergence.
func DayAheadConfig() Config {
	return Config{Gamma: 0.0025, Epsilon: 0.05, IterMax: 2500, EscalationMax: 10}
}

func (c Config) validate() error {
	if c.Gamma <= 0 || c.Epsilon <= 0 || c.IterMax < 1 || c.EscalationMax < 0 {
		return fmt.Errorf("%w: %+v", ErrConfig, c)
	}
	return nil
}

// Agent is one dispatchable participant. Previous is its dispatch in the
// preceding real-time step, the reference for RampRate.
type Agent struct {
	Name        string  `json:"name"`
	Curve       *Curve  `json:"-"`
	Initial     float64 `json:"initial"`
	RampRate    float64 `json:"ramp_rate"`
	RampLimited bool    `json:"ramp_limited"`
	Previous    float64 `json:"previous"`
}

// Result is a real-time solve. Price and Dispatch are indexed like the agents.
type Result struct {
	Price       []float64 `json:"price"`
	Dispatch    []float64 `json:"dispatch"`
	Converged   bool      `json:"converged"`
	Iterations  int       `json:"iterations"`
	Escalations int       `json:"escalations"`
	Mismatch    float64   `json:"mismatch"`
	Divergence  float64   `json:"divergence"`
}

// HorizonResult is a day-ahead solve, indexed [time step][agent].
type HorizonResult struct {
	Price       [][]float64 `json:"price"`
	Dispatch    [][]float64 `json:"dispatch"`
	Converged   bool        `json:"converged"`
	Iterations  int         `json:"iterations"`
	Escalations int         `json:"escalations"`
	Mismatch    []float64   `json:"mismatch"`
}

// Solver runs consensus solves and records failures to its log
type Solver struct {
	cfg      Config
	failures *report.Log
}

// New returns a Solver. failures may be nil.
func New(cfg Config, failures *report.Log) *Solver {
	return &Solver{cfg: cfg, failures: failures}
}

// Config returns the solver limits
func (s Solver) Config() Config {
	return s.cfg
}

// SolveRealTime dispatches agents against a single demand target.
func (s *Solver) SolveRealTime(agents []Agent, demand float64) (Result, error) {
	if err := s.cfg.validate(); err != nil {
		return Result{}, err
	}
	if len(agents) == 0 {
		return Result{}, ErrNoAgents
	}
	if err := checkCurves(agents); err != nil {
		return Result{}, err
	}
	if len(agents) == 1 {
		return s.solveSingle(agents[0], demand), nil
	}

	p := newProblem([][]Agent{agents}, []float64{demand}, true)
	st := s.run(p, "consensus-rt")
	return Result{
		Price:       st.Lambda[0],
		Dispatch:    st.Dispatch[0],
		Converged:   st.converged(s.cfg, true),
		Iterations:  st.Total,
		Escalations: st.Escalation,
		Mismatch:    st.Mismatch[0],
		Divergence:  st.Divergence,
	}, nil
}

// SolveDayAhead dispatches a horizon of agents, one row per time step, against
// one demand target per step. Ramp limits couple adjacent steps.
func (s *Solver) SolveDayAhead(horizon [][]Agent, demand []float64) (HorizonResult, error) {
	if err := s.cfg.validate(); err != nil {
		return HorizonResult{}, err
	}
	if len(horizon) == 0 || len(horizon[0]) == 0 {
		return HorizonResult{}, ErrNoAgents
	}
	if len(demand) != len(horizon) {
		return HorizonResult{}, fmt.Errorf("%w: %d steps, %d demands", ErrHorizonMismatch, len(horizon), len(demand))
	}
	for t, row := range horizon {
		if len(row) != len(horizon[0]) {
			return HorizonResult{}, fmt.Errorf("%w: step %d has %d agents, want %d", ErrHorizonMismatch, t, len(row), len(horizon[0]))
		}
		if err := checkCurves(row); err != nil {
			return HorizonResult{}, err
		}
	}

	p := newProblem(horizon, demand, false)
	st := s.run(p, "consensus-da")
	return HorizonResult{
		Price:       st.Lambda,
		Dispatch:    st.Dispatch,
		Converged:   st.converged(s.cfg, false),
		Iterations:  st.Total,
		Escalations: st.Escalation,
		Mismatch:    st.Mismatch,
	}, nil
}

// solveSingle handles a lone agent: the averaging matrix is the identity, so
// the agent takes the whole target within its own limits.
func (s *Solver) solveSingle(a Agent, demand float64) Result {
	q := a.Curve.clampQuantity(demand)
	res := Result{
		Price:      []float64{a.Curve.Price(q)},
		Dispatch:   []float64{q},
		Iterations: 1,
		Mismatch:   demand - q,
	}
	res.Converged = math.Abs(res.Mismatch) <= s.cfg.Epsilon
	if res.Converged {
		log.Printf("[Consensus] single agent %s dispatched at %.4f\n", a.Name, q)
	} else {
		s.fail("consensus-rt", 1, 0, fmt.Sprintf("single agent %s cannot meet demand %.4f", a.Name, demand))
	}
	return res
}

func (s *Solver) run(p problem, component string) *state {
	st := newState(p, s.cfg.Gamma)
	realTime := p.realTime
	for !st.converged(s.cfg, realTime) {
		if st.Iteration+1 >= s.cfg.IterMax {
			st.Escalation++
			st.Gamma /= math.Sqrt(float64(st.Escalation))
			st.reset(p)
			log.Printf("[Consensus] %s escalation %d, gamma %.4g\n", component, st.Escalation, st.Gamma)
		}
		if st.Escalation > s.cfg.EscalationMax {
			s.fail(component, st.Iteration, st.Escalation, "failed to reach consensus")
			return st
		}
		st.step(p)
	}
	log.Printf("[Consensus] %s reached consensus on iteration %d, escalation %d\n", component, st.Iteration, st.Escalation)
	return st
}

func (s *Solver) fail(component string, iteration, escalation int, detail string) {
	log.Printf("[Consensus] WARNING %s: %s (iteration %d, escalation %d)\n", component, detail, iteration, escalation)
	err := s.failures.Write(report.Note{
		Component:  component,
		Iteration:  iteration,
		Escalation: escalation,
		Detail:     detail,
	})
	if err != nil {
		log.Println("[Consensus] unable to write failure log:", err)
	}
}

func checkCurves(agents []Agent) error {
	for i, a := range agents {
		if a.Curve == nil {
			return fmt.Errorf("%w: agent %d (%s) has no curve", ErrMalformedCurve, i, a.Name)
		}
	}
	return nil
}
