package consensus

import (
	"encoding/json"
	"fmt"
	"os"
)

// Solve modes of a case file
const (
	ModeRealTime = "rt"
	ModeDayAhead = "da"
)

const defaultQuadraticPoints = 50

// Quadratic describes a generator cost aQ^2 + bQ over [0, Size]
type Quadratic struct {
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	Size   float64 `json:"size"`
	Points int     `json:"points"`
}

// AgentSpec is one agent as written in a case file. Either Price and
// Quantity or Quadratic describe the curve.
type AgentSpec struct {
	Agent
	Price     []float64  `json:"price"`
	Quantity  []float64  `json:"quantity"`
	Quadratic *Quadratic `json:"quadratic"`
}

// CaseFile is an offline consensus problem. Target holds one demand for a
// real-time case and one per step for a day-ahead case, where every agent
// offers the same curve at each step.
type CaseFile struct {
	Mode   string      `json:"mode"`
	Agents []AgentSpec `json:"agents"`
	Target []float64   `json:"target"`
	Solver *Config     `json:"solver"`
}

// LoadCase reads a case file
func LoadCase(path string) (CaseFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return CaseFile{}, err
	}
	c := CaseFile{}
	if err := json.Unmarshal(b, &c); err != nil {
		return CaseFile{}, err
	}
	if c.Mode == "" {
		c.Mode = ModeRealTime
	}
	if c.Mode != ModeRealTime && c.Mode != ModeDayAhead {
		return CaseFile{}, fmt.Errorf("%w: mode %q", ErrConfig, c.Mode)
	}
	return c, nil
}

// Config is the mode default overridden by any solver block in the file
func (c CaseFile) Config() Config {
	if c.Solver != nil {
		return *c.Solver
	}
	if c.Mode == ModeDayAhead {
		return DayAheadConfig()
	}
	return RealTimeConfig()
}

// Build constructs the agents' curves
func (c CaseFile) Build() ([]Agent, error) {
	agents := make([]Agent, len(c.Agents))
	for i, spec := range c.Agents {
		a := spec.Agent
		var err error
		if q := spec.Quadratic; q != nil {
			points := q.Points
			if points == 0 {
				points = defaultQuadraticPoints
			}
			a.Curve, err = QuadraticCurve(q.A, q.B, q.Size, points)
		} else {
			a.Curve, err = NewCurve(spec.Price, spec.Quantity)
		}
		if err != nil {
			return nil, fmt.Errorf("agent %d %s: %w", i, a.Name, err)
		}
		agents[i] = a
	}
	return agents, nil
}

// Horizon repeats the agents for every target step
func (c CaseFile) Horizon() ([][]Agent, error) {
	agents, err := c.Build()
	if err != nil {
		return nil, err
	}
	horizon := make([][]Agent, len(c.Target))
	for t := range horizon {
		horizon[t] = append([]Agent(nil), agents...)
	}
	return horizon, nil
}
