package consensus

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type problem struct {
	agents   [][]Agent
	demand   []float64
	realTime bool

	d         *mat.Dense
	lambda0   [][]float64
	dispatch0 [][]float64
}

// newProblem seeds each agent's price from its curve at its initial dispatch,
// the dispatch first held within the curve's quantity range.
func newProblem(agents [][]Agent, demand []float64, realTime bool) problem {
	p := problem{
		agents:    agents,
		demand:    demand,
		realTime:  realTime,
		d:         Laplacian(len(agents[0])),
		lambda0:   make([][]float64, len(agents)),
		dispatch0: make([][]float64, len(agents)),
	}
	for t, row := range agents {
		p.lambda0[t] = make([]float64, len(row))
		p.dispatch0[t] = make([]float64, len(row))
		for n, a := range row {
			q := a.Curve.clampQuantity(a.Initial)
			p.dispatch0[t][n] = q
			p.lambda0[t][n] = a.Curve.Price(q)
		}
	}
	return p
}

// state is the latest iterate of a solve. Lambda, Dispatch and Mismatch are
// indexed by time step; a real-time solve has one step. Earlier iterates are
// not kept.
type state struct {
	Lambda     [][]float64
	Dispatch   [][]float64
	Mismatch   []float64
	Divergence float64

	// Iteration counts within the current escalation round, Total across all.
	Iteration  int
	Total      int
	Escalation int
	Gamma      float64
}

func newState(p problem, gamma float64) *state {
	st := &state{Gamma: gamma}
	st.reset(p)
	return st
}

// reset returns the iterate to the initial prices and dispatch. Gamma and the
// escalation count are kept.
func (st *state) reset(p problem) {
	st.Iteration = 0
	st.Lambda = make([][]float64, len(p.lambda0))
	st.Dispatch = make([][]float64, len(p.dispatch0))
	st.Mismatch = make([]float64, len(p.demand))
	for t := range p.lambda0 {
		st.Lambda[t] = append([]float64(nil), p.lambda0[t]...)
		st.Dispatch[t] = append([]float64(nil), p.dispatch0[t]...)
		st.Mismatch[t] = p.demand[t] - floats.Sum(st.Dispatch[t])
	}
	st.Divergence = st.divergence()
}

// step is one averaging iteration over every time step.
func (st *state) step(p problem) {
	n := len(p.agents[0])
	size := st.Gamma / (0.9 * float64(st.Iteration+1))

	var next mat.VecDense
	for t, row := range p.agents {
		next.MulVec(p.d, mat.NewVecDense(n, st.Lambda[t]))
		for i, a := range row {
			lambda := next.AtVec(i) + size*st.Mismatch[t]
			st.Lambda[t][i] = lambda

			q := a.Curve.Quantity(a.Curve.clampPrice(lambda))
			switch {
			case p.realTime:
				if a.RampLimited {
					q = rampLimit(q, a.Previous, a.RampRate)
				}
				q = a.Curve.clampQuantity(q)
			case t > 0:
				q = horizonLimit(q, a, st.Dispatch[t-1][i])
			}
			st.Dispatch[t][i] = q
		}
		st.Mismatch[t] = p.demand[t] - floats.Sum(st.Dispatch[t])
	}

	st.Divergence = st.divergence()
	st.Iteration++
	st.Total++
}

func (st *state) converged(cfg Config, realTime bool) bool {
	if st.maxMismatch() > cfg.Epsilon {
		return false
	}
	return !realTime || st.Divergence <= cfg.LambdaTolerance
}

// divergence is the largest pairwise price gap between agents at any step
func (st *state) divergence() float64 {
	var div float64
	for _, row := range st.Lambda {
		div = math.Max(div, floats.Max(row)-floats.Min(row))
	}
	return div
}

func (st *state) maxMismatch() float64 {
	var m float64
	for _, v := range st.Mismatch {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// rampLimit keeps a real-time dispatch within rate of the previous step.
func rampLimit(q, previous, rate float64) float64 {
	switch {
	case math.Abs(q) > math.Abs(previous+rate):
		return previous + rate
	case math.Abs(q) < math.Abs(previous-rate):
		return previous - rate
	}
	return q
}

// horizonLimit bounds a day-ahead dispatch by the curve and, for ramp limited
// agents, by the preceding step's dispatch plus the ramp rate. The ramp only
// caps upward moves; a drop between steps is limited by the curve alone.
func horizonLimit(q float64, a Agent, previous float64) float64 {
	upper := a.Curve.MaxQuantity()
	lower := a.Curve.MinQuantity()
	if a.RampLimited {
		upper = math.Min(upper, previous+a.RampRate)
	}
	switch {
	case math.Abs(q) > upper:
		return upper
	case math.Abs(q) < lower:
		return lower
	}
	return q
}
