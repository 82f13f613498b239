// Package aggregate reduces a buyer curve to the closed form bid published to
// the wholesale market: an unresponsive quantity plus a zero intercept cost
// polynomial over the responsive remainder.
package aggregate

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"gonum.org/v1/gonum/mat"
)

const (
	// PriceScale converts $/kWh to $/MWh
	PriceScale = 1000.0
	// QuantityScale converts kW to MW
	QuantityScale = 0.001
)

// Bid is the aggregated curve in MW and $/MWh. C0 is zero by construction.
type Bid struct {
	Unresponsive  float64 `json:"unresponsive_mw"`
	ResponsiveMax float64 `json:"responsive_max_mw"`
	Degree        int     `json:"responsive_deg"`
	C2            float64 `json:"responsive_c2"`
	C1            float64 `json:"responsive_c1"`
}

// Cost evaluates the fitted cost polynomial at q MW of responsive load.
func (b Bid) Cost(q float64) float64 {
	return b.C2*q*q + b.C1*q
}

// Aggregate fits the responsive tail of c. The curve is expected descending by
// price; it is not modified.
func Aggregate(c *curve.Curve) (Bid, error) {
	bids := c.Bids()
	if len(bids) == 0 {
		return Bid{}, nil
	}
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	p := make([]float64, len(bids))
	q := make([]float64, len(bids))
	for i, b := range bids {
		p[i] = PriceScale * b.Price
		q[i] = QuantityScale * b.Quantity
	}

	idx := 0
	for idx+1 < len(p) && p[idx+1] == p[0] {
		idx++
	}
	var unresp float64
	for _, v := range q[:idx+1] {
		unresp += v
	}

	n := len(p) - idx - 1
	if n < 1 {
		return Bid{Unresponsive: unresp}, nil
	}

	qresp := make([]float64, n)
	cost := make([]float64, n)
	var qsum, csum float64
	for k := 0; k < n; k++ {
		qsum += q[idx+1+k]
		csum += p[idx+1+k] * q[idx+1+k]
		qresp[k] = qsum
		cost[k] = csum
	}

	deg := 2
	if n <= 2 {
		deg = 1
	}
	coef, err := fitZeroIntercept(qresp, cost, deg)
	if err != nil {
		return Bid{}, err
	}

	bid := Bid{
		Unresponsive:  unresp,
		ResponsiveMax: qresp[n-1],
		Degree:        deg,
	}
	if deg == 2 {
		bid.C2 = coef[0]
		bid.C1 = coef[1]
	} else {
		bid.C1 = coef[0]
	}
	return bid, nil
}

// fitZeroIntercept solves min ||A c - y|| where the columns of A are x^deg .. x^1.
func fitZeroIntercept(x, y []float64, deg int) ([]float64, error) {
	a := mat.NewDense(len(x), deg, nil)
	for i, xi := range x {
		pow := xi
		for j := deg - 1; j >= 0; j-- {
			a.Set(i, j, pow)
			pow *= xi
		}
	}

	var c mat.VecDense
	err := c.SolveVec(a, mat.NewVecDense(len(y), y))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("aggregate: least squares fit: %w", err)
		}
		log.Printf("[Aggregate] ill-conditioned responsive tail (cond %.3g)\n", float64(cond))
	}

	out := make([]float64, deg)
	for i := range out {
		out[i] = c.AtVec(i)
	}
	return out, nil
}
