package consensus

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// ErrMalformedCurve is returned for a price-quantity curve that cannot be
// inverted: mismatched lengths, fewer than two points, or non-monotone values.
var ErrMalformedCurve = errors.New("consensus: malformed price-quantity curve")

// Curve is an agent's marginal price as a piecewise linear function of its
// dispatch quantity. Quantity is strictly increasing and price non-decreasing.
type Curve struct {
	price    []float64
	quantity []float64

	forward interp.PiecewiseLinear // quantity -> price
	inverse interp.PiecewiseLinear // price -> quantity
}

// NewCurve validates and fits the points (quantity[i], price[i]).
func NewCurve(price, quantity []float64) (*Curve, error) {
	if len(price) != len(quantity) {
		return nil, fmt.Errorf("%w: %d prices, %d quantities", ErrMalformedCurve, len(price), len(quantity))
	}
	if len(price) < 2 {
		return nil, fmt.Errorf("%w: %d points", ErrMalformedCurve, len(price))
	}
	for i := 1; i < len(price); i++ {
		if quantity[i] <= quantity[i-1] {
			return nil, fmt.Errorf("%w: quantity not increasing at point %d", ErrMalformedCurve, i)
		}
		if price[i] < price[i-1] {
			return nil, fmt.Errorf("%w: price decreasing at point %d", ErrMalformedCurve, i)
		}
	}

	// a flat run of prices inverts to its first (smallest) quantity
	up := []float64{price[0]}
	uq := []float64{quantity[0]}
	for i := 1; i < len(price); i++ {
		if price[i] != up[len(up)-1] {
			up = append(up, price[i])
			uq = append(uq, quantity[i])
		}
	}
	if len(up) < 2 {
		return nil, fmt.Errorf("%w: constant price %v", ErrMalformedCurve, price[0])
	}

	c := &Curve{
		price:    append([]float64(nil), price...),
		quantity: append([]float64(nil), quantity...),
	}
	if err := c.forward.Fit(c.quantity, c.price); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCurve, err)
	}
	if err := c.inverse.Fit(up, uq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCurve, err)
	}
	return c, nil
}

// QuadraticCurve samples the marginal cost P = 2aQ + b of a generator with
// cost aQ^2 + bQ at points evenly spaced quantities from 0 to size.
func QuadraticCurve(a, b, size float64, points int) (*Curve, error) {
	if points < 2 || size <= 0 {
		return nil, fmt.Errorf("%w: %d points over size %v", ErrMalformedCurve, points, size)
	}
	q := floats.Span(make([]float64, points), 0, size)
	p := make([]float64, points)
	for i, v := range q {
		p[i] = 2*a*v + b
	}
	return NewCurve(p, q)
}

// Price is the marginal price at quantity q, held constant beyond the ends
func (c *Curve) Price(q float64) float64 {
	return c.forward.Predict(q)
}

// Quantity inverts the curve at price p, held constant beyond the ends
func (c *Curve) Quantity(p float64) float64 {
	return c.inverse.Predict(p)
}

// MinPrice is the price at the smallest quantity
func (c *Curve) MinPrice() float64 { return c.price[0] }

// MaxPrice is the price at the largest quantity
func (c *Curve) MaxPrice() float64 { return c.price[len(c.price)-1] }

// MinQuantity is the smallest dispatch the curve allows
func (c *Curve) MinQuantity() float64 { return c.quantity[0] }

// MaxQuantity is the largest dispatch the curve allows
func (c *Curve) MaxQuantity() float64 { return c.quantity[len(c.quantity)-1] }

// Points returns copies of the curve's prices and quantities
func (c *Curve) Points() (price, quantity []float64) {
	return append([]float64(nil), c.price...), append([]float64(nil), c.quantity...)
}

func (c *Curve) clampQuantity(q float64) float64 {
	switch {
	case q > c.MaxQuantity():
		return c.MaxQuantity()
	case q < c.MinQuantity():
		return c.MinQuantity()
	}
	return q
}

func (c *Curve) clampPrice(p float64) float64 {
	switch {
	case p > c.MaxPrice():
		return c.MaxPrice()
	case p < c.MinPrice():
		return c.MinPrice()
	}
	return p
}
