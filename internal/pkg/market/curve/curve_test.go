package curve

import (
	"math/rand"
	"testing"

	"gotest.tools/v3/assert"
)

func TestAddOrdersDescending(t *testing.T) {
	c := New()
	c.Add(0.02, 3.0, true)
	c.Add(0.05, 1.0, false)
	c.Add(0.01, 2.0, true)
	c.Add(0.03, 4.0, false)

	bids := c.Bids()
	assert.Equal(t, c.Count(), 4)
	assert.Equal(t, bids[0].Price, 0.05)
	assert.Equal(t, bids[1].Price, 0.03)
	assert.Equal(t, bids[2].Price, 0.02)
	assert.Equal(t, bids[3].Price, 0.01)
}

func TestAddRandomInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	c := New()
	var sum float64
	for i := 0; i < 200; i++ {
		q := r.Float64()*5 + 0.1
		p := float64(r.Intn(20)) / 100
		c.Add(p, q, r.Intn(2) == 0)
		sum += q
	}

	bids := c.Bids()
	assert.Equal(t, c.Count(), len(bids))
	for i := 1; i < len(bids); i++ {
		assert.Assert(t, bids[i-1].Price >= bids[i].Price, "bid %d out of order", i)
	}

	var total, on, off float64
	for _, b := range bids {
		total += b.Quantity
		if b.On {
			on += b.Quantity
		} else {
			off += b.Quantity
		}
	}
	assert.Assert(t, near(c.Total(), sum))
	assert.Assert(t, near(c.Total(), total))
	assert.Assert(t, near(c.TotalOn(), on))
	assert.Assert(t, near(c.TotalOff(), off))
	assert.Assert(t, near(c.TotalOn()+c.TotalOff(), c.Total()))
}

func TestAddZeroQuantityIsNoop(t *testing.T) {
	c := New()
	c.Add(0.04, 2.0, true)
	before := c.Bids()

	c.Add(0.10, 0, true)
	c.Add(0.04, 0, false)

	assert.Equal(t, c.Count(), 1)
	assert.Equal(t, c.Total(), 2.0)
	assert.Equal(t, c.TotalOn(), 2.0)
	assert.Equal(t, c.TotalOff(), 0.0)
	assert.DeepEqual(t, c.Bids(), before)
}

func TestTieBreakNewestFirst(t *testing.T) {
	c := New()
	c.Add(0.07, 1.0, true)  // A
	c.Add(0.07, 2.0, false) // B

	bids := c.Bids()
	assert.Equal(t, bids[0].Quantity, 2.0, "later bid at a tied price must rank first")
	assert.Equal(t, bids[1].Quantity, 1.0)

	c.Add(0.09, 5.0, true)
	c.Add(0.07, 3.0, true) // C
	bids = c.Bids()
	assert.Equal(t, bids[0].Price, 0.09)
	assert.Equal(t, bids[1].Quantity, 3.0)
	assert.Equal(t, bids[2].Quantity, 2.0)
	assert.Equal(t, bids[3].Quantity, 1.0)
}

func TestSetOrderAscending(t *testing.T) {
	c := New()
	c.Add(0.01, 1.0, true)
	c.Add(0.03, 3.0, true)
	c.Add(0.02, 2.0, true)

	c.SetOrder(Ascending)
	assert.Equal(t, c.Order(), Ascending)
	bids := c.Bids()
	assert.Equal(t, bids[0].Price, 0.01)
	assert.Equal(t, bids[2].Price, 0.03)

	// same order twice is a no-op
	c.SetOrder(Ascending)
	assert.Equal(t, c.At(0).Price, 0.01)

	c.SetOrder(Descending)
	assert.Equal(t, c.At(0).Price, 0.03)
}

func TestAddWhileAscendingMirrorsDescending(t *testing.T) {
	asc := New()
	asc.SetOrder(Ascending)
	desc := New()
	for _, b := range []Bid{{0.05, 1, true}, {0.02, 2, false}, {0.05, 3, true}, {0.01, 4, true}} {
		asc.Add(b.Price, b.Quantity, b.On)
		desc.Add(b.Price, b.Quantity, b.On)
	}
	desc.SetOrder(Ascending)
	assert.DeepEqual(t, asc.Bids(), desc.Bids())
}

func TestBidsIsACopy(t *testing.T) {
	c := New()
	c.Add(0.02, 1.0, true)
	bids := c.Bids()
	bids[0].Price = 99
	assert.Equal(t, c.At(0).Price, 0.02)
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
