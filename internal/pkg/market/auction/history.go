package auction

import (
	"gonum.org/v1/gonum/stat"
)

// PriceHistory is a fixed window of cleared prices.
type PriceHistory struct {
	window []float64
	size   int
	next   int
	full   bool
}

// NewPriceHistory returns a history holding at most size prices. A size below
// two disables the statistics.
func NewPriceHistory(size int) *PriceHistory {
	if size < 0 {
		size = 0
	}
	return &PriceHistory{window: make([]float64, 0, size), size: size}
}

// Record appends a cleared price, evicting the oldest when the window is full.
func (h *PriceHistory) Record(price float64) {
	if h.size == 0 {
		return
	}
	if !h.full {
		h.window = append(h.window, price)
		if len(h.window) == h.size {
			h.full = true
		}
		return
	}
	h.window[h.next] = price
	h.next = (h.next + 1) % h.size
}

// Len returns the number of recorded prices
func (h *PriceHistory) Len() int {
	return len(h.window)
}

// MeanStdDev returns the sample mean and standard deviation of the window.
// ok is false until two prices have been recorded.
func (h *PriceHistory) MeanStdDev() (mean, std float64, ok bool) {
	if len(h.window) < 2 {
		return 0, 0, false
	}
	mean, std = stat.MeanStdDev(h.window, nil)
	return mean, std, true
}
