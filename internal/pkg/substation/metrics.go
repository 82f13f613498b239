package substation

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ohowland/cgc_market/internal/pkg/market/auction"
)

// AuctionMetric is written as [price, clearing type, consumer surplus,
// average consumer surplus, supplier surplus]
type AuctionMetric struct {
	Price                  float64
	Type                   auction.ClearingType
	ConsumerSurplus        float64
	AverageConsumerSurplus float64
	SupplierSurplus        float64
}

func auctionMetric(price float64, r auction.Result) AuctionMetric {
	return AuctionMetric{
		Price:                  price,
		Type:                   r.Type,
		ConsumerSurplus:        r.ConsumerSurplus,
		AverageConsumerSurplus: r.AverageConsumerSurplus,
		SupplierSurplus:        r.SupplierSurplus,
	}
}

// MarshalJSON implements json.Marshaler
func (m AuctionMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		m.Price, int(m.Type), m.ConsumerSurplus, m.AverageConsumerSurplus, m.SupplierSurplus,
	})
}

// ControllerMetric is written as [bid price, bid quantity]
type ControllerMetric struct {
	Price    float64
	Quantity float64
}

// MarshalJSON implements json.Marshaler
func (m ControllerMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{m.Price, m.Quantity})
}

// Metrics are keyed by clearing time in seconds, then by market or controller name.
type Metrics struct {
	Auction    map[string]map[string]AuctionMetric
	Controller map[string]map[string]ControllerMetric
}

func newMetrics() Metrics {
	return Metrics{
		Auction:    make(map[string]map[string]AuctionMetric),
		Controller: make(map[string]map[string]ControllerMetric),
	}
}

func (m Metrics) record(key, name string, c ControllerMetric) {
	row, ok := m.Controller[key]
	if !ok {
		row = make(map[string]ControllerMetric)
		m.Controller[key] = row
	}
	row[name] = c
}

// Metrics returns a copy of the recorded metrics
func (s *Substation) Metrics() Metrics {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := newMetrics()
	for k, row := range s.metrics.Auction {
		cp := make(map[string]AuctionMetric, len(row))
		for name, v := range row {
			cp[name] = v
		}
		out.Auction[k] = cp
	}
	for k, row := range s.metrics.Controller {
		cp := make(map[string]ControllerMetric, len(row))
		for name, v := range row {
			cp[name] = v
		}
		out.Controller[k] = cp
	}
	return out
}

// WriteMetrics writes auction_<root>_metrics.json and
// controller_<root>_metrics.json into dir.
func (s *Substation) WriteMetrics(dir, root string) error {
	m := s.Metrics()
	files := map[string]interface{}{
		"auction_" + root + "_metrics.json":    m.Auction,
		"controller_" + root + "_metrics.json": m.Controller,
	}
	for name, v := range files {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
			return err
		}
	}
	return nil
}
