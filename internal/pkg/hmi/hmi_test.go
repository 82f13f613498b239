package hmi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/market/auction"
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"gotest.tools/v3/assert"
)

func TestClearingRow(t *testing.T) {
	row := ClearingRow(substation.Clearing{
		Market: "feeder",
		Time:   300,
		Result: auction.Result{Type: auction.Price, Price: 0.0801, Quantity: 5},
	})
	assert.DeepEqual(t, row, []string{"feeder", "300", "PRICE", "0.08010", "5.000"})
}

func TestBidRow(t *testing.T) {
	row := BidRow(substation.ControllerBid{Name: "house1_hvac", Time: 600, Bid: curve.Bid{Price: 0.04, Quantity: 4.2}})
	assert.DeepEqual(t, row, []string{"house1_hvac", "600", "OFF", "0.04000", "4.200"})
}

func TestModelRows(t *testing.T) {
	pid, _ := uuid.NewUUID()
	m := NewModel()
	assert.DeepEqual(t, m.Rows(), [][]string{Header})

	assert.Assert(t, m.Update(msg.New(pid, msg.Bid, substation.ControllerBid{Name: "house2_hvac", Time: 300})))
	assert.Assert(t, m.Update(msg.New(pid, msg.Bid, substation.ControllerBid{Name: "house1_hvac", Time: 300})))
	assert.Assert(t, m.Update(msg.New(pid, msg.Clearing, substation.Clearing{Market: "feeder", Time: 300})))
	assert.Assert(t, !m.Update(msg.New(pid, msg.ClearedPrice, 0.03)))

	rows := m.Rows()
	assert.Equal(t, len(rows), 4)
	assert.Equal(t, rows[1][0], "feeder")
	assert.Equal(t, rows[1][2], "NULL")
	assert.Equal(t, rows[2][0], "house1_hvac")
	assert.Equal(t, rows[3][0], "house2_hvac")
}

func TestNewMonitorDrawsHeader(t *testing.T) {
	m := NewMonitor("feeder")
	assert.Equal(t, m.table.GetRowCount(), 1)
	assert.Equal(t, m.table.GetCell(0, 3).Text, "Price")
}
