package mongodb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/market/aggregate"
	"github.com/ohowland/cgc_market/internal/pkg/market/auction"
	"github.com/ohowland/cgc_market/internal/pkg/market/curve"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"go.mongodb.org/mongo-driver/bson"
	"gotest.tools/v3/assert"
)

func TestNewReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongo.json")
	assert.NilError(t, os.WriteFile(path, []byte(`{"URI": "mongodb://localhost", "Port": "27017"}`), 0644))

	pid, _ := uuid.NewUUID()
	h, err := New(path, msg.NewPublisher(pid))
	assert.NilError(t, err)
	assert.Equal(t, h.uri(), "mongodb://localhost:27017")
	assert.Equal(t, h.config.Database, "cgc_market")
}

func TestClearingUpsertsByMarket(t *testing.T) {
	pid, _ := uuid.NewUUID()
	c := substation.Clearing{Market: "feeder", Time: 300, Result: auction.Result{Type: auction.Seller, Price: 0.03, Quantity: 50}}
	w, err := toWrite(msg.New(pid, msg.Clearing, c))
	assert.NilError(t, err)

	assert.Equal(t, w.collection, ClearingCollection)
	assert.Assert(t, w.upsert)
	assert.DeepEqual(t, w.filter, bson.M{"Market": "feeder"})

	set := w.doc["$set"].(bson.M)
	assert.Equal(t, set["Market"], "feeder")
	_, ok := set["Result"]
	assert.Assert(t, ok)
}

func TestAggregateUpsertsByMarket(t *testing.T) {
	pid, _ := uuid.NewUUID()
	a := substation.Aggregate{Market: "feeder", Time: 300, Bid: aggregate.Bid{Unresponsive: 0.042}}
	w, err := toWrite(msg.New(pid, msg.AggregateBid, a))
	assert.NilError(t, err)
	assert.Equal(t, w.collection, AggregateCollection)
	assert.Assert(t, w.upsert)
}

func TestControllerBidInserts(t *testing.T) {
	pid, _ := uuid.NewUUID()
	b := substation.ControllerBid{Name: "house1_hvac", Time: 300, Bid: curve.Bid{Price: 0.04, Quantity: 4, On: true}}
	w, err := toWrite(msg.New(pid, msg.Bid, b))
	assert.NilError(t, err)
	assert.Equal(t, w.collection, BidCollection)
	assert.Assert(t, !w.upsert)
	assert.Equal(t, w.doc["Name"], "house1_hvac")
	assert.Equal(t, w.doc["pid"], pid.String())
}

func TestUnsupportedPayload(t *testing.T) {
	pid, _ := uuid.NewUUID()
	_, err := toWrite(msg.New(pid, msg.ClearedPrice, 0.03))
	assert.Assert(t, errors.Is(err, ErrPayload))
}
