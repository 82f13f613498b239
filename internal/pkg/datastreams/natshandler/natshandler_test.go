package natshandler

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"gotest.tools/v3/assert"

	nats "github.com/nats-io/nats.go"
)

type recorder struct {
	mux  sync.Mutex
	got  map[string]string
	done chan struct{}
}

func (r *recorder) Deliver(topic, raw string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.got[topic] = raw
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func newHandler(t *testing.T) (Handler, *msg.PubSub, *recorder) {
	pid, _ := uuid.NewUUID()
	pub := msg.NewPublisher(pid)
	rec := &recorder{got: make(map[string]string), done: make(chan struct{}, 1)}
	h, err := NewFromConfig(Config{Subject: "feeder"}, pub, rec)
	assert.NilError(t, err)
	return h, pub, rec
}

func TestNewReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nats.json")
	assert.NilError(t, os.WriteFile(path, []byte(`{"Server": "nats://10.0.0.2:4222", "Subject": "r1_12_47_1"}`), 0644))

	pid, _ := uuid.NewUUID()
	h, err := New(path, msg.NewPublisher(pid), nil)
	assert.NilError(t, err)
	assert.Equal(t, h.config.Server, "nats://10.0.0.2:4222")
	assert.Equal(t, h.Subject(msg.ClearedPrice), "r1_12_47_1.clear_price")
}

func TestDefaults(t *testing.T) {
	pid, _ := uuid.NewUUID()
	h, err := NewFromConfig(Config{}, msg.NewPublisher(pid), nil)
	assert.NilError(t, err)
	assert.Equal(t, h.config.Server, nats.DefaultURL)
	assert.Equal(t, h.Subject(msg.Dispatch), "cgc.dispatch")
}

func TestMeasurementTopic(t *testing.T) {
	h, _, _ := newHandler(t)

	topic, err := h.MeasurementTopic("feeder.measurement.house1_hvac#Tair")
	assert.NilError(t, err)
	assert.Equal(t, topic, "house1_hvac#Tair")

	_, err = h.MeasurementTopic("feeder.measurement.")
	assert.Assert(t, errors.Is(err, ErrNotMeasurement))

	_, err = h.MeasurementTopic("other.measurement.LMP")
	assert.Assert(t, errors.Is(err, ErrNotMeasurement))
}

func TestIngestDelivers(t *testing.T) {
	h, _, rec := newHandler(t)
	h.ingest(&nats.Msg{Subject: "feeder.measurement.LMP", Data: []byte("0.0213")})
	h.ingest(&nats.Msg{Subject: "feeder.clear_price", Data: []byte("0.5")})
	assert.DeepEqual(t, rec.got, map[string]string{"LMP": "0.0213"})
}

func TestSubscribesForwardedTopics(t *testing.T) {
	pid, _ := uuid.NewUUID()
	pub := msg.NewPublisher(pid)
	h, err := NewFromConfig(Config{}, pub, nil)
	assert.NilError(t, err)

	pub.Publish(msg.ClearedPrice, 0.03)
	pub.Publish(msg.Bid, 0.04)

	select {
	case m := <-h.inbox:
		assert.Equal(t, m.Topic(), msg.ClearedPrice)
	case <-time.After(time.Second):
		t.Fatal("cleared price not redirected")
	}
	select {
	case m := <-h.inbox:
		t.Fatalf("unexpected %v", m.Topic())
	case <-time.After(50 * time.Millisecond):
	}
}

// Requires a NATS server at the default URL.
func TestNatsRoundTrip(t *testing.T) {
	h, pub, rec := newHandler(t)
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skip("no nats server:", err)
	}
	defer nc.Close()

	prices := make(chan *nats.Msg, 1)
	_, err = nc.ChanSubscribe(h.Subject(msg.ClearedPrice), prices)
	assert.NilError(t, err)

	go h.Process()
	defer h.Stop()
	time.Sleep(200 * time.Millisecond)

	pub.Publish(msg.ClearedPrice, 0.03)
	select {
	case m := <-prices:
		assert.Equal(t, string(m.Data), "0.03")
	case <-time.After(2 * time.Second):
		t.Fatal("cleared price not published")
	}

	assert.NilError(t, nc.Publish("feeder.measurement.LMP", []byte("0.021")))
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("measurement not delivered")
	}
}
