package mqtt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type recorder map[string]string

func (r recorder) Deliver(topic, raw string) error {
	r[topic] = raw
	return nil
}

func TestNewReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqtt.json")
	doc := `{"Broker": "tcp://broker:1883", "ClientID": "sub1", "Prefix": "feeder"}`
	assert.NilError(t, os.WriteFile(path, []byte(doc), 0644))

	h, err := New(path, recorder{})
	assert.NilError(t, err)
	assert.Equal(t, h.config.ClientID, "sub1")
	assert.DeepEqual(t, h.config.Topics, []string{"feeder/#"})
}

func TestMeasurementTopic(t *testing.T) {
	h, err := NewFromConfig(Config{Prefix: "feeder"}, recorder{})
	assert.NilError(t, err)

	topic, err := h.MeasurementTopic("feeder/house1_hvac/Tair")
	assert.NilError(t, err)
	assert.Equal(t, topic, "house1_hvac#Tair")

	topic, err = h.MeasurementTopic("feeder/refload")
	assert.NilError(t, err)
	assert.Equal(t, topic, "refload")

	for _, bad := range []string{"feeder/", "other/LMP", "feeder/a/b/c", "feeder//Tair"} {
		_, err = h.MeasurementTopic(bad)
		assert.Assert(t, errors.Is(err, ErrTopic), bad)
	}
}

func TestOnMessageDelivers(t *testing.T) {
	rec := recorder{}
	h, err := NewFromConfig(Config{}, rec)
	assert.NilError(t, err)

	h.onMessage(nil, message{topic: "cgc/house2_hvac/On", payload: []byte("OFF")})
	h.onMessage(nil, message{topic: "elsewhere/LMP", payload: []byte("0.02")})
	assert.DeepEqual(t, rec, recorder{"house2_hvac#On": "OFF"})
}
