package msg

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, ClearedPrice)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, ClearedPrice)
	assert.NilError(t, err)

	randValue := rand.Float64()
	pubsub.Publish(ClearedPrice, randValue)

	incoming := <-ch1
	assert.Equal(t, incoming.Payload(), randValue, "First subscriber did not recieve the correct published value")
	assert.Equal(t, incoming.PID(), pidPub)
	assert.Equal(t, incoming.Topic(), ClearedPrice)

	incoming = <-ch2
	assert.Equal(t, incoming.Payload(), randValue, "Second subscriber did not recieve the correct published value")
}

func TestSubscribeTwice(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	_, err := pubsub.Subscribe(pid, Setpoint)
	assert.NilError(t, err)

	_, err = pubsub.Subscribe(pid, Setpoint)
	assert.ErrorIs(t, err, ErrSubscribed)

	_, err = pubsub.Subscribe(pid, Basepoint)
	assert.NilError(t, err)
}

func TestTopicIsolation(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Dispatch)
	assert.NilError(t, err)

	pubsub.Publish(Clearing, 1.0)
	pubsub.Publish(Dispatch, 2.0)

	m := <-ch
	assert.Equal(t, m.Payload(), 2.0)
	assert.Equal(t, len(ch), 0)
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch1, _ := pubsub.Subscribe(pid, Bid)
	ch2, _ := pubsub.Subscribe(pid, AggregateBid)

	pubsub.Unsubscribe(pid)

	_, ok := <-ch1
	assert.Assert(t, !ok)
	_, ok = <-ch2
	assert.Assert(t, !ok)

	// publishing after unsubscribe must not panic on a closed channel
	pubsub.Publish(Bid, 1.0)
}

func TestPublishDropsWhenFull(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, _ := pubsub.Subscribe(uuid.New(), Measurement)

	for i := 0; i < subscriberBuffer+10; i++ {
		pubsub.Publish(Measurement, i)
	}
	assert.Equal(t, len(ch), subscriberBuffer)
}

func TestForwardKeepsSender(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, _ := pubsub.Subscribe(uuid.New(), Setpoint)

	sender := uuid.New()
	pubsub.Forward(New(sender, Setpoint, 72.5))

	m := <-ch
	assert.Equal(t, m.PID(), sender)
	assert.Equal(t, m.Payload(), 72.5)
}
