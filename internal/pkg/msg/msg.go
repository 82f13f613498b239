package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic identifies the kind of payload carried by a Msg
type Topic int

const (
	Measurement Topic = iota
	Bid
	AggregateBid
	ClearedPrice
	Setpoint
	Basepoint
	Clearing
	Dispatch
	Failure
)

func (t Topic) String() string {
	switch t {
	case Measurement:
		return "measurement"
	case Bid:
		return "bid"
	case AggregateBid:
		return "aggregate_bid"
	case ClearedPrice:
		return "clear_price"
	case Setpoint:
		return "setpoint"
	case Basepoint:
		return "basepoint"
	case Clearing:
		return "clearing"
	case Dispatch:
		return "dispatch"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// ErrSubscribed is returned when a pid already holds a subscription to the topic
var ErrSubscribed = errors.New("msg: pid already subscribed to topic")

// Publisher is an interface for objects that allow subscribtion to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is the envelope passed between the market actors
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

const subscriberBuffer = 50

// PubSub fans published messages out to per-topic subscribers.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub owned by pid
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// Subscribe returns a read only channel carrying every message published on topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	subs, ok := p.subscribers[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.subscribers[topic] = subs
	}
	if _, ok := subs[pid]; ok {
		return nil, ErrSubscribed
	}
	ch := make(chan Msg, subscriberBuffer)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish sends payload to all subscribers of topic. A subscriber with a full
// buffer misses the message.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	m := New(p.pid, topic, payload)
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Forward publishes an existing message under its original sender.
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[m.topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

// PID returns the publisher's owner
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}
