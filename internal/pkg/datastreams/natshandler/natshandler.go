// Package natshandler bridges the market's message fabric to a NATS server.
// Results are published as JSON under <Subject>.<topic> and raw measurements
// arriving under <Subject>.measurement.<topic> are handed to a Sink.
package natshandler

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/msg"

	nats "github.com/nats-io/nats.go"
)

// ErrNotMeasurement is returned for a subject outside the measurement tree
var ErrNotMeasurement = errors.New("natshandler: not a measurement subject")

// Sink accepts raw measurement values by topic. It is implemented by
// substation.Substation.
type Sink interface {
	Deliver(topic, raw string) error
}

// Handler forwards published market results to NATS.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	sink   Sink
	stop   chan bool
}

// Config is the NATS handler configuration
type Config struct {
	Server  string `json:"Server"`
	Subject string `json:"Subject"`
}

var forwarded = []msg.Topic{
	msg.ClearedPrice,
	msg.Clearing,
	msg.AggregateBid,
	msg.Setpoint,
	msg.Basepoint,
	msg.Dispatch,
}

// PID is a getter for the handler PID
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New reads the handler configuration at configPath.
func New(configPath string, system msg.Publisher, sink Sink) (Handler, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	return NewFromConfig(cfg, system, sink)
}

// NewFromConfig subscribes the handler to every forwarded topic on system.
// A nil sink disables measurement ingestion.
func NewFromConfig(cfg Config, system msg.Publisher, sink Sink) (Handler, error) {
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "cgc"
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	for _, topic := range forwarded {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			return Handler{}, err
		}
		go redirectMsg(ch, inbox)
	}

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		sink:   sink,
		stop:   make(chan bool),
	}, nil
}

// Stop ends a running Process
func (h *Handler) Stop() {
	h.stop <- true
}

// Subject is the NATS subject a topic is published under
func (h Handler) Subject(topic msg.Topic) string {
	return h.config.Subject + "." + topic.String()
}

// MeasurementTopic strips the measurement prefix from a NATS subject.
func (h Handler) MeasurementTopic(subject string) (string, error) {
	prefix := h.config.Subject + "." + msg.Measurement.String() + "."
	if !strings.HasPrefix(subject, prefix) || len(subject) == len(prefix) {
		return "", ErrNotMeasurement
	}
	return strings.TrimPrefix(subject, prefix), nil
}

func (h Handler) ingest(m *nats.Msg) {
	topic, err := h.MeasurementTopic(m.Subject)
	if err != nil {
		log.Printf("[NATS client] %v: %s\n", err, m.Subject)
		return
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if err := h.sink.Deliver(topic, string(m.Data)); err != nil {
		log.Printf("[NATS client] unable to deliver %s: %v\n", topic, err)
	}
}

// Process connects to the server and forwards messages until Stop is called.
func (h Handler) Process() error {
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		return err
	}
	defer nc.Close()
	log.Println("[NATS client] Process Started")

	if h.sink != nil {
		sub, err := nc.Subscribe(h.config.Subject+"."+msg.Measurement.String()+".>", h.ingest)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			data, err := json.Marshal(m.Payload())
			if err != nil {
				log.Printf("[NATS client] unable to encode %v: %v\n", m.Topic(), err)
				continue
			}
			if err = nc.Publish(h.Subject(m.Topic()), data); err != nil {
				log.Printf("[NATS client] unable to publish to nats server: %v\n", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
	return nil
}
