// Package mqtt ingests raw measurements from an MQTT broker. A message on
// <Prefix>/<controller>/<kind> is delivered as controller#kind, and one on
// <Prefix>/<topic> as topic.
package mqtt

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const disconnectQuiesce = 250 // ms

// ErrTopic is returned for a broker topic outside the configured prefix
var ErrTopic = errors.New("mqtt: topic outside prefix")

// Sink accepts raw measurement values by topic
type Sink interface {
	Deliver(topic, raw string) error
}

// Config is the MQTT handler configuration. Topics are subscription filters
// and default to <Prefix>/#.
type Config struct {
	Broker   string   `json:"Broker"`
	ClientID string   `json:"ClientID"`
	Prefix   string   `json:"Prefix"`
	Topics   []string `json:"Topics"`
	QoS      byte     `json:"QoS"`
}

// Handler delivers broker messages to a Sink.
type Handler struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	config Config
	sink   Sink
	stop   chan bool
}

// New reads the handler configuration at configPath.
func New(configPath string, sink Sink) (Handler, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	return NewFromConfig(cfg, sink)
}

// NewFromConfig returns a Handler for cfg.
func NewFromConfig(cfg Config, sink Sink) (Handler, error) {
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cgc"
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{cfg.Prefix + "/#"}
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cgcmarket-" + pid.String()
	}
	return Handler{
		mux:    &sync.Mutex{},
		pid:    pid,
		config: cfg,
		sink:   sink,
		stop:   make(chan bool),
	}, nil
}

// PID is a getter for the handler PID
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// Stop ends a running Process
func (h *Handler) Stop() {
	h.stop <- true
}

// MeasurementTopic maps a broker topic to a measurement topic.
func (h Handler) MeasurementTopic(topic string) (string, error) {
	rest := strings.TrimPrefix(topic, h.config.Prefix+"/")
	if rest == topic || rest == "" {
		return "", ErrTopic
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", ErrTopic
		}
		return parts[0] + "#" + parts[1], nil
	}
	return "", ErrTopic
}

func (h Handler) onMessage(client mqtt.Client, m mqtt.Message) {
	topic, err := h.MeasurementTopic(m.Topic())
	if err != nil {
		log.Printf("[MQTT] %v: %s\n", err, m.Topic())
		return
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if err := h.sink.Deliver(topic, string(m.Payload())); err != nil {
		log.Printf("[MQTT] unable to deliver %s: %v\n", topic, err)
	}
}

func (h Handler) options() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(h.config.Broker).
		SetClientID(h.config.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
}

// Process connects to the broker and delivers messages until Stop is called.
func (h Handler) Process() error {
	client := mqtt.NewClient(h.options())
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(disconnectQuiesce)

	filters := make(map[string]byte, len(h.config.Topics))
	for _, t := range h.config.Topics {
		filters[t] = h.config.QoS
	}
	if token := client.SubscribeMultiple(filters, h.onMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Println("[MQTT] Process Started")

	<-h.stop
	log.Println("[MQTT] Process Shutdown")
	return nil
}
