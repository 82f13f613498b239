package measurement

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTopic is returned for a topic the router was not built with
var ErrUnknownTopic = errors.New("measurement: unknown topic")

// Route is where a fabric topic is delivered. Target is the controller name,
// or empty for market wide values.
type Route struct {
	Target string
	Kind   Kind
}

// Delivery is a decoded measurement addressed to its target
type Delivery struct {
	Target string
	Value  Measurement
}

// Router maps fabric topic strings to routes. It is built once and read only
// afterwards.
type Router struct {
	routes map[string]Route
}

// NewRouter returns a router for the market topics plus the four topics of
// each named controller.
func NewRouter(controllers []string) *Router {
	r := &Router{routes: map[string]Route{
		"LMP":     {Kind: KindLMP},
		"refload": {Kind: KindRefLoad},
	}}
	for _, name := range controllers {
		for _, k := range []Kind{KindAirTemp, KindVoltage, KindHVACLoad, KindHVACState} {
			r.routes[name+"#"+k.String()] = Route{Target: name, Kind: k}
		}
	}
	return r
}

// Route looks up a topic
func (r *Router) Route(topic string) (Route, bool) {
	route, ok := r.routes[topic]
	return route, ok
}

// Topics returns every topic the router accepts
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	return topics
}

// Resolve decodes raw into the variant routed for topic.
func (r *Router) Resolve(topic, raw string) (Delivery, error) {
	route, ok := r.routes[topic]
	if !ok {
		return Delivery{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	m, err := Decode(route.Kind, raw)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Target: route.Target, Value: m}, nil
}

// Decode parses raw with the decoder for kind.
func Decode(kind Kind, raw string) (Measurement, error) {
	switch kind {
	case KindAirTemp:
		v, err := ParseNumber(raw)
		return AirTemp(v), err
	case KindVoltage:
		v, err := ParseMagnitude(raw)
		return Voltage(v), err
	case KindHVACLoad:
		v, err := ParseNumber(raw)
		return HVACLoad(v), err
	case KindHVACState:
		return HVACState(strings.TrimSpace(raw) != "OFF"), nil
	case KindLMP:
		v, err := ParseMagnitude(raw)
		return LMP(v), err
	case KindRefLoad:
		v, err := ParseKW(raw)
		return RefLoad(v), err
	}
	return nil, fmt.Errorf("%w: kind %d", ErrBadMeasurement, kind)
}
