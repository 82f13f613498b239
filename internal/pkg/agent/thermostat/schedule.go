package thermostat

import (
	"log"
	"reflect"
	"time"
)

type clock struct {
	hod float64
	dow time.Weekday
}

func (c clock) weekend() bool {
	return c.dow == time.Saturday || c.dow == time.Sunday
}

type stateMachine struct {
	currentState state
}

func (s *stateMachine) run(c clock, cfg Config) float64 {
	if s.currentState == nil {
		s.currentState = nightState{}
	}
	next := s.currentState.transition(c, cfg)
	if reflect.TypeOf(next) != reflect.TypeOf(s.currentState) {
		log.Printf("[Thermostat] schedule: %v\n", reflect.TypeOf(next).Name())
	}
	s.currentState = next
	return s.currentState.action(cfg)
}

type state interface {
	action(Config) float64
	transition(clock, Config) state
}

// scheduled picks the period that holds c. Every state transitions through it.
func scheduled(c clock, cfg Config) state {
	if c.weekend() {
		if c.hod >= cfg.WeekendDayStart && c.hod < cfg.WeekendNightStart {
			return weekendDayState{}
		}
		return weekendNightState{}
	}
	switch {
	case c.hod >= cfg.WakeupStart && c.hod < cfg.DaylightStart:
		return wakeupState{}
	case c.hod >= cfg.DaylightStart && c.hod < cfg.EveningStart:
		return daylightState{}
	case c.hod >= cfg.EveningStart && c.hod < cfg.NightStart:
		return eveningState{}
	}
	return nightState{}
}

type wakeupState struct{}

func (wakeupState) action(cfg Config) float64            { return cfg.WakeupSet }
func (wakeupState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }

type daylightState struct{}

func (daylightState) action(cfg Config) float64            { return cfg.DaylightSet }
func (daylightState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }

type eveningState struct{}

func (eveningState) action(cfg Config) float64            { return cfg.EveningSet }
func (eveningState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }

// nightState is also the state before the first schedule update
type nightState struct{}

func (nightState) action(cfg Config) float64            { return cfg.NightSet }
func (nightState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }

type weekendDayState struct{}

func (weekendDayState) action(cfg Config) float64            { return cfg.WeekendDaySet }
func (weekendDayState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }

type weekendNightState struct{}

func (weekendNightState) action(cfg Config) float64            { return cfg.WeekendNightSet }
func (weekendNightState) transition(c clock, cfg Config) state { return scheduled(c, cfg) }
