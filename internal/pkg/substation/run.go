package substation

import (
	"log"
	"time"
)

// Process steps the substation with each elapsed time received, until ticks
// closes or the stop hour is reached.
func (s *Substation) Process(ticks <-chan time.Duration) error {
	log.Printf("[Substation] %s starting with %d controllers, market %v\n",
		s.auction.Name(), len(s.names), s.WantMarket())
	for elapsed := range ticks {
		if err := s.Step(elapsed); err != nil {
			return err
		}
		if s.config.HourStop > 0 && elapsed >= s.Stop() {
			break
		}
	}
	log.Printf("[Substation] %s stopped\n", s.auction.Name())
	return nil
}

// Dt is the substation time step
func (s Substation) Dt() time.Duration {
	return time.Duration(s.config.Dt * float64(time.Second))
}

// SimulatedClock emits elapsed times from dt to stop in steps of dt, each
// after pace of wall time. A zero pace runs as fast as the receiver.
func SimulatedClock(dt, stop, pace time.Duration) <-chan time.Duration {
	ch := make(chan time.Duration)
	go func() {
		defer close(ch)
		for elapsed := dt; elapsed <= stop; elapsed += dt {
			if pace > 0 {
				time.Sleep(pace)
			}
			ch <- elapsed
		}
	}()
	return ch
}
