// Package backoff implements the Circle+ rediscovery schedule used by
// the watchdog: every watchdog cycle for the first 60 attempts, then
// only every 60th cycle thereafter. Unlike a generic exponential
// backoff, the schedule is a fixed step function because it mirrors
// the behavior of the original stick firmware's rediscovery window,
// not a generic retry policy.
package backoff

import "sync"

// denseWindow is the number of cycles during which rediscovery is
// attempted every cycle.
const denseWindow = 60

// sparseEvery is the cycle stride once the dense window has elapsed.
const sparseEvery = 60

// CirclePlusSchedule tracks how many watchdog cycles have elapsed since
// the coordinator was last known unreachable and decides, cycle by
// cycle, whether this is a cycle on which rediscovery should be
// attempted.
type CirclePlusSchedule struct {
	mu     sync.Mutex
	cycles int
}

// NewCirclePlusSchedule returns a schedule starting at cycle zero.
func NewCirclePlusSchedule() *CirclePlusSchedule {
	return &CirclePlusSchedule{}
}

// Tick advances the schedule by one watchdog cycle and reports whether
// this cycle should attempt rediscovery.
func (s *CirclePlusSchedule) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	if s.cycles <= denseWindow {
		return true
	}
	return (s.cycles-denseWindow)%sparseEvery == 0
}

// Reset returns the schedule to cycle zero, called once the
// coordinator answers again.
func (s *CirclePlusSchedule) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = 0
}

// Cycles reports the number of cycles elapsed since the last Reset.
func (s *CirclePlusSchedule) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}
