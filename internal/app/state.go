package app

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateNetworkUp
	StateServicesReady
	StateCycleRunning
	StateSleeping
	StateAssociationFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNetworkUp:
		return "network_up"
	case StateServicesReady:
		return "services_ready"
	case StateCycleRunning:
		return "cycle_running"
	case StateSleeping:
		return "sleeping"
	case StateAssociationFailed:
		return "association_failed"
	default:
		return "unknown"
	}
}

// Status is the state and last report shared with the status endpoint.
type Status struct {
	mu     sync.RWMutex
	state  State
	since  time.Time
	report *Report
}

func (s *Status) set(state State) {
	s.mu.Lock()
	s.state = state
	s.since = time.Now()
	s.mu.Unlock()
}

func (s *Status) setReport(r Report) {
	s.mu.Lock()
	s.report = &r
	s.mu.Unlock()
}

func (s *Status) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Status) State() string {
	return s.Current().String()
}

func (s *Status) Snapshot() (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == nil {
		return nil, false
	}
	return struct {
		State  string    `json:"state"`
		Since  time.Time `json:"since"`
		Report Report    `json:"last_cycle"`
	}{s.state.String(), s.since, *s.report}, true
}
