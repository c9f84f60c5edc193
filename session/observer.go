package session

import (
	"sync"
	"time"
)

type ObservationKind int

const (
	StateObserved ObservationKind = iota
	InterimObserved
	TranscriptObserved
	ResponseObserved
	LoadingObserved
	ErrorObserved
)

func (k ObservationKind) String() string {
	switch k {
	case StateObserved:
		return "state"
	case InterimObserved:
		return "interim"
	case TranscriptObserved:
		return "transcript"
	case ResponseObserved:
		return "response"
	case LoadingObserved:
		return "loading"
	case ErrorObserved:
		return "error"
	}
	return "unknown"
}

// Observation is one output of a session for the presentation layer.
type Observation struct {
	Kind        ObservationKind
	SessionID   string
	UtteranceID string
	State       State
	Text        string
	Loading     bool
	Err         error
	At          time.Time
}

// Observer must be safe for concurrent use; sessions call it from several
// goroutines.
type Observer interface {
	Observe(Observation)
}

type ObserverFunc func(Observation)

func (f ObserverFunc) Observe(o Observation) {
	f(o)
}

// Status is the latest value of every observed output.
type Status struct {
	State      State     `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	Interim    string    `json:"interim"`
	Transcript string    `json:"transcript"`
	Response   string    `json:"response"`
	Loading    bool      `json:"loading"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Monitor folds observations into a Status and forwards them to a single
// subscriber. Slow subscribers miss observations; the Status never does.
type Monitor struct {
	mu      sync.Mutex
	status  Status
	updates chan Observation
}

func NewMonitor(buffer int) *Monitor {
	return &Monitor{updates: make(chan Observation, buffer)}
}

func (m *Monitor) Observe(o Observation) {
	m.mu.Lock()
	m.apply(o)
	m.mu.Unlock()

	select {
	case m.updates <- o:
	default:
	}
}

func (m *Monitor) apply(o Observation) {
	s := &m.status
	s.UpdatedAt = o.At

	switch o.Kind {
	case StateObserved:
		s.State = o.State
		s.SessionID = o.SessionID
		if o.State == Idle {
			s.Interim = ""
			s.Loading = false
		} else {
			s.Error = ""
		}
	case InterimObserved:
		s.Interim = o.Text
	case TranscriptObserved:
		s.Transcript = o.Text
		s.Interim = ""
	case ResponseObserved:
		s.Response = o.Text
	case LoadingObserved:
		s.Loading = o.Loading
	case ErrorObserved:
		if o.Err != nil {
			s.Error = o.Err.Error()
		}
	}
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) Updates() <-chan Observation {
	return m.updates
}
