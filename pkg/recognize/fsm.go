package recognize

// State is the lifecycle position of a recognition session.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateConnecting
	StateListening
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateCreated:      {StateInitializing, StateClosed},
	StateInitializing: {StateConnecting, StateClosing, StateClosed},
	StateConnecting:   {StateListening, StateClosing, StateClosed},
	StateListening:    {StateConnecting, StateClosing, StateClosed},
	StateClosing:      {StateClosed},
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// stateMachine tracks the session state. It has no lock of its own; Stream.mu
// guards every call.
type stateMachine struct {
	current State
	// ready is closed while the session is listening.
	ready chan struct{}
	// closed is closed once the session reaches StateClosed.
	closed chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StateCreated,
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *stateMachine) transition(to State) error {
	from := m.current
	if !transitionValid(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	switch {
	case to == StateListening:
		close(m.ready)
	case from == StateListening:
		m.ready = make(chan struct{})
	}
	if to == StateClosed {
		close(m.closed)
	}
	return nil
}

func (m *stateMachine) listening() bool { return m.current == StateListening }

// open reports whether the connection is open for sending.
func (m *stateMachine) open() bool {
	return m.current == StateConnecting || m.current == StateListening
}
