package recognize

// EventKind enumerates what a Stream reports to its consumer.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventListening
	EventStopping
	EventResults
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventListening:
		return "listening"
	case EventStopping:
		return "stopping"
	case EventResults:
		return "results"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry of the ordered event stream. Which fields are set
// depends on Kind:
//
//	EventResults  Results (interim or final message)
//	EventData     Data (finalized segments)
//	EventClose    Code, Reason
//	EventError    Err
type Event struct {
	Kind    EventKind
	Results *Message
	Data    []Result
	Code    int
	Reason  string
	Err     error
}
