package stream

type State string

type Event string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateClosing      State = "CLOSING"
)

const (
	EventOpen          Event = "OPEN"
	EventTransportOpen Event = "TRANSPORT_OPEN"
	EventFailure       Event = "FAILURE"
	EventClose         Event = "CLOSE"
	EventClosed        Event = "CLOSED"
)

func nextState(current State, event Event) State {
	switch current {
	case StateDisconnected:
		switch event {
		case EventOpen:
			return StateConnecting
		case EventClose:
			return StateClosing
		}
	case StateConnecting:
		switch event {
		case EventTransportOpen:
			return StateConnected
		case EventFailure:
			return StateDisconnected
		case EventClose:
			return StateClosing
		}
	case StateConnected:
		switch event {
		case EventFailure:
			return StateDisconnected
		case EventClose:
			return StateClosing
		}
	case StateClosing:
		if event == EventClosed {
			return StateDisconnected
		}
	}
	return current
}
