package chat

import "fmt"

// State is the lifecycle of a feed: Idle, Connecting, Live, Closing, then
// Idle again.
type State int

const (
	Idle State = iota
	Connecting
	Live
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Closing:
		return "closing"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = Connecting
	case "live":
		*s = Live
	case "closing":
		*s = Closing
	case "idle":
		*s = Idle
	default:
		return fmt.Errorf("chat: unknown state %q", text)
	}
	return nil
}
