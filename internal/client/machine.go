package client

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// State is the live connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type event int

const (
	eventDial event = iota
	eventOpened
	eventFailed
	eventLost
)

func (e event) String() string {
	switch e {
	case eventDial:
		return "dial"
	case eventOpened:
		return "opened"
	case eventFailed:
		return "failed"
	case eventLost:
		return "lost"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// machine is the connection state machine:
//
//	DISCONNECTED --dial-->   CONNECTING
//	CONNECTING   --opened--> CONNECTED
//	CONNECTING   --failed--> DISCONNECTED
//	CONNECTED    --lost-->   DISCONNECTED
//
// failed and lost consume one retry from the schedule. Once the schedule
// stops the machine is exhausted and refuses to dial again. It is not safe
// for concurrent use; Client guards it.
type machine struct {
	state     State
	schedule  backoff.BackOff
	exhausted bool
}

func newMachine(schedule backoff.BackOff) *machine {
	return &machine{state: Disconnected, schedule: schedule}
}

// fire applies ev. For failed and lost it returns the wait before the next
// dial, or backoff.Stop when the retry budget is spent.
func (m *machine) fire(ev event) (time.Duration, error) {
	switch {
	case ev == eventDial && m.state == Disconnected:
		if m.exhausted {
			return backoff.Stop, fmt.Errorf("%w: retry budget spent", ErrExhausted)
		}
		m.state = Connecting
		return 0, nil

	case ev == eventOpened && m.state == Connecting:
		m.state = Connected
		m.schedule.Reset()
		return 0, nil

	case ev == eventFailed && m.state == Connecting,
		ev == eventLost && m.state == Connected:
		m.state = Disconnected
		wait := m.schedule.NextBackOff()
		if wait == backoff.Stop {
			m.exhausted = true
		}
		return wait, nil
	}

	return 0, fmt.Errorf("invalid transition: %s in %s", ev, m.state)
}
