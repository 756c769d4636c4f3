// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bridge

import "fmt"

// State is the lifecycle position of a single stream.
type State int

const (
	AwaitingHeaders State = iota
	BodyAndCallInFlight
	ResponseHeadersSent
	ResponseBodyStreaming
	Closed
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case AwaitingHeaders:
		return "AwaitingHeaders"
	case BodyAndCallInFlight:
		return "BodyAndCallInFlight"
	case ResponseHeadersSent:
		return "ResponseHeadersSent"
	case ResponseBodyStreaming:
		return "ResponseBodyStreaming"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition is reported to an [OnTransition] observer.
type Transition struct {
	StreamID uint64
	From     State
	To       State

	// Err is set when a failure moved the stream to Closed.
	Err error
}

type tracker struct {
	id      uint64
	state   State
	observe func(Transition)
}

func (t *tracker) moveTo(to State, err error) {
	from := t.state
	t.state = to
	if t.observe != nil {
		t.observe(Transition{StreamID: t.id, From: from, To: to, Err: err})
	}
}
