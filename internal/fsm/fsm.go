// Package fsm holds the pure transition tables for the listening and playback lifecycles.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateStopping  State = "stopping"
	StateEnded     State = "ended"
	StateError     State = "error"

	StateSynthesizing State = "synthesizing"
	StateSpeaking     State = "speaking"
)

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventEnd   Event = "end"
	EventFail  Event = "fail"
	EventReset Event = "reset"

	EventSpeak  Event = "speak"
	EventPlay   Event = "play"
	EventFinish Event = "finish"
	EventCancel Event = "cancel"
)

// Transition advances one recognition session.
//
//	idle -> listening -> (stopping ->) ended | error -> idle
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventStop:
			return StateStopping, nil
		case EventEnd:
			return StateEnded, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventEnd:
			return StateEnded, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateEnded, StateError:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// PlaybackTransition advances one synthesized utterance.
//
//	idle -> synthesizing -> speaking -> idle
func PlaybackTransition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventSpeak:
			return StateSynthesizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSynthesizing:
		switch event {
		case EventPlay:
			return StateSpeaking, nil
		case EventFinish, EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSpeaking:
		switch event {
		case EventFinish, EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown playback state %q", current)
	}
}

// Listening reports whether a recognition session is still collecting results.
func Listening(state State) bool {
	return state == StateListening || state == StateStopping
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
