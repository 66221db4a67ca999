// Package session coordinates turn-taking between the operator and the collector agent.
package session

import (
	"context"
	"errors"

	"github.com/rbright/parley/internal/gateway"
	"github.com/rbright/parley/internal/transcript"
)

// ErrEmptyInput rejects a blank lookup name or chat message.
var ErrEmptyInput = errors.New("empty input")

// Surface is the single input the operator may use next.
type Surface string

const (
	SurfaceNone       Surface = "none"
	SurfaceLookup     Surface = "lookup"
	SurfaceVoiceStart Surface = "voice-start"
	SurfaceVoiceStop  Surface = "voice-stop"
	SurfaceText       Surface = "text"
)

const (
	PlaceholderLookup = "Enter customer name..."
	PlaceholderChat   = "Type your message and press Enter..."
)

// View is a read-only snapshot of controller state.
type View struct {
	Surface         Surface
	Placeholder     string
	Status          string
	Interim         string
	CustomerLocated bool
	VoiceCapable    bool
	Listening       bool
	Speaking        bool
	Pending         bool
}

// Gateway is the remote agent.
type Gateway interface {
	LookupCustomer(context.Context, string) (gateway.LookupResult, error)
	SendChatTurn(context.Context, string) (gateway.ChatReply, error)
}

// Listener is the speech input adapter.
type Listener interface {
	Available() bool
	Start(context.Context) error
	Stop() error
}

// Speaker is the speech output adapter.
type Speaker interface {
	Speak(context.Context, string) string
	Cancel()
}

// Renderer receives transcript lines.
type Renderer interface {
	Append(sender transcript.Sender, message string) bool
}

// Indicator plays audible cues around listening.
type Indicator interface {
	CueStart(context.Context)
	CueStop(context.Context)
	CueError(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) CueStart(context.Context) {}
func (noopIndicator) CueStop(context.Context)  {}
func (noopIndicator) CueError(context.Context) {}

// surfaceFor projects the turn flags onto exactly one input surface.
func surfaceFor(located, voiceCapable, listening, pending, awaitingSpeech bool) Surface {
	switch {
	case !located:
		if pending {
			return SurfaceNone
		}
		return SurfaceLookup
	case listening:
		return SurfaceVoiceStop
	case pending || awaitingSpeech:
		return SurfaceNone
	case voiceCapable:
		return SurfaceVoiceStart
	default:
		return SurfaceText
	}
}

func placeholderFor(surface Surface) string {
	switch surface {
	case SurfaceLookup:
		return PlaceholderLookup
	case SurfaceText:
		return PlaceholderChat
	default:
		return ""
	}
}
