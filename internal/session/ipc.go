package session

import (
	"context"
	"fmt"

	"github.com/rbright/parley/internal/ipc"
)

// Handle serves IPC commands for the running chat session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	view := c.View()
	state := string(view.Surface)

	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{
			OK:      true,
			State:   state,
			Message: view.Status,
			Located: view.CustomerLocated,
			Voice:   view.VoiceCapable,
		}
	case ipc.CommandListen:
		if view.Surface != SurfaceVoiceStart {
			return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("cannot listen from state %s", state)}
		}
		c.StartListening()
		return ipc.Response{OK: true, State: state, Message: "listen requested"}
	case ipc.CommandStop:
		if view.Surface != SurfaceVoiceStop {
			return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("cannot stop from state %s", state)}
		}
		c.StopListening()
		return ipc.Response{OK: true, State: state, Message: "stop requested"}
	case ipc.CommandToggle:
		if view.Surface != SurfaceVoiceStart && view.Surface != SurfaceVoiceStop {
			return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("cannot toggle from state %s", state)}
		}
		c.ToggleListening()
		return ipc.Response{OK: true, State: state, Message: "toggle requested"}
	default:
		return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}
