// Package ipc forwards push-to-talk commands from short-lived CLI invocations to the
// running chat session over a unix socket.
package ipc

// Commands understood by a chat session.
const (
	CommandStatus = "status"
	CommandListen = "listen"
	CommandStop   = "stop"
	CommandToggle = "toggle"
)

// Request is one newline-delimited JSON command.
type Request struct {
	Command string `json:"command"`
}

// Response reports the session surface after the command was accepted or refused.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Located bool   `json:"located,omitempty"`
	Voice   bool   `json:"voice,omitempty"`
}
