package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandChat    Command = "chat"
	CommandListen  Command = "listen"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandVoices  Command = "voices"
	CommandDoctor  Command = "doctor"
	CommandStub    Command = "stub"
	CommandSchema  Command = "schema"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandChat:    {},
	CommandListen:  {},
	CommandStop:    {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandVoices:  {},
	CommandDoctor:  {},
	CommandStub:    {},
	CommandSchema:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// DefaultStubAddr is where `stub` listens without --listen.
const DefaultStubAddr = "127.0.0.1:8000"

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// TextOnly forces text mode for chat.
	TextOnly bool
	// ListenAddr and RosterPath configure the stub backend.
	ListenAddr string
	RosterPath string
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if err := parseCommandFlags(&parsed, args[i+1:]); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

// parseCommandFlags handles the flags that may follow chat and stub.
func parseCommandFlags(parsed *Parsed, rest []string) error {
	if parsed.Command == CommandStub {
		parsed.ListenAddr = DefaultStubAddr
	}

	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case parsed.Command == CommandChat && arg == "--text-only":
			parsed.TextOnly = true
		case parsed.Command == CommandStub && (arg == "--listen" || arg == "--roster"):
			i++
			if i >= len(rest) || strings.TrimSpace(rest[i]) == "" {
				return fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--listen" {
				parsed.ListenAddr = rest[i]
			} else {
				parsed.RosterPath = rest[i]
			}
		case strings.HasPrefix(arg, "-") && (parsed.Command == CommandChat || parsed.Command == CommandStub):
			return fmt.Errorf("unknown flag for %s: %s", parsed.Command, arg)
		default:
			return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [flags]

Commands:
  chat      Start a collector session in the terminal
  listen    Start listening in the running chat session
  stop      Stop listening in the running chat session
  status    Print the running chat session state
  devices   List available input devices
  voices    List synthesis voices and the selected one
  doctor    Run configuration and environment checks
  stub      Run a local reference backend
  schema    Print the config file JSON Schema
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  -h, --help      Show help
  --version       Show version

Command flags:
  chat --text-only        Disable voice input and output
  stub --listen ADDR      Listen address (default: %[2]s)
  stub --roster PATH      CSV roster of name,loan_amount rows
`, binaryName, DefaultStubAddr)
}
