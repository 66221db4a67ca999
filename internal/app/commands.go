package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/deepgram"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/stubserver"
	"github.com/rbright/parley/internal/synth"
)

const forwardTimeout = 220 * time.Millisecond

func (r Runner) commandDevices(ctx context.Context, cfg config.Config) int {
	backend, err := r.audioBackend(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	devices, err := backend.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return 0
}

func (r Runner) commandVoices(cfg config.Config) int {
	voices := deepgram.Voices(cfg.Synthesis.Voice)
	selected, _ := synth.SelectVoice(voices, cfg.Synthesis.Locale)

	for _, voice := range voices {
		mark := " "
		if voice.Name == selected.Name {
			mark = "*"
		}
		fmt.Fprintf(r.Stdout, "%s %s (%s)\n", mark, voice.Name, voice.Locale)
	}
	return 0
}

func (r Runner) commandSchema() int {
	schema, err := config.Schema()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, string(schema))
	return 0
}

func (r Runner) commandStub(ctx context.Context, parsed cli.Parsed, logger *slog.Logger) int {
	roster := stubserver.DefaultRoster()
	if parsed.RosterPath != "" {
		loaded, err := stubserver.LoadRoster(parsed.RosterPath)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		roster = loaded
	}

	server := stubserver.New(roster, logger)
	fmt.Fprintf(r.Stdout, "stub backend listening on http://%s (%d customers)\n", parsed.ListenAddr, len(roster))
	if err := server.Listen(ctx, parsed.ListenAddr); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	line := resp.State
	if resp.Message != "" {
		line = fmt.Sprintf("%s: %s", resp.State, resp.Message)
	}
	fmt.Fprintln(r.Stdout, line)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active parley chat session")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
