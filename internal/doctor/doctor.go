// Package doctor runs readiness diagnostics for config, credentials, audio, the backend and Deepgram.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/deepgram"
	"github.com/rbright/parley/internal/gateway"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options overrides the live dependencies probed by Run.
type Options struct {
	// Backend replaces the audio backend named by audio.backend.
	Backend audio.Backend
	// Transport is used for backend and Deepgram HTTP probes.
	Transport http.RoundTripper
}

// Run executes config, credential and connectivity checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, opts Options) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkBackend(ctx, cfg, opts.Transport))

	if !cfg.Voice.Enable {
		checks = append(checks, Check{Name: "voice", Pass: true, Message: "voice disabled; text mode only"})
		return Report{Checks: checks}
	}

	keyEnv := cfg.Deepgram.APIKeyEnv
	keyCheck := checkEnv(keyEnv, func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "Deepgram API key is set", fmt.Sprintf("%s is empty; voice will fall back to text", keyEnv))
	checks = append(checks, keyCheck)

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = audio.NewBackend(cfg.Audio.Backend)
		if err != nil {
			checks = append(checks, Check{Name: "audio.backend", Pass: false, Message: err.Error()})
		}
	}
	if backend != nil {
		checks = append(checks, checkAudioSelection(ctx, backend, cfg))
	}

	if keyCheck.Pass {
		checks = append(checks, checkDeepgramKey(ctx, cfg, os.Getenv(keyEnv), opts.Transport))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", loaded.Path)}
	}
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, backend audio.Backend, cfg config.Config) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	selection, err := audio.SelectDevice(ctx, backend, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q via %s", selection.Device.ID, backend.Name())
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBackend confirms the collector backend answers HTTP. Any status counts,
// since the root path is not part of the API.
func checkBackend(ctx context.Context, cfg config.Config, transport http.RoundTripper) Check {
	client, err := gateway.New(gateway.Config{
		BaseURL:   cfg.Backend.URL,
		Timeout:   probeTimeout,
		Transport: transport,
	}, nil)
	if err != nil {
		return Check{Name: "backend", Pass: false, Message: err.Error()}
	}

	status, err := client.Ping(ctx)
	if err != nil {
		return Check{Name: "backend", Pass: false, Message: fmt.Sprintf("unreachable at %s: %v", client.BaseURL(), err)}
	}
	return Check{Name: "backend", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", status, client.BaseURL())}
}

func checkDeepgramKey(ctx context.Context, cfg config.Config, apiKey string, transport http.RoundTripper) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := deepgram.CheckKey(ctx, cfg.Deepgram.BaseURL, apiKey, transport); err != nil {
		return Check{Name: "deepgram.key", Pass: false, Message: err.Error()}
	}
	return Check{Name: "deepgram.key", Pass: true, Message: "accepted by " + cfg.Deepgram.BaseURL}
}
