package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/deepgram"
	"github.com/rbright/parley/internal/gateway"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/recognize"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/synth"
	"github.com/rbright/parley/internal/transcript"
	"github.com/rbright/parley/internal/tui"
)

const (
	socketProbeTimeout = 180 * time.Millisecond
	socketRetries      = 8
	speakTimeout       = 30 * time.Second
)

// voiceStack is the optional speech wiring for one chat session.
type voiceStack struct {
	backend  audio.Backend
	listener session.Listener
	speaker  session.Speaker
	cues     *indicator.Cues
}

func (r Runner) commandChat(ctx context.Context, cfg config.Config, textOnly bool, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	ipcListener, err := ipc.Acquire(ctx, socketPath, socketProbeTimeout, socketRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a parley chat session is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = ipcListener.Close()
		_ = os.Remove(socketPath)
	}()

	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond,
	}, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var program *tea.Program
	history := transcript.NewLog(func(entry transcript.Entry) {
		program.Send(tui.EntryAdded(entry))
	})

	var voice voiceStack
	if cfg.Voice.Enable && !textOnly {
		voice.backend = r.resolveVoiceBackend(cfg, logger)
		if voice.backend != nil {
			voice.cues = indicator.NewCues(voice.backend, cfg.Cues.Enable, logger)
		}
	}

	var cues session.Indicator
	if voice.cues != nil {
		cues = voice.cues
	}
	ctrl := session.NewController(logger, gw, history, cues)
	if voice.backend != nil {
		r.wireVoice(&voice, cfg, ctrl, logger)
		ctrl.UseVoice(voice.listener, voice.speaker)
	}

	input := r.Input
	if input == nil {
		input = os.Stdin
	}
	model := tui.New(ctrl, "parley · "+gw.BaseURL(), history.Entries())
	program = tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(input),
		tea.WithOutput(r.Stdout),
		tea.WithAltScreen(),
	)
	ctrl.OnChange(func(view session.View) {
		program.Send(tui.ViewChanged(view))
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(runCtx, ipcListener, ctrl, logger)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- ctrl.Run(runCtx)
	}()
	if greeting := strings.TrimSpace(cfg.Greeting); greeting != "" {
		ctrl.Greet(greeting)
	}

	logger.Info("chat session started",
		"backend", gw.BaseURL(),
		"voice", voice.listener != nil,
		"speech_output", voice.speaker != nil,
	)

	_, programErr := program.Run()
	cancelRun()
	runErr := <-runDone
	serverErr := <-serverErrCh
	if voice.cues != nil {
		voice.cues.Wait()
	}

	logger.Info("chat session finished", "transcript_lines", history.Len())

	switch {
	case programErr != nil && !errors.Is(programErr, tea.ErrProgramKilled) && !errors.Is(programErr, context.Canceled):
		fmt.Fprintf(r.Stderr, "error: terminal UI failed: %v\n", programErr)
		return 1
	case runErr != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	case serverErr != nil:
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	return 0
}

// resolveVoiceBackend returns the audio backend, or nil when voice cannot be offered.
func (r Runner) resolveVoiceBackend(cfg config.Config, logger *slog.Logger) audio.Backend {
	backend, err := r.audioBackend(cfg)
	if err != nil {
		logger.Warn("audio backend unavailable; using text mode", "error", err.Error())
		return nil
	}
	return backend
}

// wireVoice builds the recognizer and speaker. A missing API key leaves voice off.
func (r Runner) wireVoice(voice *voiceStack, cfg config.Config, ctrl *session.Controller, logger *slog.Logger) {
	apiKey := strings.TrimSpace(os.Getenv(cfg.Deepgram.APIKeyEnv))
	if apiKey == "" {
		logger.Warn("deepgram API key not set; using text mode", "env", cfg.Deepgram.APIKeyEnv)
		return
	}

	recognizer := pipeline.NewRecognizer(cfg, voice.backend, apiKey, nil, logger)
	voice.listener = recognize.NewListener(recognizer, ctrl, logger, recognize.Options{
		ErrorSettle: time.Duration(cfg.Recognition.ErrorSettleMS) * time.Millisecond,
	})

	if !cfg.Synthesis.Enable {
		return
	}
	synthesizer, err := deepgram.NewSynthesizer(deepgram.SpeakConfig{
		APIKey:     apiKey,
		BaseURL:    cfg.Deepgram.BaseURL,
		Voice:      cfg.Synthesis.Voice,
		SampleRate: cfg.Synthesis.SampleRate,
		Timeout:    speakTimeout,
	}, voice.backend, logger)
	if err != nil {
		logger.Warn("speech synthesis unavailable", "error", err.Error())
		return
	}
	voice.speaker = synth.NewSpeaker(synthesizer, ctrl, logger, cfg.Synthesis.Locale)
}
