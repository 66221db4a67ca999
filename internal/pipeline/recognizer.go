// Package pipeline wires microphone capture into a live Deepgram recognition stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/deepgram"
	"github.com/rbright/parley/internal/recognize"
)

// finalizeTimeout bounds how long a stopping session waits for trailing results.
const finalizeTimeout = 5 * time.Second

var errCaptureEnded = errors.New("capture stream ended unexpectedly")

// Stream is the recognition transport used by one session.
type Stream interface {
	SendAudio([]byte) error
	CloseSend() error
	Events() <-chan deepgram.Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// DialFunc opens a Stream.
type DialFunc func(context.Context, deepgram.ListenConfig) (Stream, error)

// DialDeepgram opens a live Deepgram stream.
func DialDeepgram(ctx context.Context, cfg deepgram.ListenConfig) (Stream, error) {
	stream, err := deepgram.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Recognizer runs one capture -> recognition session at a time. It implements
// recognize.Engine.
type Recognizer struct {
	cfg     config.Config
	backend audio.Backend
	apiKey  string
	dial    DialFunc
	logger  *slog.Logger

	mu     sync.Mutex
	active *session
}

// NewRecognizer builds a recognizer. A nil dial uses DialDeepgram.
func NewRecognizer(cfg config.Config, backend audio.Backend, apiKey string, dial DialFunc, logger *slog.Logger) *Recognizer {
	if dial == nil {
		dial = DialDeepgram
	}
	return &Recognizer{cfg: cfg, backend: backend, apiKey: apiKey, dial: dial, logger: logger}
}

type session struct {
	handler recognize.Handler
	capture *audio.Capture
	stream  Stream
	device  audio.Device
	started time.Time

	stopReq  chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopReq) })
}

// closeInput stops capture; the send loop then flushes and closes the stream's send side.
func (s *session) closeInput() {
	s.stopping.Store(true)
	_ = s.capture.Stop()
}

func (s *session) abort() {
	s.stopping.Store(true)
	_ = s.capture.Stop()
	_ = s.stream.Close()
}

// Start resolves the capture device, opens the stream and begins forwarding audio.
func (r *Recognizer) Start(ctx context.Context, handler recognize.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return recognize.ErrAlreadyListening
	}
	if r.backend == nil {
		return recognize.ErrUnavailable
	}

	selection, err := audio.SelectDevice(ctx, r.backend, r.cfg.Audio.Input, r.cfg.Audio.Fallback)
	if err != nil {
		return classifyAudioError(err)
	}
	if selection.Warning != "" {
		r.logWarn(selection.Warning)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := r.dial(sessionCtx, deepgram.ListenConfig{
		APIKey:         r.apiKey,
		BaseURL:        r.cfg.Deepgram.BaseURL,
		Model:          r.cfg.Recognition.Model,
		Language:       r.cfg.Recognition.Language,
		SampleRate:     audio.CaptureSampleRate,
		InterimResults: r.cfg.Recognition.InterimResults,
		EndpointingMS:  r.cfg.Recognition.EndpointingMS,
		UtteranceEndMS: r.cfg.Recognition.UtteranceEndMS,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("open recognition stream: %w", err)
	}

	capture, err := r.backend.StartCapture(sessionCtx, selection.Device)
	if err != nil {
		_ = stream.Close()
		cancel()
		return classifyAudioError(err)
	}

	s := &session{
		handler: handler,
		capture: capture,
		stream:  stream,
		device:  selection.Device,
		started: time.Now(),
		stopReq: make(chan struct{}),
	}
	r.active = s

	r.logInfo("recognition started", "device", describeDevice(selection.Device), "backend", r.backend.Name())
	go func() {
		defer cancel()
		r.run(s)
	}()
	return nil
}

// Stop asks the active session to finish. Trailing results still arrive before End.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s != nil {
		s.requestStop()
	}
	return nil
}

func (r *Recognizer) run(s *session) {
	terminal := r.drive(s)

	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()

	r.writeDebugAudio(s.capture.RawPCM())
	r.logInfo("recognition finished",
		"device", describeDevice(s.device),
		"bytes_captured", s.capture.BytesCaptured(),
		"duration_ms", time.Since(s.started).Milliseconds(),
		"error", errString(terminal),
	)

	if terminal != nil {
		s.handler.Error(terminal)
		return
	}
	s.handler.End()
}

// drive pumps stream events into the handler and returns the terminal error, if any.
func (r *Recognizer) drive(s *session) error {
	sendDone := make(chan error, 1)
	go func() { sendDone <- sendLoop(s) }()

	var noSpeech <-chan time.Time
	if ms := r.cfg.Recognition.NoSpeechTimeoutMS; ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		noSpeech = timer.C
	}
	var finalize <-chan time.Time
	var finalizeTimer *time.Timer
	defer func() {
		if finalizeTimer != nil {
			finalizeTimer.Stop()
		}
	}()
	stopReq := s.stopReq
	closing := false
	heard := false
	finals := 0

	beginClose := func() {
		if closing {
			return
		}
		closing = true
		stopReq = nil
		noSpeech = nil
		s.closeInput()
		finalizeTimer = time.NewTimer(finalizeTimeout)
		finalize = finalizeTimer.C
	}

	events := s.stream.Events()
	for {
		select {
		case <-stopReq:
			beginClose()

		case err := <-sendDone:
			sendDone = nil
			switch {
			case errors.Is(err, errCaptureEnded):
				s.abort()
				drain(events)
				return fmt.Errorf("%w: %v", recognize.ErrAudioCapture, err)
			case err != nil:
				s.abort()
				drain(events)
				if streamErr := s.stream.Err(); streamErr != nil {
					return streamErr
				}
				return err
			}

		case <-noSpeech:
			s.abort()
			drain(events)
			return recognize.ErrNoSpeech

		case <-finalize:
			r.logWarn("recognition stream did not finish in time; closing")
			s.abort()
			drain(events)
			return nil

		case event, ok := <-events:
			if !ok {
				if !closing {
					s.closeInput()
				}
				if err := s.stream.Err(); err != nil {
					return fmt.Errorf("recognition stream: %w", err)
				}
				return nil
			}

			switch event.Kind {
			case deepgram.EventTranscript:
				text := strings.TrimSpace(event.Text)
				if text != "" {
					heard = true
					noSpeech = nil
					fragment := recognize.Fragment{Text: text, Final: event.IsFinal}
					if event.IsFinal {
						if finals > 0 {
							fragment.Text = " " + text
						}
						finals++
					}
					s.handler.Results([]recognize.Fragment{fragment})
				}
				if event.SpeechFinal && heard {
					beginClose()
				}
			case deepgram.EventUtteranceEnd:
				if heard {
					beginClose()
				}
			case deepgram.EventSpeechStarted:
				r.logDebug("speech started")
			}
		}
	}
}

// sendLoop forwards capture chunks until capture stops, then closes the send side.
func sendLoop(s *session) error {
	for chunk := range s.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := s.stream.SendAudio(chunk); err != nil {
			_ = s.capture.Stop()
			return fmt.Errorf("send audio: %w", err)
		}
	}
	if !s.stopping.Load() {
		return errCaptureEnded
	}
	return s.stream.CloseSend()
}

func drain(events <-chan deepgram.Event) {
	for range events {
	}
}

func classifyAudioError(err error) error {
	switch {
	case errors.Is(err, audio.ErrPulseUnavailable):
		return fmt.Errorf("%w: %v", recognize.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", recognize.ErrAudioCapture, err)
	}
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (r *Recognizer) logInfo(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Info(message, args...)
}

func (r *Recognizer) logWarn(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, args...)
}

func (r *Recognizer) logDebug(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Debug(message, args...)
}
