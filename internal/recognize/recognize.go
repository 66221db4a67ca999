// Package recognize turns one-shot streaming recognition sessions into completed utterances.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/fsm"
)

// ErrorKind classifies a recognition failure.
type ErrorKind string

const (
	KindNoSpeech         ErrorKind = "no-speech"
	KindAudioCapture     ErrorKind = "audio-capture"
	KindPermissionDenied ErrorKind = "permission-denied"
	KindOther            ErrorKind = "other"
)

var (
	// ErrUnavailable means no engine is wired or voice input was revoked.
	ErrUnavailable = errors.New("speech recognition unavailable")
	// ErrAlreadyListening rejects a second concurrent session.
	ErrAlreadyListening = errors.New("already listening")

	ErrNoSpeech         = errors.New("no speech detected")
	ErrAudioCapture     = errors.New("audio capture failed")
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// Classify maps an engine error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNoSpeech):
		return KindNoSpeech
	case errors.Is(err, ErrAudioCapture):
		return KindAudioCapture
	default:
		return KindOther
	}
}

// Fragment is one recognition result inside a session.
type Fragment struct {
	Text  string
	Final bool
}

// Handler receives engine callbacks for exactly one session.
//
// Engines deliver Results in arrival order and deliver End after the last Results.
type Handler interface {
	Results([]Fragment)
	Error(error)
	End()
}

// Engine is a single-shot recognition backend.
type Engine interface {
	Start(context.Context, Handler) error
	// Stop requests graceful termination; the engine still reports End.
	Stop() error
}

// Sink receives the adapter's terminal signals.
type Sink interface {
	InterimTranscript(text string)
	UtteranceReady(text string)
	UtteranceEmpty()
	RecognitionFailed(kind ErrorKind, err error)
	VoiceInputDenied(err error)
}

// Options tunes a Listener.
type Options struct {
	// ErrorSettle delays recoverable error signals so the UI can settle first.
	ErrorSettle time.Duration
}

// Listener owns the listening lifecycle for one engine.
type Listener struct {
	engine Engine
	sink   Sink
	logger *slog.Logger
	opts   Options

	mu          sync.Mutex
	state       fsm.State
	session     uint64
	accumulated string
	denied      bool
}

// NewListener wraps engine. A nil engine yields a Listener that is never Available.
func NewListener(engine Engine, sink Sink, logger *slog.Logger, opts Options) *Listener {
	return &Listener{
		engine: engine,
		sink:   sink,
		logger: logger,
		opts:   opts,
		state:  fsm.StateIdle,
	}
}

// Available reports whether voice input can be used.
func (l *Listener) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine != nil && !l.denied
}

// State returns the current lifecycle state.
func (l *Listener) State() fsm.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start begins a new session with an empty accumulator.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.engine == nil || l.denied {
		l.mu.Unlock()
		return ErrUnavailable
	}
	if l.state != fsm.StateIdle {
		state := l.state
		l.mu.Unlock()
		l.logWarn("start ignored; recognition session active", "state", string(state))
		return ErrAlreadyListening
	}
	if err := l.transitionLocked(fsm.EventStart); err != nil {
		l.mu.Unlock()
		return err
	}
	l.session++
	l.accumulated = ""
	handler := &sessionHandler{listener: l, id: l.session}
	l.mu.Unlock()

	if err := l.engine.Start(ctx, handler); err != nil {
		l.mu.Lock()
		if l.session == handler.id {
			l.toIdleLocked()
			if Classify(err) == KindPermissionDenied {
				l.denied = true
			}
		}
		l.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}
	return nil
}

// Stop asks the engine to finish the current session. It is a no-op when not listening.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.state != fsm.StateListening {
		l.mu.Unlock()
		return nil
	}
	if err := l.transitionLocked(fsm.EventStop); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	if err := l.engine.Stop(); err != nil {
		return fmt.Errorf("stop recognition: %w", err)
	}
	return nil
}

func (l *Listener) onResults(id uint64, fragments []Fragment) {
	l.mu.Lock()
	if id != l.session || !fsm.Listening(l.state) {
		l.mu.Unlock()
		return
	}
	var interim strings.Builder
	for _, fragment := range fragments {
		if fragment.Final {
			l.accumulated += fragment.Text
			continue
		}
		interim.WriteString(fragment.Text)
	}
	display := strings.TrimSpace(interim.String() + l.accumulated)
	l.mu.Unlock()

	l.sink.InterimTranscript(display)
}

func (l *Listener) onEnd(id uint64) {
	l.mu.Lock()
	if id != l.session || !fsm.Listening(l.state) {
		l.mu.Unlock()
		return
	}
	_ = l.transitionLocked(fsm.EventEnd)
	text := strings.TrimSpace(l.accumulated)
	l.accumulated = ""
	_ = l.transitionLocked(fsm.EventReset)
	l.mu.Unlock()

	if text == "" {
		l.sink.UtteranceEmpty()
		return
	}
	l.sink.UtteranceReady(text)
}

func (l *Listener) onError(id uint64, err error) {
	kind := Classify(err)

	l.mu.Lock()
	if id != l.session || !fsm.Listening(l.state) {
		l.mu.Unlock()
		return
	}
	l.accumulated = ""
	_ = l.transitionLocked(fsm.EventFail)
	if kind == KindPermissionDenied {
		l.denied = true
		_ = l.transitionLocked(fsm.EventReset)
		l.mu.Unlock()
		l.logWarn("voice input disabled", "error", errString(err))
		l.sink.VoiceInputDenied(err)
		return
	}
	l.mu.Unlock()

	l.logWarn("recognition failed", "kind", string(kind), "error", errString(err))
	time.AfterFunc(l.opts.ErrorSettle, func() {
		l.mu.Lock()
		if l.session == id && l.state == fsm.StateError {
			_ = l.transitionLocked(fsm.EventReset)
		}
		l.mu.Unlock()
		l.sink.RecognitionFailed(kind, err)
	})
}

func (l *Listener) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(l.state, event)
	if err != nil {
		return err
	}
	l.state = next
	return nil
}

func (l *Listener) toIdleLocked() {
	_ = l.transitionLocked(fsm.EventFail)
	_ = l.transitionLocked(fsm.EventReset)
}

func (l *Listener) logWarn(msg string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Warn(msg, args...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sessionHandler pins engine callbacks to the session that created it.
type sessionHandler struct {
	listener *Listener
	id       uint64
}

func (h *sessionHandler) Results(fragments []Fragment) { h.listener.onResults(h.id, fragments) }
func (h *sessionHandler) Error(err error)              { h.listener.onError(h.id, err) }
func (h *sessionHandler) End()                         { h.listener.onEnd(h.id) }
