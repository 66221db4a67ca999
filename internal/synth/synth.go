// Package synth plays agent replies one utterance at a time.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rbright/parley/internal/fsm"
)

// ErrInterrupted marks an utterance cut short by a newer one or by Cancel.
var ErrInterrupted = errors.New("utterance interrupted")

// Voice is one engine voice.
type Voice struct {
	Name    string
	Locale  string
	Default bool
}

// Utterance is a single synthesis request.
type Utterance struct {
	ID     string
	Text   string
	Voice  Voice
	Locale string
	Rate   float64
	Pitch  float64
}

// Engine synthesizes and plays utterances.
type Engine interface {
	Voices() []Voice
	// Speak blocks until playback finishes or ctx is cancelled. started is called once
	// audible playback begins.
	Speak(ctx context.Context, u Utterance, started func()) error
}

// Finished is the single terminal signal of one Speak call.
type Finished struct {
	ID      string
	Err     error
	Skipped bool
}

// Interrupted reports whether the utterance was superseded or cancelled.
func (f Finished) Interrupted() bool {
	return errors.Is(f.Err, ErrInterrupted)
}

// Sink receives playback lifecycle signals.
type Sink interface {
	SpeechStarted(id string)
	SpeechFinished(Finished)
}

// SelectVoice picks the engine default, then the first locale match, then the first voice.
func SelectVoice(voices []Voice, locale string) (Voice, bool) {
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale != "" {
		for _, v := range voices {
			if strings.HasPrefix(strings.ToLower(v.Locale), locale) {
				return v, true
			}
		}
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}

type playback struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state fsm.State
}

func (p *playback) transition(event fsm.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := fsm.PlaybackTransition(p.state, event)
	if err != nil {
		return false
	}
	p.state = next
	return true
}

// Speaker serializes utterances onto one engine.
type Speaker struct {
	engine Engine
	sink   Sink
	logger *slog.Logger
	locale string

	mu     sync.Mutex
	active *playback
}

// NewSpeaker wraps engine. A nil engine makes every Speak an immediate no-op.
func NewSpeaker(engine Engine, sink Sink, logger *slog.Logger, locale string) *Speaker {
	return &Speaker{engine: engine, sink: sink, logger: logger, locale: locale}
}

// Available reports whether an engine is wired.
func (s *Speaker) Available() bool {
	return s.engine != nil
}

// Speaking reports whether an utterance is synthesizing or playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Speak queues text for playback and returns the utterance id. Any active utterance is
// cancelled and its Finished signal is delivered before the new one starts.
func (s *Speaker) Speak(ctx context.Context, text string) string {
	id := uuid.NewString()
	if strings.TrimSpace(text) == "" || s.engine == nil {
		s.sink.SpeechFinished(Finished{ID: id, Skipped: true})
		return id
	}

	voice, _ := SelectVoice(s.engine.Voices(), s.locale)
	u := Utterance{
		ID:     id,
		Text:   text,
		Voice:  voice,
		Locale: s.locale,
		Rate:   1.0,
		Pitch:  1.0,
	}

	playCtx, cancel := context.WithCancel(ctx)
	next := &playback{id: id, cancel: cancel, done: make(chan struct{}), state: fsm.StateIdle}
	next.transition(fsm.EventSpeak)

	s.mu.Lock()
	prev := s.active
	s.active = next
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go s.play(playCtx, next, prev, u)
	return id
}

// Cancel stops the active utterance, if any.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.cancel()
	}
}

// Wait blocks until the active utterance, if any, has delivered its Finished signal.
func (s *Speaker) Wait() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		<-active.done
	}
}

func (s *Speaker) play(ctx context.Context, p *playback, prev *playback, u Utterance) {
	defer close(p.done)
	defer p.cancel()

	if prev != nil {
		<-prev.done
	}

	var err error
	if ctx.Err() != nil {
		err = ErrInterrupted
	} else {
		err = s.engine.Speak(ctx, u, func() {
			if p.transition(fsm.EventPlay) {
				s.sink.SpeechStarted(p.id)
			}
		})
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrInterrupted, err)
		} else if err == nil && ctx.Err() != nil {
			err = ErrInterrupted
		}
	}

	if errors.Is(err, ErrInterrupted) {
		p.transition(fsm.EventCancel)
	} else {
		p.transition(fsm.EventFinish)
	}

	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrInterrupted) && s.logger != nil {
		s.logger.Warn("speech playback failed", "utterance", p.id, "voice", u.Voice.Name, "error", err.Error())
	}
	s.sink.SpeechFinished(Finished{ID: p.id, Err: err})
}
