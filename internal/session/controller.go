package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/recognize"
	"github.com/rbright/parley/internal/synth"
	"github.com/rbright/parley/internal/transcript"
	"go.opentelemetry.io/otel/metric"
)

// ErrAlreadyRunning rejects a second Run on the same controller.
var ErrAlreadyRunning = errors.New("session controller already running")

// Controller owns turn-taking state. All state changes happen on the Run goroutine;
// every other entry point enqueues a closure.
type Controller struct {
	logger    *slog.Logger
	gateway   Gateway
	renderer  Renderer
	indicator Indicator
	listener  Listener
	speaker   Speaker
	onChange  func(View)
	turns     metric.Int64Counter

	running atomic.Bool

	qmu    sync.Mutex
	queue  []func()
	notify chan struct{}

	mu   sync.RWMutex
	view View

	// Owned by the Run goroutine.
	ctx               context.Context
	located           bool
	voiceCapable      bool
	listening         bool
	starting          bool
	stopAfterStart    bool
	speaking          bool
	pending           bool
	awaitingSpeech    bool
	greeted           bool
	pendingUtterance  string
	speakingUtterance string
	status            string
	interim           string
}

// NewController constructs a controller in the lookup state. A nil renderer keeps the
// transcript in memory only.
func NewController(logger *slog.Logger, gw Gateway, renderer Renderer, indicator Indicator) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	if renderer == nil {
		renderer = transcript.NewLog(nil)
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}

	c := &Controller{
		logger:    logger,
		gateway:   gw,
		renderer:  renderer,
		indicator: indicator,
		turns:     newTurnCounter(),
		notify:    make(chan struct{}, 1),
		ctx:       context.Background(),
		status:    statusReady,
	}
	c.view = c.snapshot()
	return c
}

// UseVoice wires the speech adapters. It must be called before Run. A nil or unavailable
// listener leaves the session in text mode; a nil speaker keeps replies silent.
func (c *Controller) UseVoice(listener Listener, speaker Speaker) {
	c.listener = listener
	c.speaker = speaker
	c.voiceCapable = listener != nil && listener.Available()
	c.view = c.snapshot()
}

// OnChange registers a callback invoked from the Run goroutine after every state change.
// It must be set before Run.
func (c *Controller) OnChange(fn func(View)) {
	c.onChange = fn
}

// View returns the latest state snapshot.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Run drains queued work until ctx is cancelled. Active listening and playback are
// stopped on exit.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx
	c.publish()
	defer c.shutdown()

	for {
		for _, fn := range c.drain() {
			if ctx.Err() != nil {
				return nil
			}
			fn()
			c.publish()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
		}
	}
}

// Greet renders and speaks the opening line once per controller.
func (c *Controller) Greet(text string) {
	c.post(func() { c.greet(text) })
}

// RequestLookup submits a customer name. Blank names only update the status line.
func (c *Controller) RequestLookup(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		c.post(func() {
			if c.surface() == SurfaceLookup {
				c.status = statusEmptyName
			}
		})
		return ErrEmptyInput
	}
	c.post(func() { c.lookup(name) })
	return nil
}

// SubmitText sends a typed chat message. Blank text restores the idle surface without a
// network call.
func (c *Controller) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		c.post(func() {
			if c.surface() == SurfaceText {
				c.status = statusEmptyChat
			}
		})
		return ErrEmptyInput
	}
	c.post(func() {
		if surface := c.surface(); surface != SurfaceText {
			c.logger.Debug("text submit ignored", "surface", string(surface))
			return
		}
		c.chat(text)
	})
	return nil
}

// StartListening begins a voice turn when voice-start is the enabled surface.
func (c *Controller) StartListening() {
	c.post(c.startListening)
}

// StopListening ends the current voice turn when voice-stop is the enabled surface.
func (c *Controller) StopListening() {
	c.post(c.stopListening)
}

// ToggleListening starts or stops a voice turn based on the enabled surface.
func (c *Controller) ToggleListening() {
	c.post(func() {
		switch c.surface() {
		case SurfaceVoiceStart:
			c.startListening()
		case SurfaceVoiceStop:
			c.stopListening()
		}
	})
}

// InterimTranscript implements recognize.Sink.
func (c *Controller) InterimTranscript(text string) {
	c.post(func() {
		if c.listening {
			c.interim = text
		}
	})
}

// UtteranceReady implements recognize.Sink.
func (c *Controller) UtteranceReady(text string) {
	c.post(func() {
		if !c.endListening() {
			c.logger.Debug("utterance ignored; not listening")
			return
		}
		c.indicator.CueStop(c.ctx)
		c.chat(text)
	})
}

// UtteranceEmpty implements recognize.Sink.
func (c *Controller) UtteranceEmpty() {
	c.post(func() {
		if !c.endListening() {
			return
		}
		c.indicator.CueStop(c.ctx)
		c.status = statusNoSpeech
	})
}

// RecognitionFailed implements recognize.Sink.
func (c *Controller) RecognitionFailed(kind recognize.ErrorKind, err error) {
	c.post(func() {
		if !c.endListening() {
			return
		}
		c.indicator.CueError(c.ctx)
		c.status = recognitionStatus(kind, err)
	})
}

// VoiceInputDenied implements recognize.Sink.
func (c *Controller) VoiceInputDenied(err error) {
	c.post(func() {
		c.endListening()
		c.indicator.CueError(c.ctx)
		c.denyVoice(err)
	})
}

// SpeechStarted implements synth.Sink.
func (c *Controller) SpeechStarted(id string) {
	c.post(func() {
		c.speaking = true
		c.speakingUtterance = id
		if id == c.pendingUtterance {
			c.status = statusSpeaking
		}
	})
}

// SpeechFinished implements synth.Sink.
func (c *Controller) SpeechFinished(f synth.Finished) {
	c.post(func() { c.speechFinished(f) })
}

func (c *Controller) post(fn func()) {
	c.qmu.Lock()
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) drain() []func() {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	queued := c.queue
	c.queue = nil
	return queued
}

func (c *Controller) surface() Surface {
	return surfaceFor(c.located, c.voiceCapable, c.listening, c.pending, c.awaitingSpeech)
}

func (c *Controller) snapshot() View {
	surface := c.surface()
	return View{
		Surface:         surface,
		Placeholder:     placeholderFor(surface),
		Status:          c.status,
		Interim:         c.interim,
		CustomerLocated: c.located,
		VoiceCapable:    c.voiceCapable,
		Listening:       c.listening,
		Speaking:        c.speaking,
		Pending:         c.pending,
	}
}

func (c *Controller) publish() {
	view := c.snapshot()
	c.mu.Lock()
	changed := view != c.view
	c.view = view
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(view)
	}
}

func (c *Controller) shutdown() {
	if c.listening && c.listener != nil {
		if err := c.listener.Stop(); err != nil {
			c.logger.Warn("stop recognition on shutdown", "error", err.Error())
		}
	}
	if c.speaker != nil {
		c.speaker.Cancel()
	}
}

func (c *Controller) greet(text string) {
	if c.greeted {
		return
	}
	c.greeted = true
	if !c.renderer.Append(transcript.Collector, text) {
		return
	}
	c.speak(text)
}

// speak plays text when a speaker is wired. In voice mode the next voice turn waits for
// this utterance to finish.
func (c *Controller) speak(text string) {
	if c.speaker == nil {
		return
	}
	id := c.speaker.Speak(c.ctx, text)
	if c.voiceCapable {
		c.awaitingSpeech = true
		c.pendingUtterance = id
	}
}

func (c *Controller) speechFinished(f synth.Finished) {
	if f.ID == c.speakingUtterance {
		c.speaking = false
		c.speakingUtterance = ""
	}
	if f.Err != nil && !f.Interrupted() {
		c.logger.Warn("speech output failed", "utterance", f.ID, "error", f.Err.Error())
	}
	if !c.awaitingSpeech || f.ID != c.pendingUtterance {
		return
	}
	c.awaitingSpeech = false
	c.pendingUtterance = ""
	if c.located && c.voiceCapable && !c.pending {
		c.status = statusVoiceReady
	}
}

func (c *Controller) startListening() {
	if surface := c.surface(); surface != SurfaceVoiceStart || c.listener == nil {
		c.logger.Debug("listen ignored", "surface", string(surface))
		return
	}
	if c.speaking {
		c.logger.Debug("listen ignored; speech output active")
		return
	}

	c.listening = true
	c.starting = true
	c.stopAfterStart = false
	c.interim = ""
	c.status = statusStarting

	ctx := c.ctx
	go func() {
		err := c.listener.Start(ctx)
		c.post(func() { c.listenStarted(err) })
	}()
}

func (c *Controller) listenStarted(err error) {
	if !c.starting {
		return
	}
	c.starting = false

	if err != nil {
		c.listening = false
		c.stopAfterStart = false
		kind := recognize.Classify(err)
		c.logger.Warn("start recognition failed", "kind", string(kind), "error", err.Error())
		c.indicator.CueError(c.ctx)
		if kind == recognize.KindPermissionDenied || errors.Is(err, recognize.ErrUnavailable) {
			c.denyVoice(err)
			return
		}
		c.status = recognitionStatus(kind, err)
		return
	}

	c.indicator.CueStart(c.ctx)
	if c.stopAfterStart {
		c.stopAfterStart = false
		c.requestStop()
		return
	}
	c.status = statusListening
}

func (c *Controller) stopListening() {
	if surface := c.surface(); surface != SurfaceVoiceStop {
		c.logger.Debug("stop ignored", "surface", string(surface))
		return
	}
	c.status = statusStopping
	if c.starting {
		c.stopAfterStart = true
		return
	}
	c.requestStop()
}

func (c *Controller) requestStop() {
	c.status = statusStopping
	go func() {
		if err := c.listener.Stop(); err != nil {
			c.post(func() {
				c.logger.Warn("stop recognition failed", "error", err.Error())
			})
		}
	}()
}

// endListening clears listening state and reports whether a voice turn was active.
func (c *Controller) endListening() bool {
	active := c.listening
	c.listening = false
	c.starting = false
	c.stopAfterStart = false
	c.interim = ""
	return active
}

func (c *Controller) denyVoice(err error) {
	c.voiceCapable = false
	c.awaitingSpeech = false
	c.pendingUtterance = ""
	c.status = statusPermissionDenied
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.logger.Warn("voice input disabled; switching to text chat", "error", reason)
}
