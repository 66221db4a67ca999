package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/deepgram"
	"github.com/rbright/parley/internal/recognize"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	listErr    error
	captureErr error

	mu      sync.Mutex
	capture *audio.Capture
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) ListDevices(context.Context) ([]audio.Device, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return []audio.Device{{ID: "mic-1", Description: "Test Mic", Available: true, Default: true}}, nil
}

func (b *fakeBackend) StartCapture(_ context.Context, device audio.Device) (*audio.Capture, error) {
	if b.captureErr != nil {
		return nil, b.captureErr
	}
	capture := audio.NewCapture(device, nil)
	b.mu.Lock()
	b.capture = capture
	b.mu.Unlock()
	return capture, nil
}

func (b *fakeBackend) Play(context.Context, []int16, int) error { return nil }

func (b *fakeBackend) current() *audio.Capture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capture
}

type fakeStream struct {
	events chan deepgram.Event
	done   chan struct{}

	mu         sync.Mutex
	cfg        deepgram.ListenConfig
	sent       int
	closedSend bool
	closed     bool
	err        error
	sendErr    error
	closeOnce  sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan deepgram.Event, 16), done: make(chan struct{})}
}

func (s *fakeStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent += len(chunk)
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedSend = true
	return nil
}

func (s *fakeStream) Events() <-chan deepgram.Event { return s.events }
func (s *fakeStream) Done() <-chan struct{}         { return s.done }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

// finish ends the stream the way the server closing the socket would.
func (s *fakeStream) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
		close(s.events)
		close(s.done)
	})
}

func (s *fakeStream) snapshot() (sent int, closedSend bool, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.closedSend, s.closed
}

type recordingHandler struct {
	mu        sync.Mutex
	fragments []recognize.Fragment
	err       error
	ended     bool
	done      chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{})}
}

func (h *recordingHandler) Results(fragments []recognize.Fragment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fragments = append(h.fragments, fragments...)
}

func (h *recordingHandler) Error(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *recordingHandler) End() {
	h.mu.Lock()
	h.ended = true
	h.mu.Unlock()
	close(h.done)
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("recognition session did not finish")
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Recognition.NoSpeechTimeoutMS = 0
	cfg.Recognition.Model = "nova-2"
	cfg.Recognition.Language = "en-US"
	return cfg
}

func newTestRecognizer(cfg config.Config, backend *fakeBackend, stream *fakeStream) *Recognizer {
	dial := func(_ context.Context, listenCfg deepgram.ListenConfig) (Stream, error) {
		stream.mu.Lock()
		stream.cfg = listenCfg
		stream.mu.Unlock()
		return stream, nil
	}
	return NewRecognizer(cfg, backend, "secret", dial, nil)
}

func TestRecognizerEndsOnSpeechFinal(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))

	n, err := backend.current().Write(make([]byte, 1280))
	require.NoError(t, err)
	require.Equal(t, 1280, n)

	stream.events <- deepgram.Event{Kind: deepgram.EventSpeechStarted}
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "i can"}
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "I can", IsFinal: true}
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "pay Friday", IsFinal: true, SpeechFinal: true}

	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)
	handler.wait(t)

	require.True(t, handler.ended)
	require.NoError(t, handler.err)
	require.Equal(t, []recognize.Fragment{
		{Text: "i can"},
		{Text: "I can", Final: true},
		{Text: " pay Friday", Final: true},
	}, handler.fragments)

	sent, _, _ := stream.snapshot()
	require.Equal(t, 1280, sent)
	require.Equal(t, audio.CaptureSampleRate, stream.cfg.SampleRate)
	require.Equal(t, "secret", stream.cfg.APIKey)
	require.Equal(t, "nova-2", stream.cfg.Model)
	require.Equal(t, "en-US", stream.cfg.Language)
}

func TestRecognizerStopFlushesAndEnds(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	_, err := backend.current().Write(make([]byte, 1000))
	require.NoError(t, err)

	require.NoError(t, recognizer.Stop())
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)

	sent, _, _ := stream.snapshot()
	require.Equal(t, 1000, sent, "residual partial chunk is flushed on stop")

	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "hello", IsFinal: true}
	stream.finish(nil)
	handler.wait(t)

	require.True(t, handler.ended)
	require.Equal(t, []recognize.Fragment{{Text: "hello", Final: true}}, handler.fragments)
}

func TestRecognizerUtteranceEndOnlyClosesAfterSpeech(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))

	stream.events <- deepgram.Event{Kind: deepgram.EventUtteranceEnd}
	time.Sleep(20 * time.Millisecond)
	_, closedSend, _ := stream.snapshot()
	require.False(t, closedSend)

	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "yes", IsFinal: true}
	stream.events <- deepgram.Event{Kind: deepgram.EventUtteranceEnd}
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)
	handler.wait(t)
	require.True(t, handler.ended)
}

func TestRecognizerNoSpeechTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Recognition.NoSpeechTimeoutMS = 20

	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(cfg, backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	handler.wait(t)

	require.ErrorIs(t, handler.err, recognize.ErrNoSpeech)
	require.Equal(t, recognize.KindNoSpeech, recognize.Classify(handler.err))
	_, _, closed := stream.snapshot()
	require.True(t, closed)
}

func TestRecognizerInterimResetsNoSpeechTimer(t *testing.T) {
	cfg := testConfig()
	cfg.Recognition.NoSpeechTimeoutMS = 50

	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(cfg, backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "um"}
	time.Sleep(100 * time.Millisecond)

	select {
	case <-handler.done:
		t.Fatal("session ended although speech was heard")
	default:
	}

	require.NoError(t, recognizer.Stop())
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)
	handler.wait(t)
	require.True(t, handler.ended)
}

func TestRecognizerCaptureLossIsAudioCaptureError(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	require.NoError(t, backend.current().Stop())
	handler.wait(t)

	require.ErrorIs(t, handler.err, recognize.ErrAudioCapture)
}

func TestRecognizerStreamFailureIsReported(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	stream.finish(errors.New("socket reset"))
	handler.wait(t)

	require.ErrorContains(t, handler.err, "socket reset")
	require.Equal(t, recognize.KindOther, recognize.Classify(handler.err))
}

func TestRecognizerSendFailureIsReported(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	stream.sendErr = errors.New("broken pipe")
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	_, _ = backend.current().Write(make([]byte, 640))
	handler.wait(t)

	require.ErrorContains(t, handler.err, "broken pipe")
}

func TestRecognizerRejectsConcurrentSession(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	require.ErrorIs(t, recognizer.Start(context.Background(), newRecordingHandler()), recognize.ErrAlreadyListening)

	require.NoError(t, recognizer.Stop())
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)
	handler.wait(t)
}

func TestRecognizerStartFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		dialErr error
		want    error
	}{
		{
			name:    "pulse unreachable",
			backend: &fakeBackend{listErr: fmt.Errorf("connect pulse server: %w", audio.ErrPulseUnavailable)},
			want:    recognize.ErrPermissionDenied,
		},
		{
			name:    "device listing fails",
			backend: &fakeBackend{listErr: errors.New("boom")},
			want:    recognize.ErrAudioCapture,
		},
		{
			name:    "capture fails",
			backend: &fakeBackend{captureErr: errors.New("busy")},
			want:    recognize.ErrAudioCapture,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recognizer := newTestRecognizer(testConfig(), tc.backend, newFakeStream())
			err := recognizer.Start(context.Background(), newRecordingHandler())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRecognizerDialFailureLeavesNoSession(t *testing.T) {
	backend := &fakeBackend{}
	dial := func(context.Context, deepgram.ListenConfig) (Stream, error) {
		return nil, deepgram.ErrMissingAPIKey
	}
	recognizer := NewRecognizer(testConfig(), backend, "", dial, nil)

	err := recognizer.Start(context.Background(), newRecordingHandler())
	require.ErrorIs(t, err, deepgram.ErrMissingAPIKey)
	require.Nil(t, backend.current())
	require.Nil(t, recognizer.active)
}

func TestRecognizerWithNilBackendIsUnavailable(t *testing.T) {
	recognizer := NewRecognizer(testConfig(), nil, "secret", nil, nil)
	require.ErrorIs(t, recognizer.Start(context.Background(), newRecordingHandler()), recognize.ErrUnavailable)
}

type listenerSink struct {
	mu       sync.Mutex
	interims []string
	ready    []string
	done     chan struct{}
}

func (s *listenerSink) InterimTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interims = append(s.interims, text)
}

func (s *listenerSink) UtteranceReady(text string) {
	s.mu.Lock()
	s.ready = append(s.ready, text)
	s.mu.Unlock()
	close(s.done)
}

func (s *listenerSink) UtteranceEmpty()                              { close(s.done) }
func (s *listenerSink) RecognitionFailed(recognize.ErrorKind, error) { close(s.done) }
func (s *listenerSink) VoiceInputDenied(error)                       { close(s.done) }

func TestRecognizerDrivesListenerToUtterance(t *testing.T) {
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(testConfig(), backend, stream)
	sink := &listenerSink{done: make(chan struct{})}
	listener := recognize.NewListener(recognizer, sink, nil, recognize.Options{})

	require.NoError(t, listener.Start(context.Background()))
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "I can", IsFinal: true}
	stream.events <- deepgram.Event{Kind: deepgram.EventTranscript, Text: "pay Friday", IsFinal: true, SpeechFinal: true}
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)

	select {
	case <-sink.done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not complete")
	}
	require.Equal(t, []string{"I can pay Friday"}, sink.ready)
}

func TestWriteDebugAudioCreatesWavWhenEnabled(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)

	cfg := testConfig()
	cfg.Debug.EnableAudioDump = true
	backend := &fakeBackend{}
	stream := newFakeStream()
	recognizer := newTestRecognizer(cfg, backend, stream)
	handler := newRecordingHandler()

	require.NoError(t, recognizer.Start(context.Background(), handler))
	_, err := backend.current().Write([]byte{0x01, 0x00, 0x02, 0x00})
	require.NoError(t, err)
	require.NoError(t, recognizer.Stop())
	require.Eventually(t, func() bool {
		_, closedSend, _ := stream.snapshot()
		return closedSend
	}, 2*time.Second, 5*time.Millisecond)
	stream.finish(nil)
	handler.wait(t)

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(xdgStateHome, "parley", "debug", "listen-*.wav"))
		return len(matches) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWriteDebugAudioSkippedWhenDisabled(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)

	recognizer := NewRecognizer(testConfig(), nil, "", nil, nil)
	recognizer.writeDebugAudio([]byte{0x01, 0x00})

	matches, err := filepath.Glob(filepath.Join(xdgStateHome, "parley", "debug", "*.wav"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestResolveStateDir(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	dir, err := resolveStateDir()
	require.NoError(t, err)
	require.Equal(t, xdgStateHome, dir)

	home := t.TempDir()
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", home)
	dir, err = resolveStateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "state"), dir)
}

func TestWritePCM16WAVWritesHeaderAndPCM(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)

	pcm := []byte{0x01, 0x00, 0xFF, 0x7F}
	require.NoError(t, writePCM16WAV(file, pcm, 16000, 0))
	require.NoError(t, file.Close())

	data, err := os.ReadFile(file.Name())
	require.NoError(t, err)
	require.Len(t, data, 44+len(pcm))
	require.Equal(t, "RIFF", string(data[0:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, "data", string(data[36:40]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]))
	require.Equal(t, uint32(32000), binary.LittleEndian.Uint32(data[28:32]))
	require.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(data[40:44]))
	require.Equal(t, pcm, data[44:])
}

func TestDescribeDevice(t *testing.T) {
	require.Equal(t, "Elgato (alsa_input.wave3)", describeDevice(audio.Device{Description: "Elgato", ID: "alsa_input.wave3"}))
	require.Equal(t, "Elgato", describeDevice(audio.Device{Description: "Elgato"}))
	require.Equal(t, "alsa_input.wave3", describeDevice(audio.Device{ID: "alsa_input.wave3"}))
}
