// Package deepgram streams microphone audio to Deepgram for recognition and
// fetches synthesized replies from its speak endpoint.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
)

// DefaultBaseURL is the public Deepgram REST root.
const DefaultBaseURL = "https://api.deepgram.com/v1"

// ErrMissingAPIKey reports an empty credential.
var ErrMissingAPIKey = errors.New("deepgram api key is not configured")

// ListenConfig controls one live recognition stream.
type ListenConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	SampleRate     int
	InterimResults bool
	EndpointingMS  int
	UtteranceEndMS int
	Dialer         *websocket.Dialer
}

// EventKind tags a stream event.
type EventKind int

const (
	EventTranscript EventKind = iota
	EventSpeechStarted
	EventUtteranceEnd
)

// Event is one decoded server message.
type Event struct {
	Kind        EventKind
	Text        string
	IsFinal     bool
	SpeechFinal bool
}

// Stream is one open /listen websocket session.
type Stream struct {
	conn *websocket.Conn

	events  chan Event
	audio   chan []byte
	done    chan struct{}
	closing chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

// Dial opens a live recognition stream. The stream is torn down when ctx ends.
func Dial(ctx context.Context, cfg ListenConfig) (*Stream, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := buildListenURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect deepgram listen stream (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect deepgram listen stream: %w", err)
	}

	s := &Stream{
		conn:    conn,
		events:  make(chan Event, 64),
		audio:   make(chan []byte, 32),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// SendAudio queues one chunk of 16-bit little-endian PCM.
func (s *Stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.closing:
		return errors.New("listen stream closed")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("listen stream closed")
	}
}

// CloseSend flushes queued audio and asks the server to finalize the stream.
func (s *Stream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

// Events delivers decoded messages until the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once both loops exit.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports the first abnormal failure, if any.
func (s *Stream) Err() error {
	return s.waitErr()
}

// Close tears the connection down without waiting for final results.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *Stream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, net.ErrClosed) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("send audio: %w", err))
			_ = s.conn.Close()
			return
		}
	}

	closeMsg, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	if err := s.conn.WriteMessage(websocket.TextMessage, closeMsg); err != nil {
		s.setErr(fmt.Errorf("close stream: %w", err))
	}
}

func (s *Stream) readLoop() {
	defer s.wg.Done()

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read listen event: %w", err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		event, ok, err := decodeEvent(payload)
		if err != nil {
			s.setErr(err)
			return
		}
		if ok {
			s.emit(event)
		}
	}
}

func (s *Stream) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

// decodeEvent maps one server message onto an Event. Unknown types are skipped.
func decodeEvent(payload []byte) (Event, bool, error) {
	var envelope struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, false, nil
	}

	switch api.TypeResponse(envelope.Type) {
	case api.TypeMessageResponse:
		var msg api.MessageResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Event{}, false, nil
		}
		text := ""
		if len(msg.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}
		return Event{
			Kind:        EventTranscript,
			Text:        text,
			IsFinal:     msg.IsFinal,
			SpeechFinal: msg.SpeechFinal,
		}, true, nil
	case api.TypeUtteranceEndResponse:
		var msg api.UtteranceEndResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Event{}, false, nil
		}
		return Event{Kind: EventUtteranceEnd}, true, nil
	case api.TypeSpeechStartedResponse:
		var msg api.SpeechStartedResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Event{}, false, nil
		}
		return Event{Kind: EventSpeechStarted}, true, nil
	}

	if strings.EqualFold(envelope.Type, "Error") {
		message := strings.TrimSpace(envelope.Description)
		if message == "" {
			message = strings.TrimSpace(envelope.Message)
		}
		if message == "" {
			message = "deepgram returned an unknown error"
		}
		return Event{}, false, errors.New(message)
	}
	return Event{}, false, nil
}

func buildListenURL(cfg ListenConfig) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base URL: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "nova-2"
	}

	query := listenURL.Query()
	query.Set("model", model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	query.Set("smart_format", "true")
	query.Set("punctuate", "true")
	query.Set("vad_events", "true")
	if cfg.EndpointingMS > 0 {
		query.Set("endpointing", strconv.Itoa(cfg.EndpointingMS))
	}
	// utterance_end_ms requires interim results.
	if cfg.UtteranceEndMS > 0 && cfg.InterimResults {
		query.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
	}
	if lang := strings.TrimSpace(cfg.Language); lang != "" {
		query.Set("language", lang)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
