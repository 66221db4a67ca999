package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/synth"
	"github.com/stretchr/testify/require"
)

type recordingPlayer struct {
	mu         sync.Mutex
	samples    []int16
	sampleRate int
	err        error
}

func (p *recordingPlayer) Play(_ context.Context, samples []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, samples...)
	p.sampleRate = sampleRate
	return p.err
}

type speakRequest struct {
	auth  string
	model string
	rate  string
	text  string
}

func newSpeakServer(t *testing.T, pcm []byte, requests chan<- speakRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speak" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		requests <- speakRequest{
			auth:  r.Header.Get("Authorization"),
			model: r.URL.Query().Get("model"),
			rate:  r.URL.Query().Get("sample_rate"),
			text:  body.Text,
		}
		w.Header().Set("Content-Type", "audio/l16")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewSynthesizerValidation(t *testing.T) {
	_, err := NewSynthesizer(SpeakConfig{}, &recordingPlayer{}, nil)
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewSynthesizer(SpeakConfig{APIKey: "k"}, nil, nil)
	require.Error(t, err)

	s, err := NewSynthesizer(SpeakConfig{APIKey: "k"}, &recordingPlayer{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, s.baseURL)
	require.Equal(t, 24000, s.sampleRate)
}

func TestSynthesizerSpeakPlaysDecodedAudio(t *testing.T) {
	requests := make(chan speakRequest, 1)
	pcm := audio.PCMBytes([]int16{1, -2, 300, -400})
	server := newSpeakServer(t, pcm, requests)

	player := &recordingPlayer{}
	s, err := NewSynthesizer(SpeakConfig{
		APIKey:     "secret",
		BaseURL:    server.URL + "/v1/",
		Voice:      "aura-luna-en",
		SampleRate: 16000,
	}, player, nil)
	require.NoError(t, err)

	startedCalls := 0
	err = s.Speak(context.Background(), synth.Utterance{
		Text:  "We can set that up.",
		Voice: synth.Voice{Name: "aura-orion-en"},
	}, func() { startedCalls++ })
	require.NoError(t, err)
	require.Equal(t, 1, startedCalls)

	req := <-requests
	require.Equal(t, "Token secret", req.auth)
	require.Equal(t, "aura-orion-en", req.model)
	require.Equal(t, "16000", req.rate)
	require.Equal(t, "We can set that up.", req.text)

	require.Equal(t, []int16{1, -2, 300, -400}, player.samples)
	require.Equal(t, 16000, player.sampleRate)
}

func TestSynthesizerSpeakFallsBackToConfiguredVoice(t *testing.T) {
	requests := make(chan speakRequest, 1)
	server := newSpeakServer(t, audio.PCMBytes([]int16{5}), requests)

	s, err := NewSynthesizer(SpeakConfig{APIKey: "k", BaseURL: server.URL + "/v1", Voice: "aura-zeus-en"}, &recordingPlayer{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Speak(context.Background(), synth.Utterance{Text: "hi"}, nil))
	require.Equal(t, "aura-zeus-en", (<-requests).model)
}

func TestSynthesizerSpeakEmptyAudioSkipsPlayback(t *testing.T) {
	requests := make(chan speakRequest, 1)
	server := newSpeakServer(t, nil, requests)

	player := &recordingPlayer{}
	s, err := NewSynthesizer(SpeakConfig{APIKey: "k", BaseURL: server.URL + "/v1"}, player, nil)
	require.NoError(t, err)

	started := false
	require.NoError(t, s.Speak(context.Background(), synth.Utterance{Text: "hi"}, func() { started = true }))
	require.False(t, started)
	require.Empty(t, player.samples)
}

func TestSynthesizerSpeakReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"err_msg":"text too long"}`))
	}))
	defer server.Close()

	s, err := NewSynthesizer(SpeakConfig{APIKey: "k", BaseURL: server.URL}, &recordingPlayer{}, nil)
	require.NoError(t, err)
	err = s.Speak(context.Background(), synth.Utterance{Text: "hi"}, nil)
	require.ErrorContains(t, err, "HTTP 400")
	require.ErrorContains(t, err, "text too long")
}

func TestSynthesizerSpeakWrapsPlaybackError(t *testing.T) {
	requests := make(chan speakRequest, 1)
	server := newSpeakServer(t, audio.PCMBytes([]int16{1, 2}), requests)

	boom := errors.New("device gone")
	s, err := NewSynthesizer(SpeakConfig{APIKey: "k", BaseURL: server.URL + "/v1"}, &recordingPlayer{err: boom}, nil)
	require.NoError(t, err)
	err = s.Speak(context.Background(), synth.Utterance{Text: "hi"}, nil)
	require.ErrorIs(t, err, boom)
}

func TestSynthesizerVoicesMarksConfiguredDefault(t *testing.T) {
	s, err := NewSynthesizer(SpeakConfig{APIKey: "k", Voice: "aura-helios-en"}, &recordingPlayer{}, nil)
	require.NoError(t, err)

	voice, ok := synth.SelectVoice(s.Voices(), "en-US")
	require.True(t, ok)
	require.Equal(t, "aura-helios-en", voice.Name)
}

func TestVoicesWithoutPreferenceFallsBackToLocale(t *testing.T) {
	voices := Voices("unknown-voice")
	for _, v := range voices {
		require.False(t, v.Default)
	}
	voice, ok := synth.SelectVoice(voices, "en-GB")
	require.True(t, ok)
	require.Equal(t, "aura-athena-en", voice.Name)
}

func TestCheckKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects" || r.Header.Get("Authorization") != "Token good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"err_msg":"Invalid credentials."}`))
			return
		}
		_, _ = w.Write([]byte(`{"projects":[]}`))
	}))
	defer server.Close()

	require.NoError(t, CheckKey(context.Background(), server.URL+"/v1", "good", nil))

	err := CheckKey(context.Background(), server.URL+"/v1", "bad", nil)
	require.ErrorContains(t, err, "Invalid credentials.")

	require.ErrorIs(t, CheckKey(context.Background(), server.URL, "", nil), ErrMissingAPIKey)
}
