package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/synth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxSpeakBytes = 32 << 20

// Player renders decoded PCM. audio.Backend satisfies it.
type Player interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
}

// SpeakConfig configures a Synthesizer.
type SpeakConfig struct {
	APIKey     string
	BaseURL    string
	Voice      string
	SampleRate int
	Timeout    time.Duration
	Transport  http.RoundTripper
}

// Synthesizer fetches linear16 audio from /speak and plays it. It implements synth.Engine.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	voice      string
	sampleRate int
	http       *http.Client
	player     Player
	logger     *slog.Logger
}

// NewSynthesizer builds a speak client that plays through player.
func NewSynthesizer(cfg SpeakConfig, player Player, logger *slog.Logger) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if player == nil {
		return nil, fmt.Errorf("deepgram synthesizer requires an audio player")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Synthesizer{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		player: player,
		logger: logger,
	}, nil
}

// Voices lists the Aura catalog with the configured voice as default.
func (s *Synthesizer) Voices() []synth.Voice {
	return Voices(s.voice)
}

// Speak synthesizes u and blocks until playback drains or ctx ends.
func (s *Synthesizer) Speak(ctx context.Context, u synth.Utterance, started func()) error {
	model := u.Voice.Name
	if model == "" {
		model = s.voice
	}

	pcm, err := s.Synthesize(ctx, u.Text, model)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if started != nil {
		started()
	}
	if err := s.player.Play(ctx, audio.PCMSamples(pcm), s.sampleRate); err != nil {
		return fmt.Errorf("play synthesized audio: %w", err)
	}
	return nil
}

// Synthesize returns raw little-endian s16 mono PCM for text.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, model string) ([]byte, error) {
	endpoint, err := url.Parse(s.baseURL + "/speak")
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram base URL: %w", err)
	}
	query := endpoint.Query()
	if model = strings.TrimSpace(model); model != "" {
		query.Set("model", model)
	}
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(s.sampleRate))
	query.Set("container", "none")
	endpoint.RawQuery = query.Encode()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepgram speak returned HTTP %d: %s", resp.StatusCode, errorDetail(detail))
	}

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeakBytes))
	if err != nil {
		return nil, fmt.Errorf("read speak audio: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("speech synthesized",
			"model", model,
			"bytes", len(pcm),
			"latency_ms", time.Since(started).Milliseconds(),
		)
	}
	return pcm, nil
}

// CheckKey confirms apiKey is accepted by listing the projects it can reach.
func CheckKey(ctx context.Context, baseURL string, apiKey string, transport http.RoundTripper) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrMissingAPIKey
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/projects", nil)
	if err != nil {
		return fmt.Errorf("build projects request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	client := &http.Client{Transport: otelhttp.NewTransport(transport)}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram projects request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("deepgram rejected key (HTTP %d): %s", resp.StatusCode, errorDetail(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func errorDetail(raw []byte) string {
	var payload struct {
		ErrMsg  string `json:"err_msg"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, candidate := range []string{payload.ErrMsg, payload.Message, payload.Reason} {
			if strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response body"
	}
	return text
}
