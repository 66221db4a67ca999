package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateHTTPURL("backend.url", cfg.Backend.URL); err != nil {
		return nil, err
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.timeout_ms must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Audio.Backend))
	if backend != AudioBackendPulse && backend != AudioBackendMiniaudio {
		return nil, fmt.Errorf("audio.backend must be one of: %s, %s", AudioBackendPulse, AudioBackendMiniaudio)
	}
	if backend == AudioBackendMiniaudio && !isDefaultSource(cfg.Audio.Input) {
		warnings = append(warnings, Warning{Message: "audio.input is ignored by the miniaudio backend; the system default device is used"})
	}

	if strings.TrimSpace(cfg.Recognition.Language) == "" {
		return nil, fmt.Errorf("recognition.language must not be empty")
	}
	if strings.TrimSpace(cfg.Recognition.Model) == "" {
		return nil, fmt.Errorf("recognition.model must not be empty")
	}
	if cfg.Recognition.EndpointingMS < 0 {
		return nil, fmt.Errorf("recognition.endpointing_ms must be >= 0")
	}
	if cfg.Recognition.UtteranceEndMS < 0 {
		return nil, fmt.Errorf("recognition.utterance_end_ms must be >= 0")
	}
	if cfg.Recognition.NoSpeechTimeoutMS < 0 {
		return nil, fmt.Errorf("recognition.no_speech_timeout_ms must be >= 0")
	}
	if cfg.Recognition.ErrorSettleMS < 0 {
		return nil, fmt.Errorf("recognition.error_settle_ms must be >= 0")
	}
	if cfg.Recognition.UtteranceEndMS > 0 && cfg.Recognition.UtteranceEndMS < 1000 {
		warnings = append(warnings, Warning{Message: "recognition.utterance_end_ms below 1000 is rejected by the speech API; expect connection failures"})
	}

	if cfg.Synthesis.SampleRate < 8000 {
		return nil, fmt.Errorf("synthesis.sample_rate must be >= 8000")
	}
	if strings.TrimSpace(cfg.Synthesis.Locale) == "" {
		return nil, fmt.Errorf("synthesis.locale must not be empty")
	}

	if cfg.Voice.Enable {
		if err := validateHTTPURL("deepgram.base_url", cfg.Deepgram.BaseURL); err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.Deepgram.APIKeyEnv) == "" {
			return nil, fmt.Errorf("deepgram.api_key_env must not be empty when voice.enable=true")
		}
	}

	if _, ok := validLogLevels[strings.ToLower(strings.TrimSpace(cfg.Debug.LogLevel))]; !ok {
		return nil, fmt.Errorf("debug.log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateHTTPURL(key string, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func isDefaultSource(name string) bool {
	name = strings.TrimSpace(strings.ToLower(name))
	return name == "" || name == "default"
}
