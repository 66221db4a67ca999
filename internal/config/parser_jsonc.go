package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Backend     *jsoncBackend     `json:"backend" jsonschema:"description=Collector agent service"`
	Voice       *jsoncVoice       `json:"voice"`
	Audio       *jsoncAudio       `json:"audio"`
	Recognition *jsoncRecognition `json:"recognition"`
	Synthesis   *jsoncSynthesis   `json:"synthesis"`
	Deepgram    *jsoncDeepgram    `json:"deepgram"`
	Cues        *jsoncCues        `json:"cues"`
	Greeting    *string           `json:"greeting" jsonschema:"description=Opening line rendered and spoken once per session"`
	Debug       *jsoncDebug       `json:"debug"`
}

type jsoncBackend struct {
	URL       *string `json:"url" jsonschema:"description=Base URL serving /find_customer and /chat"`
	TimeoutMS *int    `json:"timeout_ms" jsonschema:"minimum=1"`
}

type jsoncVoice struct {
	Enable *bool `json:"enable" jsonschema:"description=Disable to force text-only chat"`
}

type jsoncAudio struct {
	Backend  *string `json:"backend" jsonschema:"enum=pulse,enum=miniaudio"`
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncRecognition struct {
	Model             *string `json:"model"`
	Language          *string `json:"language"`
	InterimResults    *bool   `json:"interim_results"`
	EndpointingMS     *int    `json:"endpointing_ms" jsonschema:"minimum=0"`
	UtteranceEndMS    *int    `json:"utterance_end_ms" jsonschema:"minimum=0"`
	NoSpeechTimeoutMS *int    `json:"no_speech_timeout_ms" jsonschema:"minimum=0"`
	ErrorSettleMS     *int    `json:"error_settle_ms" jsonschema:"minimum=0"`
}

type jsoncSynthesis struct {
	Enable     *bool   `json:"enable"`
	Voice      *string `json:"voice"`
	Locale     *string `json:"locale"`
	SampleRate *int    `json:"sample_rate" jsonschema:"minimum=8000"`
}

type jsoncDeepgram struct {
	BaseURL   *string `json:"base_url"`
	APIKeyEnv *string `json:"api_key_env" jsonschema:"description=Environment variable holding the API key"`
}

type jsoncCues struct {
	Enable *bool `json:"enable"`
}

type jsoncDebug struct {
	AudioDump *bool   `json:"audio_dump"`
	LogLevel  *string `json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if payload.Backend != nil {
		if payload.Backend.URL != nil {
			cfg.Backend.URL = strings.TrimSpace(*payload.Backend.URL)
		}
		if payload.Backend.TimeoutMS != nil {
			cfg.Backend.TimeoutMS = *payload.Backend.TimeoutMS
		}
	}

	if payload.Voice != nil && payload.Voice.Enable != nil {
		cfg.Voice.Enable = *payload.Voice.Enable
	}

	if payload.Audio != nil {
		if payload.Audio.Backend != nil {
			cfg.Audio.Backend = strings.ToLower(strings.TrimSpace(*payload.Audio.Backend))
		}
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Recognition != nil {
		r := payload.Recognition
		if r.Model != nil {
			cfg.Recognition.Model = strings.TrimSpace(*r.Model)
		}
		if r.Language != nil {
			cfg.Recognition.Language = strings.TrimSpace(*r.Language)
		}
		if r.InterimResults != nil {
			cfg.Recognition.InterimResults = *r.InterimResults
		}
		if r.EndpointingMS != nil {
			cfg.Recognition.EndpointingMS = *r.EndpointingMS
		}
		if r.UtteranceEndMS != nil {
			cfg.Recognition.UtteranceEndMS = *r.UtteranceEndMS
		}
		if r.NoSpeechTimeoutMS != nil {
			cfg.Recognition.NoSpeechTimeoutMS = *r.NoSpeechTimeoutMS
		}
		if r.ErrorSettleMS != nil {
			cfg.Recognition.ErrorSettleMS = *r.ErrorSettleMS
		}
	}

	if payload.Synthesis != nil {
		s := payload.Synthesis
		if s.Enable != nil {
			cfg.Synthesis.Enable = *s.Enable
		}
		if s.Voice != nil {
			cfg.Synthesis.Voice = strings.TrimSpace(*s.Voice)
		}
		if s.Locale != nil {
			cfg.Synthesis.Locale = strings.TrimSpace(*s.Locale)
		}
		if s.SampleRate != nil {
			cfg.Synthesis.SampleRate = *s.SampleRate
		}
	}

	if payload.Deepgram != nil {
		if payload.Deepgram.BaseURL != nil {
			cfg.Deepgram.BaseURL = strings.TrimSpace(*payload.Deepgram.BaseURL)
		}
		if payload.Deepgram.APIKeyEnv != nil {
			cfg.Deepgram.APIKeyEnv = strings.TrimSpace(*payload.Deepgram.APIKeyEnv)
		}
	}

	if payload.Cues != nil && payload.Cues.Enable != nil {
		cfg.Cues.Enable = *payload.Cues.Enable
	}

	if payload.Greeting != nil {
		cfg.Greeting = strings.TrimSpace(*payload.Greeting)
		if cfg.Greeting == "" {
			warnings = append(warnings, Warning{Message: "greeting is empty; sessions will start silently"})
		}
	}

	if payload.Debug != nil {
		if payload.Debug.AudioDump != nil {
			cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
		}
		if payload.Debug.LogLevel != nil {
			cfg.Debug.LogLevel = strings.ToLower(strings.TrimSpace(*payload.Debug.LogLevel))
		}
	}

	return warnings
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
