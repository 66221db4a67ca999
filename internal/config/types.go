// Package config resolves, parses, validates, and defaults parley configuration.
package config

// Config is the fully materialized runtime configuration used by parley.
type Config struct {
	Backend     BackendConfig
	Voice       VoiceConfig
	Audio       AudioConfig
	Recognition RecognitionConfig
	Synthesis   SynthesisConfig
	Deepgram    DeepgramConfig
	Cues        CuesConfig
	Greeting    string
	Debug       DebugConfig
}

// BackendConfig points the gateway at the collector agent service.
type BackendConfig struct {
	URL       string
	TimeoutMS int
}

// VoiceConfig is the master switch for spoken input and output.
type VoiceConfig struct {
	Enable bool
}

// AudioConfig selects the audio backend plus preferred and fallback input sources.
type AudioConfig struct {
	Backend  string
	Input    string
	Fallback string
}

// RecognitionConfig controls the streaming recognizer session.
type RecognitionConfig struct {
	Model             string
	Language          string
	InterimResults    bool
	EndpointingMS     int
	UtteranceEndMS    int
	NoSpeechTimeoutMS int
	ErrorSettleMS     int
}

// SynthesisConfig controls spoken replies.
type SynthesisConfig struct {
	Enable     bool
	Voice      string
	Locale     string
	SampleRate int
}

// DeepgramConfig locates the speech API and its credential.
type DeepgramConfig struct {
	BaseURL   string
	APIKeyEnv string
}

// CuesConfig toggles the short tones played around listening sessions.
type CuesConfig struct {
	Enable bool
}

// DebugConfig controls optional debug output.
type DebugConfig struct {
	EnableAudioDump bool
	LogLevel        string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

const (
	AudioBackendPulse     = "pulse"
	AudioBackendMiniaudio = "miniaudio"
)
