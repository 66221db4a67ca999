package config

// DefaultGreeting opens every chat session.
const DefaultGreeting = "Hello! I'm the Apex Financial Services assistant. Please enter the customer's name so I can locate their loan file."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:       "http://127.0.0.1:8000",
			TimeoutMS: 30000,
		},
		Voice: VoiceConfig{Enable: true},
		Audio: AudioConfig{
			Backend:  AudioBackendPulse,
			Input:    "default",
			Fallback: "default",
		},
		Recognition: RecognitionConfig{
			Model:             "nova-2",
			Language:          "en-US",
			InterimResults:    true,
			EndpointingMS:     300,
			UtteranceEndMS:    1000,
			NoSpeechTimeoutMS: 8000,
			ErrorSettleMS:     500,
		},
		Synthesis: SynthesisConfig{
			Enable:     true,
			Voice:      "aura-asteria-en",
			Locale:     "en-US",
			SampleRate: 24000,
		},
		Deepgram: DeepgramConfig{
			BaseURL:   "https://api.deepgram.com/v1",
			APIKeyEnv: "DEEPGRAM_API_KEY",
		},
		Cues:     CuesConfig{Enable: true},
		Greeting: DefaultGreeting,
		Debug:    DebugConfig{LogLevel: "info"},
	}
}
