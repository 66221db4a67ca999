package session

import (
	"fmt"

	"github.com/rbright/parley/internal/recognize"
)

const (
	statusReady            = "Enter customer name to begin."
	statusEmptyName        = "Please enter a customer name."
	statusFoundVoice       = "Customer found. Press Enter to start talking to the collector."
	statusFoundText        = "Customer found. Ready for text chat."
	statusNotFound         = "Customer not found. Ready for name lookup."
	statusLookupRetry      = "Lookup completed. Try again."
	statusLookupServer     = "Lookup failed due to server error. Try again."
	statusLookupNetwork    = "Network error during lookup. Try again."
	statusStarting         = "Starting speech recognition..."
	statusListening        = "Listening... Please speak clearly."
	statusStopping         = "Stopping recognition..."
	statusNoSpeech         = "No speech captured or understood. Please try again."
	statusEmptyChat        = "Empty input ignored. Ready for next turn."
	statusProcessing       = "Processing response..."
	statusSpeaking         = "Speaking..."
	statusReplyVoice       = "Response received."
	statusReplyText        = "Ready for next text input."
	statusVoiceReady       = "Press Enter to speak."
	statusChatServer       = "Chat failed due to server error."
	statusChatNetwork      = "Network error during chat. Try again."
	statusPermissionDenied = "Microphone permission was denied. Voice input is disabled; type your messages instead."

	notFoundPrefix = "I couldn't find"

	lookupNetworkMessage = "A network error occurred during lookup. Please ensure the backend server is running on port 8000."
	chatServerFallback   = "Sorry, I encountered an issue on my end. We can try again in a moment regarding your loan."
	chatNetworkMessage   = "Sorry, I'm having trouble connecting to the server right now. Please ensure the backend is running on port 8000."
)

func lookupServerMessage(status int) string {
	return fmt.Sprintf("Server error during lookup (%d). Please check backend terminal for details.", status)
}

func chatServerMessage(status int) string {
	return fmt.Sprintf("Server error during chat (%d). Please check backend terminal.", status)
}

func lookupStatus(name string) string {
	return fmt.Sprintf("Looking up loan for %q...", name)
}

func recognitionStatus(kind recognize.ErrorKind, err error) string {
	switch kind {
	case recognize.KindNoSpeech:
		return "No speech detected. Please try speaking louder or after the beep."
	case recognize.KindAudioCapture:
		return "Microphone access error. Please check your microphone."
	case recognize.KindPermissionDenied:
		return statusPermissionDenied
	default:
		if err == nil {
			return "Speech input error occurred."
		}
		return fmt.Sprintf("Recognition error: %v", err)
	}
}
