package deepgram

import (
	"strings"

	"github.com/rbright/parley/internal/synth"
)

// auraVoices is the fixed Aura model catalog. Deepgram does not expose a listing
// endpoint for speak models.
var auraVoices = []synth.Voice{
	{Name: "aura-asteria-en", Locale: "en-US"},
	{Name: "aura-luna-en", Locale: "en-US"},
	{Name: "aura-stella-en", Locale: "en-US"},
	{Name: "aura-athena-en", Locale: "en-GB"},
	{Name: "aura-hera-en", Locale: "en-US"},
	{Name: "aura-orion-en", Locale: "en-US"},
	{Name: "aura-arcas-en", Locale: "en-US"},
	{Name: "aura-perseus-en", Locale: "en-US"},
	{Name: "aura-angus-en", Locale: "en-IE"},
	{Name: "aura-orpheus-en", Locale: "en-US"},
	{Name: "aura-helios-en", Locale: "en-GB"},
	{Name: "aura-zeus-en", Locale: "en-US"},
}

// Voices returns the catalog with preferred marked as the default. An unknown
// preferred name leaves no default so locale matching decides.
func Voices(preferred string) []synth.Voice {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	out := make([]synth.Voice, len(auraVoices))
	for i, v := range auraVoices {
		v.Default = preferred != "" && v.Name == preferred
		out[i] = v
	}
	return out
}
