package session

import "strings"

// DefaultVoice is used when a client supplies no voice or one outside the
// provider allow-list.
const DefaultVoice = "alloy"

var allowedVoices = map[string]struct{}{
	"alloy":   {},
	"ash":     {},
	"ballad":  {},
	"coral":   {},
	"echo":    {},
	"sage":    {},
	"shimmer": {},
	"verse":   {},
}

// NormalizeVoice validates a voice id against the provider allow-list and
// falls back to DefaultVoice on mismatch.
func NormalizeVoice(voice string) string {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if _, ok := allowedVoices[normalized]; ok {
		return normalized
	}
	return DefaultVoice
}
