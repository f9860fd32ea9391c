package validation

import (
	"strings"
)

const bannedTermPenalty = 0.25

// scoreBrandVoice measures how well the draft matches the configured voice
// profile: coverage of expected tone markers minus a penalty per banned term.
func scoreBrandVoice(text string, voice VoiceProfile) float64 {
	lower := strings.ToLower(text)

	coverage := 1.0
	if len(voice.ToneMarkers) > 0 {
		found := 0
		for _, marker := range voice.ToneMarkers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				found++
			}
		}
		coverage = float64(found) / float64(len(voice.ToneMarkers))
	}

	penalty := 0.0
	for _, banned := range voice.BannedTerms {
		if strings.Contains(lower, strings.ToLower(banned)) {
			penalty += bannedTermPenalty
		}
	}

	return clamp01(coverage - penalty)
}
