package extract

import "strings"

// challengeMarkers is the fixed vocabulary of anti-automation interstitial
// signals, matched case-insensitively against page titles and metadata.
var challengeMarkers = []string{"human", "touch", "captcha", "security"}

// ChallengeSuspected reports whether s contains any known challenge marker.
func ChallengeSuspected(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
