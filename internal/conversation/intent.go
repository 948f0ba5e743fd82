package conversation

import (
	"regexp"
	"strings"
)

// IntentFamily groups guest questions that share a template family.
type IntentFamily string

const (
	IntentWiFi       IntentFamily = "wifi"
	IntentCheckIn    IntentFamily = "check_in"
	IntentCheckOut   IntentFamily = "check_out"
	IntentParking    IntentFamily = "parking"
	IntentDirections IntentFamily = "directions"
	IntentHouseRules IntentFamily = "house_rules"
	IntentUnknown    IntentFamily = "unknown"
)

// IntentMatch is the classifier's best guess with its confidence in [0,1].
type IntentMatch struct {
	Family     IntentFamily
	Confidence float64
}

type intentPattern struct {
	family   IntentFamily
	pattern  *regexp.Regexp
	keywords []string
	weight   float64
}

// intentPatterns map common guest questions to template families. Pattern
// matches are strong signals; the keyword fallback needs at least two hits.
var intentPatterns = []intentPattern{
	{
		family:   IntentWiFi,
		pattern:  regexp.MustCompile(`(?i)\b(wi[\s-]?fi|wireless|internet)\b.*\b(password|network|code|name|login)\b|\b(password|network)\b.*\b(wi[\s-]?fi|internet)\b`),
		keywords: []string{"wifi", "wi-fi", "internet", "password", "network"},
		weight:   0.9,
	},
	{
		family:   IntentCheckIn,
		pattern:  regexp.MustCompile(`(?i)\b(check[\s-]?in|early\s+arrival|door\s+code|key\s*(pad|code|box)|lock\s*box|how\s+do\s+(i|we)\s+get\s+in)\b`),
		keywords: []string{"check-in", "checkin", "arrive", "door", "code", "key"},
		weight:   0.85,
	},
	{
		family:   IntentCheckOut,
		pattern:  regexp.MustCompile(`(?i)\b(check[\s-]?out|late\s+departure|leave\s+the\s+keys|what\s+time.*leave)\b`),
		keywords: []string{"check-out", "checkout", "leave", "departure"},
		weight:   0.85,
	},
	{
		family:   IntentParking,
		pattern:  regexp.MustCompile(`(?i)\b(park(ing)?|garage|driveway|street\s+permit)\b`),
		keywords: []string{"parking", "park", "car", "garage"},
		weight:   0.8,
	},
	{
		family:   IntentDirections,
		pattern:  regexp.MustCompile(`(?i)\b(address|directions?|how\s+do\s+(i|we)\s+(get|find))\b`),
		keywords: []string{"address", "directions", "located", "find"},
		weight:   0.75,
	},
	{
		family:   IntentHouseRules,
		pattern:  regexp.MustCompile(`(?i)\b(house\s+rules|quiet\s+hours|pets?\s+allowed|smoking|parties|extra\s+guests?)\b`),
		keywords: []string{"rules", "pets", "smoking", "quiet", "party"},
		weight:   0.75,
	},
}

// ClassifyIntent maps guest text to a template family. It is deterministic
// and keys on meaning, not phrasing, so paraphrased questions land on the
// same family (and therefore the same cache fingerprint).
func ClassifyIntent(text string) IntentMatch {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return IntentMatch{Family: IntentUnknown}
	}

	best := IntentMatch{Family: IntentUnknown}
	for _, p := range intentPatterns {
		if p.pattern.MatchString(normalized) {
			if p.weight > best.Confidence {
				best = IntentMatch{Family: p.family, Confidence: p.weight}
			}
			continue
		}
		matchCount := 0
		for _, kw := range p.keywords {
			if strings.Contains(normalized, kw) {
				matchCount++
			}
		}
		if matchCount >= 2 {
			score := p.weight * 0.7
			if score > best.Confidence {
				best = IntentMatch{Family: p.family, Confidence: score}
			}
		}
	}
	return best
}
