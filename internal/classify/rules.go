package classify

import (
	"strings"

	"github.com/brandon/onebox/pkg/types"
)

// fallbackConfidence is reported for rule matches. The rules are exact
// substring checks, so a match is treated as certain.
const fallbackConfidence = 1.0

type rule struct {
	label    string
	keywords []string
}

// fallbackRules are checked in priority order; the first matching rule wins.
// "Not Interested" sits above "Interested" so its keywords are tested first.
var fallbackRules = []rule{
	{types.CategoryOutOfOffice, []string{
		"out of office",
		"auto-reply",
		"autoreply",
		"automatic reply",
		"on vacation",
		"annual leave",
		"back in the office",
	}},
	{types.CategoryMeetingBooked, []string{
		"meeting booked",
		"meeting confirmed",
		"schedule a meeting",
		"schedule a call",
		"calendar invite",
		"booked a slot",
		"see you at the meeting",
	}},
	{types.CategoryNotInterested, []string{
		"not interested",
		"no longer interested",
		"not a good fit",
		"remove me from",
		"unsubscribe",
		"no thanks",
	}},
	{types.CategorySpam, []string{
		"you have won",
		"lottery",
		"claim your prize",
		"free money",
		"limited time offer",
		"act now",
	}},
	{types.CategoryInterested, []string{
		"interested",
		"tell me more",
		"sounds good",
		"more details",
		"share the pricing",
		"let's talk",
	}},
}

// Fallback classifies content with the deterministic keyword rule set. It is
// pure: the same content always yields the same label.
func Fallback(content string) types.ClassificationResult {
	lowered := strings.ToLower(content)
	for _, r := range fallbackRules {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				return types.ClassificationResult{Label: r.label, Confidence: fallbackConfidence}
			}
		}
	}
	return types.ClassificationResult{Label: types.CategoryUncategorized}
}
