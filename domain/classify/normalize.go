package classify

import (
	"regexp"
	"strings"
)

// Keyword patterns used to override a possibly miscalibrated model label.
// The explanation text tends to be more reliable than the single-word label,
// so when these match, they win.
var (
	reUnsubscribe = regexp.MustCompile(`\bunsubscribe\b`)
	rePromo       = regexp.MustCompile(`\bpromo\b|\bpromotion\b|\bmarketing\b|\bpromotional\b`)
	reSpam        = regexp.MustCompile(`\bspam\b`)
	reOOO         = regexp.MustCompile(`\bout of office\b|\bout-of-office\b|\boof\b|\bvacation\b`)
	reMeeting     = regexp.MustCompile(`\b(schedule|book|meeting|interview|call|availability|when will)\b`)
)

// NormalizeLabel maps free-form model output onto the fixed label set.
// Anything unrecognized becomes "Not Interested".
func NormalizeLabel(raw string) Label {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "meeting"):
		return LabelMeetingBooked
	case strings.Contains(s, "out of office"),
		strings.Contains(s, "vacation"),
		strings.Contains(s, "oof"):
		return LabelOutOfOffice
	case strings.Contains(s, "spam"):
		return LabelSpam
	case strings.Contains(s, "unsubscribe"),
		strings.Contains(s, "promotion"),
		strings.Contains(s, "promo"),
		strings.Contains(s, "marketing"):
		return LabelNotInterested
	// "not interested" must be checked before the bare "interested" match.
	case strings.Contains(s, "not interested"):
		return LabelNotInterested
	case strings.Contains(s, "interested"):
		return LabelInterested
	}
	return LabelNotInterested
}

// applyKeywordOverrides re-labels based on keyword evidence in the model's
// explanation and the email content itself. Precedence: spam markers, then
// unsubscribe/promotional language, then out-of-office, then scheduling.
func applyKeywordOverrides(label Label, explanation, content string) Label {
	expl := strings.ToLower(explanation)
	text := strings.ToLower(content)

	match := func(re *regexp.Regexp) bool {
		return re.MatchString(expl) || re.MatchString(text)
	}

	switch {
	case match(reSpam):
		return LabelSpam
	case match(reUnsubscribe), match(rePromo):
		return LabelNotInterested
	case match(reOOO):
		return LabelOutOfOffice
	case match(reMeeting):
		return LabelMeetingBooked
	}
	return label
}

// applyScrapeOverrides is the variant used when the model response is not
// JSON: there is no explanation to weigh, so only the email content is
// consulted, and unsubscribe/promotional language outranks spam markers.
func applyScrapeOverrides(label Label, content string) Label {
	text := strings.ToLower(content)
	switch {
	case reUnsubscribe.MatchString(text), rePromo.MatchString(text):
		return LabelNotInterested
	case reSpam.MatchString(text):
		return LabelSpam
	case reOOO.MatchString(text):
		return LabelOutOfOffice
	case reMeeting.MatchString(text):
		return LabelMeetingBooked
	}
	return label
}

// clampConfidence bounds a confidence value to [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
