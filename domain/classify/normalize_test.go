package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		raw  string
		want Label
	}{
		{"Interested", LabelInterested},
		{"interested", LabelInterested},
		{"Not Interested", LabelNotInterested},
		{"not interested at all", LabelNotInterested},
		{"Meeting Booked", LabelMeetingBooked},
		{"the sender wants a meeting", LabelMeetingBooked},
		{"Out of Office", LabelOutOfOffice},
		{"on vacation until monday", LabelOutOfOffice},
		{"Spam", LabelSpam},
		{"unsubscribe link present", LabelNotInterested},
		{"promotional content", LabelNotInterested},
		{"marketing blast", LabelNotInterested},
		{"", LabelNotInterested},
		{"something unrecognizable", LabelNotInterested},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeLabel(tt.raw), "raw=%q", tt.raw)
	}
}

func TestApplyKeywordOverridesPrecedence(t *testing.T) {
	// Spam evidence wins even when scheduling language is present.
	got := applyKeywordOverrides(LabelInterested, "looks like spam", "let's schedule a meeting")
	require.Equal(t, LabelSpam, got)

	// Unsubscribe beats out-of-office and meeting.
	got = applyKeywordOverrides(LabelInterested, "", "click unsubscribe; I'm on vacation; book a call")
	require.Equal(t, LabelNotInterested, got)

	// Out-of-office beats meeting.
	got = applyKeywordOverrides(LabelInterested, "", "out of office, will schedule later")
	require.Equal(t, LabelOutOfOffice, got)

	// Scheduling language alone re-labels to Meeting Booked.
	got = applyKeywordOverrides(LabelInterested, "", "what is your availability next week?")
	require.Equal(t, LabelMeetingBooked, got)

	// No keyword evidence keeps the model's label.
	got = applyKeywordOverrides(LabelInterested, "sender wants pricing", "tell me more about pricing")
	require.Equal(t, LabelInterested, got)
}

func TestApplyKeywordOverridesMatchesExplanation(t *testing.T) {
	// Evidence in the explanation counts even when the content is clean.
	got := applyKeywordOverrides(LabelInterested, "this is promotional marketing", "tell me more")
	require.Equal(t, LabelNotInterested, got)
}

func TestApplyScrapeOverridesPrecedence(t *testing.T) {
	// With no explanation to weigh, unsubscribe language outranks spam
	// markers in the content.
	got := applyScrapeOverrides(LabelInterested, "click unsubscribe to stop this spam")
	require.Equal(t, LabelNotInterested, got)

	got = applyScrapeOverrides(LabelInterested, "this is clearly spam")
	require.Equal(t, LabelSpam, got)

	got = applyScrapeOverrides(LabelInterested, "on vacation, back monday")
	require.Equal(t, LabelOutOfOffice, got)

	got = applyScrapeOverrides(LabelInterested, "what is your availability?")
	require.Equal(t, LabelMeetingBooked, got)

	// No keyword evidence keeps the scraped label.
	got = applyScrapeOverrides(LabelInterested, "tell me more about pricing")
	require.Equal(t, LabelInterested, got)
}

func TestScrapeAndExplanationPathsDisagreeOnSpamVsUnsubscribe(t *testing.T) {
	content := "unsubscribe from this spam list"

	require.Equal(t, LabelNotInterested, applyScrapeOverrides(LabelInterested, content))
	require.Equal(t, LabelSpam, applyKeywordOverrides(LabelInterested, "", content))
}

func TestClampConfidence(t *testing.T) {
	require.Equal(t, 0.0, clampConfidence(-0.3))
	require.Equal(t, 1.0, clampConfidence(1.7))
	require.Equal(t, 0.42, clampConfidence(0.42))
}

func TestLabelValid(t *testing.T) {
	for _, l := range Labels {
		require.True(t, l.Valid(), "label=%q", l)
	}
	require.False(t, Label("Unknown").Valid())
	require.False(t, Label("").Valid())
}
