package classify

import "context"

// Label is one of the five fixed classification outcomes.
type Label string

const (
	LabelInterested    Label = "Interested"
	LabelMeetingBooked Label = "Meeting Booked"
	LabelNotInterested Label = "Not Interested"
	LabelSpam          Label = "Spam"
	LabelOutOfOffice   Label = "Out of Office"
)

// Labels lists every valid label, in prompt order.
var Labels = []Label{
	LabelInterested,
	LabelMeetingBooked,
	LabelNotInterested,
	LabelSpam,
	LabelOutOfOffice,
}

// Valid reports whether l is one of the fixed labels.
func (l Label) Valid() bool {
	switch l {
	case LabelInterested, LabelMeetingBooked, LabelNotInterested, LabelSpam, LabelOutOfOffice:
		return true
	}
	return false
}

// Result is the outcome of classifying one email.
type Result struct {
	Label       Label   `json:"label"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// Classifier classifies an email's subject and body into a Result.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (Result, error)
}
