package notifications

import "time"

// ThresholdKind names a reminder lead time.
type ThresholdKind string

const (
	ThresholdD7  ThresholdKind = "D7"
	ThresholdD3  ThresholdKind = "D3"
	ThresholdH24 ThresholdKind = "H24"
)

// Threshold pairs a kind with how long before the start it fires.
type Threshold struct {
	Kind ThresholdKind
	Lead time.Duration
	Body string
}

// Thresholds lists every reminder, longest lead first.
var Thresholds = []Threshold{
	{Kind: ThresholdD7, Lead: 7 * 24 * time.Hour, Body: "Starts in 7 days"},
	{Kind: ThresholdD3, Lead: 3 * 24 * time.Hour, Body: "Starts in 3 days"},
	{Kind: ThresholdH24, Lead: 24 * time.Hour, Body: "Starts in 24 hours"},
}

func maxLead() time.Duration {
	longest := time.Duration(0)
	for _, threshold := range Thresholds {
		longest = max(longest, threshold.Lead)
	}
	return longest
}

func minLead() time.Duration {
	shortest := Thresholds[0].Lead
	for _, threshold := range Thresholds {
		shortest = min(shortest, threshold.Lead)
	}
	return shortest
}

// crossed reports whether the tick observing delta until the start is the one
// that passes lead, given ticks every interval. The band [lead-interval, lead)
// is half-open so consecutive ticks partition time. Windows already behind the
// tick are never fired late.
func crossed(delta, lead, interval time.Duration) bool {
	return delta >= lead-interval && delta < lead
}
