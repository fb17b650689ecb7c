package workflow

// Item stage status vocabulary. These values round-trip unchanged across the
// backend boundary; the empty string means "not yet decided".
const (
	StatusPending  = "pending"
	StatusApprove  = "approve" // in-flight approval marker on transition payloads
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusReview   = "review"
	StatusEmpty    = ""
)

// AggregatedAction is the single recommended bulk action derived from all
// line-item statuses.
type AggregatedAction string

const (
	AggNone     AggregatedAction = "none"
	AggReview   AggregatedAction = "review"
	AggRejected AggregatedAction = "rejected"
	AggApproved AggregatedAction = "approved"
)

// ComputeAction maps the per-item stage statuses of a purchase request to one
// recommended bulk action. The rule order is significant and first match wins:
//
//  1. no items → none
//  2. any "review" → review (an explicit request for reconsideration
//     outranks everything else)
//  3. any "pending" or "" → none (work still outstanding)
//  4. any "approved" → approved
//  5. all "rejected" → rejected
//  6. otherwise → none
//
// A mix of approved and rejected items (with nothing pending) resolves to
// "approved": the request proceeds while the rejected items stay rejected
// inside it, which is what enables partial fulfillment. Full rejection is the
// only path to an overall "rejected".
func ComputeAction(statuses []string) AggregatedAction {
	if len(statuses) == 0 {
		return AggNone
	}

	anyApproved := false
	allRejected := true
	anyOutstanding := false

	for _, s := range statuses {
		switch s {
		case StatusReview:
			return AggReview
		case StatusPending, StatusEmpty:
			anyOutstanding = true
		case StatusApproved:
			anyApproved = true
		}
		if s != StatusRejected {
			allRejected = false
		}
	}

	switch {
	case anyOutstanding:
		return AggNone
	case anyApproved:
		return AggApproved
	case allRejected:
		return AggRejected
	}
	return AggNone
}
