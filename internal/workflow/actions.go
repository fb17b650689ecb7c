package workflow

// Purchase request lifecycle statuses relevant to action gating.
const (
	PRStatusDraft      = "draft"
	PRStatusInProgress = "in_progress"
	PRStatusSubmitted  = "submitted"
	PRStatusApproved   = "approved"
	PRStatusRejected   = "rejected"
	PRStatusCompleted  = "completed"
	PRStatusVoided     = "voided"
)

// PermittedActions returns the workflow actions the actor may currently
// trigger, given their role at the request's stage, the request's lifecycle
// status and the aggregated recommendation from its item statuses.
//
// A voided request and a view-only role expose no actions regardless of the
// aggregation result.
func PermittedActions(role Role, prStatus string, agg AggregatedAction) []Action {
	if prStatus == PRStatusVoided || role == RoleViewOnly {
		return nil
	}

	var actions []Action
	switch role {
	case RoleCreate:
		if prStatus != PRStatusInProgress {
			actions = append(actions, ActionSubmit)
		}

	case RoleApprove:
		switch agg {
		case AggApproved:
			actions = append(actions, ActionApprove)
		case AggRejected:
			actions = append(actions, ActionReject)
		case AggReview:
			actions = append(actions, ActionSendBack)
		}

	case RolePurchase:
		switch agg {
		case AggApproved:
			actions = append(actions, ActionPurchaseApprove)
		case AggRejected:
			actions = append(actions, ActionReject)
		case AggReview:
			actions = append(actions, ActionSendBack)
		}

	case RoleViewOnly, RoleUnknown:
		// no actions
	}

	return actions
}

// Permitted reports whether the single action is in the permitted set.
func Permitted(action Action, role Role, prStatus string, agg AggregatedAction) bool {
	for _, a := range PermittedActions(role, prStatus, agg) {
		if a == action {
			return true
		}
	}
	return false
}
