package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermittedActionsGating(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		prStatus string
		agg      AggregatedAction
		want     []Action
	}{
		{"creator on draft", RoleCreate, PRStatusDraft, AggNone, []Action{ActionSubmit}},
		{"creator on rejected resubmits", RoleCreate, PRStatusRejected, AggNone, []Action{ActionSubmit}},
		{"creator blocked while in progress", RoleCreate, PRStatusInProgress, AggNone, nil},
		{"approver with approved aggregate", RoleApprove, PRStatusSubmitted, AggApproved, []Action{ActionApprove}},
		{"approver with rejected aggregate", RoleApprove, PRStatusSubmitted, AggRejected, []Action{ActionReject}},
		{"approver with review aggregate", RoleApprove, PRStatusSubmitted, AggReview, []Action{ActionSendBack}},
		{"approver with nothing decided", RoleApprove, PRStatusSubmitted, AggNone, nil},
		{"purchaser approves", RolePurchase, PRStatusInProgress, AggApproved, []Action{ActionPurchaseApprove}},
		{"purchaser rejects", RolePurchase, PRStatusInProgress, AggRejected, []Action{ActionReject}},
		{"purchaser sends back", RolePurchase, PRStatusInProgress, AggReview, []Action{ActionSendBack}},
		{"unknown role", RoleUnknown, PRStatusDraft, AggApproved, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PermittedActions(tt.role, tt.prStatus, tt.agg))
		})
	}
}

func TestPermittedActionsVoidedAndViewOnlyAreTotal(t *testing.T) {
	// Gating is total: every role on a voided request, and a view-only role
	// on any status, gets an empty action set regardless of aggregation.
	roles := []Role{RoleCreate, RoleApprove, RolePurchase, RoleViewOnly, RoleUnknown}
	statuses := []string{PRStatusDraft, PRStatusInProgress, PRStatusSubmitted, PRStatusApproved, PRStatusRejected, PRStatusVoided}
	aggs := []AggregatedAction{AggNone, AggReview, AggRejected, AggApproved}

	for _, role := range roles {
		for _, agg := range aggs {
			assert.Empty(t, PermittedActions(role, PRStatusVoided, agg),
				"voided must expose no actions (role=%s agg=%s)", role, agg)
		}
	}
	for _, status := range statuses {
		for _, agg := range aggs {
			assert.Empty(t, PermittedActions(RoleViewOnly, status, agg),
				"view_only must expose no actions (status=%s agg=%s)", status, agg)
		}
	}
}

func TestPermitted(t *testing.T) {
	assert.True(t, Permitted(ActionSubmit, RoleCreate, PRStatusDraft, AggNone))
	assert.False(t, Permitted(ActionSubmit, RoleCreate, PRStatusInProgress, AggNone))
	assert.True(t, Permitted(ActionApprove, RoleApprove, PRStatusSubmitted, AggApproved))
	assert.False(t, Permitted(ActionApprove, RolePurchase, PRStatusSubmitted, AggApproved))
	assert.True(t, Permitted(ActionPurchaseApprove, RolePurchase, PRStatusSubmitted, AggApproved))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleCreate, ParseRole("create"))
	assert.Equal(t, RoleApprove, ParseRole("approve"))
	assert.Equal(t, RolePurchase, ParseRole("purchase"))
	assert.Equal(t, RoleViewOnly, ParseRole("view_only"))
	assert.Equal(t, RoleUnknown, ParseRole("superuser"))
	assert.Equal(t, RoleUnknown, ParseRole(""))
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"submit", "approve", "reject", "send_back", "purchase_approve"} {
		a, ok := ParseAction(s)
		assert.True(t, ok, s)
		assert.Equal(t, s, string(a))
	}
	_, ok := ParseAction("void")
	assert.False(t, ok)
}
