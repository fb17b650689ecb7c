// Package workflow contains the pure decision logic for the purchase request
// approval workflow: item status aggregation, role/status action gating,
// routing rule evaluation and amount derivation. No I/O happens here.
package workflow

// Role is the capability an actor holds at a purchase request's current stage.
type Role string

const (
	RoleCreate   Role = "create"
	RoleApprove  Role = "approve"
	RolePurchase Role = "purchase"
	RoleViewOnly Role = "view_only"
	RoleUnknown  Role = ""
)

// ParseRole maps a wire role string onto the closed Role set.
// Unrecognized values map to RoleUnknown, which is granted no actions.
func ParseRole(s string) Role {
	switch s {
	case "create":
		return RoleCreate
	case "approve":
		return RoleApprove
	case "purchase":
		return RolePurchase
	case "view_only":
		return RoleViewOnly
	}
	return RoleUnknown
}

// Action is a workflow transition an actor may trigger.
type Action string

const (
	ActionSubmit          Action = "submit"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionSendBack        Action = "send_back"
	ActionPurchaseApprove Action = "purchase_approve"
)

// ParseAction maps a wire action string onto the closed Action set.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "submit":
		return ActionSubmit, true
	case "approve":
		return ActionApprove, true
	case "reject":
		return ActionReject, true
	case "send_back":
		return ActionSendBack, true
	case "purchase_approve":
		return ActionPurchaseApprove, true
	}
	return "", false
}
