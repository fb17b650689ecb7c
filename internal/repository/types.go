package repository

import (
	"time"

	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// ── Domain types for the purchase request workflow ───────────────────────────

// PurchaseRequest is the approval-bearing document whose lifecycle the
// workflow governs.
type PurchaseRequest struct {
	ID            string
	DocumentNo    string
	WorkflowID    string
	Status        string // draft | in_progress | submitted | approved | rejected | completed | voided
	StateRole     string // role of the acting stage: create | approve | purchase | view_only
	PreviousStage string
	CurrentStage  string
	NextStage     string
	Department    string
	Requestor     string
	Currency      string
	Description   *string
	TotalAmount   int64 // cents; derived from item totals
	CreatedBy     *string
	CreatedAt     time.Time
	UpdatedBy     *string
	UpdatedAt     time.Time
	Items         []*PurchaseRequestDetail
	History       []*WorkflowHistoryEntry
}

// PurchaseRequestDetail is one line item of a purchase request.
// ID is nil until the item has been persisted; only saved items can
// participate in stage transitions.
type PurchaseRequestDetail struct {
	ID                 *string
	RequestID          string
	ProductID          string
	ProductName        string
	CategoryName       string
	RequestedQty       float64
	ApprovedQty        *float64
	FocQty             *float64
	RequestUnit        string
	ApprovedUnit       *string
	VendorID           *string
	UnitPrice          int64 // cents
	DiscountRate       float64
	TaxRate            float64
	DiscountAmount     int64
	NetAmount          int64
	TaxAmount          int64
	TotalAmount        int64
	CurrentStageStatus string // pending | approve | approved | rejected | review | ""
	StageMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ItemStageUpdate is the per-item payload of a workflow transition.
type ItemStageUpdate struct {
	ID           string
	StageStatus  string
	StageMessage string
	// Approve transitions additionally commit the negotiated terms.
	ApprovedQty  *float64
	ApprovedUnit *string
	VendorID     *string
	UnitPrice    *int64
	DiscountRate *float64
	TaxRate      *float64
}

// StageActionConfig configures one action on a stage.
type StageActionConfig struct {
	IsActive   bool     `json:"is_active"`
	Recipients []string `json:"recipients"`
}

// Stage is a named step in a workflow. Stages are ordered by Position; the
// first and last positions are structurally fixed (see service.StageService).
type Stage struct {
	ID               string
	WorkflowID       string
	Name             string
	Position         int
	Role             string
	AvailableActions map[string]StageActionConfig // keyed by submit|approve|reject|sendback
	SLAValue         int
	SLAUnit          string // hours | days
	HideFields       []string
	AssignedUsers    []string // ignored when IsHOD is set
	IsHOD            bool
	CreatorAccess    []string // only meaningful on the first stage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RoutingRuleRecord is a persisted routing rule. Position fixes the
// evaluation order; rules must never be stored or loaded unordered.
type RoutingRuleRecord struct {
	ID           string
	WorkflowID   string
	Position     int
	Name         string
	Description  string
	TriggerStage string
	Condition    workflow.RuleCondition
	Action       workflow.RuleOutcome
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Rule converts the record into the evaluator's value type.
func (r *RoutingRuleRecord) Rule() workflow.RoutingRule {
	return workflow.RoutingRule{
		Name:         r.Name,
		Description:  r.Description,
		TriggerStage: r.TriggerStage,
		Condition:    r.Condition,
		Action:       r.Action,
	}
}

// WorkflowHistoryEntry is one immutable record in a request's workflow log.
type WorkflowHistoryEntry struct {
	ID            string
	RequestID     string
	UserID        string
	Action        string
	PreviousStage string
	NextStage     string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
}

// CommentAttachment is file metadata on a comment; the file itself lives in
// external storage.
type CommentAttachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
}

// Comment is a workflow-adjacent note on a purchase request.
type Comment struct {
	ID          string
	RequestID   string
	UserID      string
	Message     string
	Attachments []CommentAttachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
