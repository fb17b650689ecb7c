package service

import (
	"context"
	"fmt"

	"github.com/quartermill/be-pr-workflow/internal/client"
	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/metrics"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// maxReasonLength bounds the operator-supplied free-text reason.
const maxReasonLength = 256

// TransitionService applies workflow transitions: it gates the requested
// action by role, document status and the aggregated item recommendation,
// advances the stage pointers (consulting the routing rules), persists the
// whole transition atomically and emits history, metrics and notifications.
type TransitionService struct {
	requests    RequestStore
	stages      StageStore
	rules       RuleStore
	departments client.DepartmentResolver
	notifier    Notifier
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// NewTransitionService creates a new TransitionService.
func NewTransitionService(
	requests RequestStore,
	stages StageStore,
	rules RuleStore,
	departments client.DepartmentResolver,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *TransitionService {
	return &TransitionService{
		requests:    requests,
		stages:      stages,
		rules:       rules,
		departments: departments,
		notifier:    notifier,
		metrics:     m,
		log:         log,
	}
}

// TransitionRequest is the payload of the transition endpoint. The same shape
// serves submit, approve, reject, send_back and purchase_approve; StateRole
// and the details' stage statuses distinguish the intended transition.
type TransitionRequest struct {
	DocumentID     string
	StateRole      string
	ActorID        string
	Reason         string
	IdempotencyKey string
	Details        []repository.ItemStageUpdate
}

// Execute applies one workflow transition and returns the updated document.
// On any error the persisted state is left untouched.
func (s *TransitionService) Execute(ctx context.Context, req *TransitionRequest) (*repository.PurchaseRequest, error) {
	if len(req.Reason) > maxReasonLength {
		return nil, errors.InvalidInput("reason", fmt.Sprintf("reason must not exceed %d characters", maxReasonLength))
	}
	if len(req.Details) == 0 {
		return nil, errors.InvalidInput("details", "transition requires at least one item entry")
	}

	pr, err := s.requests.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	role := workflow.ParseRole(req.StateRole)

	// Overlay the submitted stage statuses onto the document's items.
	byID := make(map[string]*repository.PurchaseRequestDetail, len(pr.Items))
	for _, item := range pr.Items {
		if item.ID != nil {
			byID[*item.ID] = item
		}
	}
	for _, detail := range req.Details {
		if detail.ID == "" {
			return nil, errors.InvalidInput("details", "only saved items can be submitted to workflow actions")
		}
		item, ok := byID[detail.ID]
		if !ok {
			return nil, errors.NotFound("purchase_request_detail", detail.ID)
		}

		status := detail.StageStatus
		if status == "" {
			status = item.CurrentStageStatus
		}
		if status == "" {
			status = workflow.StatusPending
		}
		item.CurrentStageStatus = normalizeStatus(status)

		if detail.StageMessage != "" {
			msg := detail.StageMessage
			item.StageMessage = &msg
		} else if req.Reason != "" {
			reason := req.Reason
			item.StageMessage = &reason
		}

		applyNegotiatedTerms(item, &detail)
	}

	// Negotiated term changes alter the derived amounts; recompute before any
	// stage decision so the routing context sees the final totals.
	pr.TotalAmount = 0
	for _, item := range pr.Items {
		qty := item.RequestedQty
		if item.ApprovedQty != nil {
			qty = *item.ApprovedQty
		}
		amounts := workflow.DeriveAmounts(qty, item.UnitPrice, item.DiscountRate, item.TaxRate)
		item.DiscountAmount = amounts.DiscountAmount
		item.NetAmount = amounts.NetAmount
		item.TaxAmount = amounts.TaxAmount
		item.TotalAmount = amounts.TotalPrice
		pr.TotalAmount += item.TotalAmount
	}

	statuses := make([]string, 0, len(pr.Items))
	for _, item := range pr.Items {
		statuses = append(statuses, item.CurrentStageStatus)
	}
	agg := workflow.ComputeAction(statuses)

	action, err := intendedAction(role, agg)
	if err != nil {
		return nil, err
	}

	// Defensive no-op: an action the gating table does not permit is refused
	// without touching any state.
	if !workflow.Permitted(action, role, pr.Status, agg) {
		s.metrics.Transitions.WithLabelValues(string(action), "denied").Inc()
		return nil, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("action %q is not permitted for role %q on status %q", action, role, pr.Status))
	}

	stages, err := s.stages.ListByWorkflow(ctx, pr.WorkflowID)
	if err != nil {
		return nil, err
	}

	oldStage := pr.CurrentStage
	if err := s.advanceStages(ctx, pr, stages, action); err != nil {
		return nil, err
	}

	hist := &repository.WorkflowHistoryEntry{
		RequestID:     pr.ID,
		UserID:        req.ActorID,
		Action:        string(action),
		PreviousStage: oldStage,
		NextStage:     pr.CurrentStage,
		Metadata:      map[string]interface{}{"reason": req.Reason},
	}
	if req.IdempotencyKey != "" {
		hist.Metadata["idempotency_key"] = req.IdempotencyKey
	}

	pr.UpdatedBy = &req.ActorID
	if err := s.requests.ApplyTransition(ctx, pr, hist); err != nil {
		s.metrics.Transitions.WithLabelValues(string(action), "error").Inc()
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(action), "success").Inc()
	s.log.Info().
		Str("request_id", pr.ID).
		Str("document_no", pr.DocumentNo).
		Str("action", string(action)).
		Str("actor", req.ActorID).
		Str("from_stage", oldStage).
		Str("to_stage", pr.CurrentStage).
		Str("status", pr.Status).
		Msg("Workflow transition applied")

	s.notify(ctx, pr, stages, action, req.ActorID)

	return pr, nil
}

// intendedAction maps the actor's role and the aggregated recommendation to
// the single transition being attempted.
func intendedAction(role workflow.Role, agg workflow.AggregatedAction) (workflow.Action, error) {
	switch role {
	case workflow.RoleCreate:
		return workflow.ActionSubmit, nil

	case workflow.RoleApprove, workflow.RolePurchase:
		switch agg {
		case workflow.AggApproved:
			if role == workflow.RolePurchase {
				return workflow.ActionPurchaseApprove, nil
			}
			return workflow.ActionApprove, nil
		case workflow.AggRejected:
			return workflow.ActionReject, nil
		case workflow.AggReview:
			return workflow.ActionSendBack, nil
		}
		return "", errors.New(errors.ErrCodeConflict,
			"no bulk action is available until every item has been decided")
	}

	return "", errors.New(errors.ErrCodeUnauthorized, "role exposes no workflow actions")
}

// advanceStages updates the document's status, stage pointers and state role
// for the action. Approvals consult the routing rules before falling back to
// linear progression.
func (s *TransitionService) advanceStages(ctx context.Context, pr *repository.PurchaseRequest, stages []*repository.Stage, action workflow.Action) error {
	idx := stageIndex(stages, pr.CurrentStage)
	if idx < 0 {
		return errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("current stage %q is not part of workflow %q", pr.CurrentStage, pr.WorkflowID))
	}

	switch action {
	case workflow.ActionSubmit:
		if idx+1 >= len(stages) {
			return errors.New(errors.ErrCodeConflict, "workflow has no stage after submission")
		}
		s.moveTo(pr, stages, idx+1)
		pr.Status = workflow.PRStatusInProgress

	case workflow.ActionApprove, workflow.ActionPurchaseApprove:
		nextIdx, err := s.resolveNextStage(ctx, pr, stages, idx)
		if err != nil {
			return err
		}
		s.moveTo(pr, stages, nextIdx)
		if nextIdx == len(stages)-1 {
			// Advanced into the terminal marker.
			if action == workflow.ActionPurchaseApprove {
				pr.Status = workflow.PRStatusCompleted
			} else {
				pr.Status = workflow.PRStatusApproved
			}
		} else {
			pr.Status = workflow.PRStatusInProgress
		}

	case workflow.ActionReject:
		// The document returns to its creator, who may revise and resubmit.
		s.moveTo(pr, stages, 0)
		pr.Status = workflow.PRStatusRejected

	case workflow.ActionSendBack:
		if idx == 0 {
			return errors.New(errors.ErrCodeConflict, "first stage has no previous stage to send back to")
		}
		s.moveTo(pr, stages, idx-1)
		pr.Status = workflow.PRStatusInProgress
	}

	return nil
}

// resolveNextStage evaluates the routing rules at the current stage and
// returns the index of the stage the document advances to. Rules are applied
// first-match-wins in their stored order; with no match the next configured
// stage applies.
func (s *TransitionService) resolveNextStage(ctx context.Context, pr *repository.PurchaseRequest, stages []*repository.Stage, idx int) (int, error) {
	if idx+1 >= len(stages) {
		return 0, errors.New(errors.ErrCodeConflict, "document is already at the terminal stage")
	}
	defaultNext := idx + 1

	records, err := s.rules.ListByWorkflow(ctx, pr.WorkflowID)
	if err != nil {
		return 0, err
	}
	ruleList := make([]workflow.RoutingRule, 0, len(records))
	for _, rec := range records {
		ruleList = append(ruleList, rec.Rule())
	}

	categories := make([]string, 0, len(pr.Items))
	for _, item := range pr.Items {
		categories = append(categories, item.CategoryName)
	}

	outcome, matched := workflow.EvaluateRules(ruleList, workflow.RuleContext{
		CurrentStage:   pr.CurrentStage,
		TotalAmount:    float64(pr.TotalAmount) / 100, // rules are written in major units
		DepartmentName: pr.Department,
		ItemCategories: categories,
	})
	if !matched {
		return defaultNext, nil
	}

	targetIdx := stageIndex(stages, outcome.TargetStage)
	if targetIdx < 0 {
		return 0, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("routing rule targets unknown stage %q", outcome.TargetStage))
	}

	s.metrics.RoutingExecutes.WithLabelValues(string(outcome.Type)).Inc()

	switch outcome.Type {
	case workflow.ActionNextStage:
		return targetIdx, nil
	case workflow.ActionSkipStage:
		if targetIdx == defaultNext {
			if targetIdx+1 >= len(stages) {
				return 0, errors.New(errors.ErrCodeConflict, "cannot skip the terminal stage")
			}
			return targetIdx + 1, nil
		}
		// The skipped stage is not the next one; linear progression holds.
		return defaultNext, nil
	}
	return defaultNext, nil
}

// moveTo points the document at stages[idx] and adopts that stage's role.
func (s *TransitionService) moveTo(pr *repository.PurchaseRequest, stages []*repository.Stage, idx int) {
	pr.PreviousStage = ""
	if idx > 0 {
		pr.PreviousStage = stages[idx-1].Name
	}
	pr.CurrentStage = stages[idx].Name
	pr.NextStage = ""
	if idx+1 < len(stages) {
		pr.NextStage = stages[idx+1].Name
	}
	pr.StateRole = stages[idx].Role
}

// notify resolves the new stage's recipients and publishes the transition
// event. Failures here are logged and never surfaced to the caller.
func (s *TransitionService) notify(ctx context.Context, pr *repository.PurchaseRequest, stages []*repository.Stage, action workflow.Action, actorID string) {
	if s.notifier == nil {
		return
	}

	eventType := eventTypeFor(action, pr.Status)
	recipients := s.resolveRecipients(ctx, pr, stages)
	if action == workflow.ActionReject || action == workflow.ActionSendBack {
		// The document travels backwards; the requestor must always hear
		// about it even when the earlier stage has no explicit assignees.
		recipients = appendUnique(recipients, pr.Requestor)
	}

	s.notifier.PublishRequestEvent(eventType, pr.ID, actorID, recipients, map[string]interface{}{
		"document_no":   pr.DocumentNo,
		"status":        pr.Status,
		"current_stage": pr.CurrentStage,
		"total_amount":  pr.TotalAmount,
	})
}

func (s *TransitionService) resolveRecipients(ctx context.Context, pr *repository.PurchaseRequest, stages []*repository.Stage) []string {
	idx := stageIndex(stages, pr.CurrentStage)
	if idx < 0 {
		return nil
	}
	stage := stages[idx]

	if stage.IsHOD {
		if s.departments == nil {
			return nil
		}
		heads, err := s.departments.GetHeadOfDepartment(ctx, pr.Department)
		if err != nil {
			s.metrics.NotifyFailures.Inc()
			s.log.Warn().Err(err).
				Str("department", pr.Department).
				Str("stage", stage.Name).
				Msg("Could not resolve head of department for notifications")
			return nil
		}
		return heads
	}
	return stage.AssignedUsers
}

func eventTypeFor(action workflow.Action, status string) string {
	switch action {
	case workflow.ActionSubmit:
		return "request_submitted"
	case workflow.ActionApprove, workflow.ActionPurchaseApprove:
		if status == workflow.PRStatusApproved || status == workflow.PRStatusCompleted {
			return "request_approved"
		}
		return "request_approval_required"
	case workflow.ActionReject:
		return "request_rejected"
	case workflow.ActionSendBack:
		return "request_sent_back"
	}
	return "request_updated"
}

// normalizeStatus maps the transient "approve" payload marker onto the
// persisted "approved" item status. All other values round-trip unchanged.
func normalizeStatus(status string) string {
	if status == workflow.StatusApprove {
		return workflow.StatusApproved
	}
	return status
}

func applyNegotiatedTerms(item *repository.PurchaseRequestDetail, detail *repository.ItemStageUpdate) {
	if detail.ApprovedQty != nil {
		item.ApprovedQty = detail.ApprovedQty
	}
	if detail.ApprovedUnit != nil {
		item.ApprovedUnit = detail.ApprovedUnit
	}
	if detail.VendorID != nil {
		item.VendorID = detail.VendorID
	}
	if detail.UnitPrice != nil {
		item.UnitPrice = *detail.UnitPrice
	}
	if detail.DiscountRate != nil {
		item.DiscountRate = *detail.DiscountRate
	}
	if detail.TaxRate != nil {
		item.TaxRate = *detail.TaxRate
	}
}

func stageIndex(stages []*repository.Stage, name string) int {
	for i, st := range stages {
		if st.Name == name {
			return i
		}
	}
	return -1
}

func appendUnique(set []string, v string) []string {
	if v == "" {
		return set
	}
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}
