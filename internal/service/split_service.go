package service

import (
	"context"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/metrics"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// SplitService carves a subset of a purchase request's line items out into a
// new, independent purchase request.
type SplitService struct {
	requests RequestStore
	stages   StageStore
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewSplitService creates a new SplitService.
func NewSplitService(requests RequestStore, stages StageStore, notifier Notifier, m *metrics.Metrics, log *logger.Logger) *SplitService {
	return &SplitService{requests: requests, stages: stages, notifier: notifier, metrics: m, log: log}
}

// Split flags the selected items as rejected on the source document and
// materializes a new draft purchase request containing copies of them,
// decoupled from the original's remaining workflow. Returns the new
// document's ID.
//
// An empty selection is refused before any persistence work; only items that
// are already saved may be split out.
func (s *SplitService) Split(ctx context.Context, documentID string, detailIDs []string, actorID string) (string, error) {
	if len(detailIDs) == 0 {
		return "", errors.InvalidInput("detail_ids", "select at least one item to split")
	}

	source, err := s.requests.GetByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	if source.Status == workflow.PRStatusVoided {
		return "", errors.New(errors.ErrCodeConflict, "cannot split a voided purchase request")
	}

	byID := make(map[string]*repository.PurchaseRequestDetail, len(source.Items))
	for _, item := range source.Items {
		if item.ID != nil {
			byID[*item.ID] = item
		}
	}

	selected := make([]*repository.PurchaseRequestDetail, 0, len(detailIDs))
	for _, id := range detailIDs {
		item, ok := byID[id]
		if !ok {
			return "", errors.NotFound("purchase_request_detail", id)
		}
		selected = append(selected, item)
	}

	stages, err := s.stages.ListByWorkflow(ctx, source.WorkflowID)
	if err != nil {
		return "", err
	}
	if len(stages) < 2 {
		return "", errors.New(errors.ErrCodeConflict, "workflow has no configured stages")
	}

	newPR := &repository.PurchaseRequest{
		DocumentNo:   newDocumentNo(),
		WorkflowID:   source.WorkflowID,
		Status:       workflow.PRStatusDraft,
		StateRole:    string(workflow.RoleCreate),
		CurrentStage: stages[0].Name,
		NextStage:    stages[1].Name,
		Department:   source.Department,
		Requestor:    source.Requestor,
		Currency:     source.Currency,
		Description:  source.Description,
		CreatedBy:    &actorID,
	}
	for _, item := range selected {
		clone := &repository.PurchaseRequestDetail{
			ProductID:          item.ProductID,
			ProductName:        item.ProductName,
			CategoryName:       item.CategoryName,
			RequestedQty:       item.RequestedQty,
			RequestUnit:        item.RequestUnit,
			UnitPrice:          item.UnitPrice,
			DiscountRate:       item.DiscountRate,
			TaxRate:            item.TaxRate,
			DiscountAmount:     item.DiscountAmount,
			NetAmount:          item.NetAmount,
			TaxAmount:          item.TaxAmount,
			TotalAmount:        item.TotalAmount,
			CurrentStageStatus: workflow.StatusPending,
		}
		newPR.TotalAmount += clone.TotalAmount
		newPR.Items = append(newPR.Items, clone)
	}

	sourceHist := &repository.WorkflowHistoryEntry{
		UserID:        actorID,
		Action:        "split_out",
		PreviousStage: source.CurrentStage,
		NextStage:     source.CurrentStage,
		Metadata:      map[string]interface{}{"detail_ids": detailIDs, "new_document_no": newPR.DocumentNo},
	}
	newHist := &repository.WorkflowHistoryEntry{
		UserID:        actorID,
		Action:        "split_in",
		PreviousStage: "",
		NextStage:     newPR.CurrentStage,
		Metadata:      map[string]interface{}{"source_document_no": source.DocumentNo},
	}

	if err := s.requests.Split(ctx, source, detailIDs, newPR, sourceHist, newHist); err != nil {
		return "", err
	}

	s.metrics.Splits.Inc()
	s.log.Info().
		Str("request_id", source.ID).
		Str("new_request_id", newPR.ID).
		Str("new_document_no", newPR.DocumentNo).
		Int("item_count", len(selected)).
		Msg("Purchase request split")

	if s.notifier != nil {
		s.notifier.PublishRequestEvent("request_split", source.ID, actorID,
			[]string{source.Requestor}, map[string]interface{}{
				"new_document_id": newPR.ID,
				"new_document_no": newPR.DocumentNo,
				"item_count":      len(selected),
			})
	}

	return newPR.ID, nil
}
