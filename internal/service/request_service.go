package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// RequestService handles purchase request business logic outside of workflow
// transitions: creation, retrieval and listing.
type RequestService struct {
	requests RequestStore
	stages   StageStore
	history  HistoryStore
	log      *logger.Logger
}

// NewRequestService creates a new RequestService.
func NewRequestService(requests RequestStore, stages StageStore, history HistoryStore, log *logger.Logger) *RequestService {
	return &RequestService{requests: requests, stages: stages, history: history, log: log}
}

// CreateRequestRequest is the payload for creating a purchase request.
type CreateRequestRequest struct {
	WorkflowID  string
	Department  string
	Requestor   string
	Currency    string
	Description *string
	CreatedBy   string
	Items       []*CreateItemRequest
}

// CreateItemRequest is one line item of a create request.
type CreateItemRequest struct {
	ProductID    string
	ProductName  string
	CategoryName string
	RequestedQty float64
	RequestUnit  string
	UnitPrice    int64
	DiscountRate float64
	TaxRate      float64
}

// CreateRequest validates the payload, derives all money fields and creates
// the document in draft at the workflow's first stage.
func (s *RequestService) CreateRequest(ctx context.Context, req *CreateRequestRequest) (*repository.PurchaseRequest, error) {
	if req.WorkflowID == "" {
		return nil, errors.InvalidInput("workflow_id", "workflow is required")
	}
	if len(req.Items) < 1 {
		return nil, errors.InvalidInput("items", "purchase request must have at least 1 item")
	}
	if len(req.Currency) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}

	stages, err := s.stages.ListByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if len(stages) < 2 {
		return nil, errors.New(errors.ErrCodeConflict, "workflow has no configured stages")
	}

	pr := &repository.PurchaseRequest{
		DocumentNo:   newDocumentNo(),
		WorkflowID:   req.WorkflowID,
		Status:       workflow.PRStatusDraft,
		StateRole:    string(workflow.RoleCreate),
		CurrentStage: stages[0].Name,
		NextStage:    stages[1].Name,
		Department:   req.Department,
		Requestor:    req.Requestor,
		Currency:     strings.ToUpper(req.Currency),
		Description:  req.Description,
		CreatedBy:    &req.CreatedBy,
	}

	for _, itemReq := range req.Items {
		if itemReq.RequestedQty <= 0 {
			return nil, errors.InvalidInput("requested_qty", "quantity must be positive")
		}
		if itemReq.UnitPrice < 0 {
			return nil, errors.InvalidInput("unit_price", "unit price cannot be negative")
		}
		if itemReq.DiscountRate < 0 || itemReq.DiscountRate > 100 {
			return nil, errors.InvalidInput("discount_rate", "discount must be between 0 and 100")
		}
		if itemReq.TaxRate < 0 || itemReq.TaxRate > 100 {
			return nil, errors.InvalidInput("tax_rate", "tax rate must be between 0 and 100")
		}

		amounts := workflow.DeriveAmounts(itemReq.RequestedQty, itemReq.UnitPrice, itemReq.DiscountRate, itemReq.TaxRate)
		item := &repository.PurchaseRequestDetail{
			ProductID:          itemReq.ProductID,
			ProductName:        itemReq.ProductName,
			CategoryName:       itemReq.CategoryName,
			RequestedQty:       itemReq.RequestedQty,
			RequestUnit:        itemReq.RequestUnit,
			UnitPrice:          itemReq.UnitPrice,
			DiscountRate:       itemReq.DiscountRate,
			TaxRate:            itemReq.TaxRate,
			DiscountAmount:     amounts.DiscountAmount,
			NetAmount:          amounts.NetAmount,
			TaxAmount:          amounts.TaxAmount,
			TotalAmount:        amounts.TotalPrice,
			CurrentStageStatus: workflow.StatusPending,
		}
		pr.TotalAmount += item.TotalAmount
		pr.Items = append(pr.Items, item)
	}

	if err := s.requests.Create(ctx, pr); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", pr.ID).
		Str("document_no", pr.DocumentNo).
		Str("workflow_id", pr.WorkflowID).
		Str("department", pr.Department).
		Int64("total_amount", pr.TotalAmount).
		Int("item_count", len(pr.Items)).
		Msg("Purchase request created")

	return pr, nil
}

// GetRequest retrieves a purchase request with items and history.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*repository.PurchaseRequest, error) {
	return s.requests.GetByID(ctx, id)
}

// GetRequestHistory returns the audit trail of a purchase request, oldest
// entry first.
func (s *RequestService) GetRequestHistory(ctx context.Context, id string) ([]*repository.WorkflowHistoryEntry, error) {
	if _, err := s.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.GetByRequestID(ctx, id)
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// RequestPage is a page of purchase request headers.
type RequestPage struct {
	Items      []*repository.PurchaseRequest
	Pagination Pagination
}

// ListRequests lists purchase requests with filtering and pagination.
func (s *RequestService) ListRequests(ctx context.Context, status, stateRole, department *string, page, pageSize int) (*RequestPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	items, total, err := s.requests.List(ctx, repository.ListFilter{
		Status:     status,
		StateRole:  stateRole,
		Department: department,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}

	return &RequestPage{
		Items:      items,
		Pagination: Pagination{Page: page, PageSize: pageSize, Total: total},
	}, nil
}

// ListPendingApprovals lists requests awaiting the given stage role, i.e.
// in-progress documents whose current stage is acted on by that role.
func (s *RequestService) ListPendingApprovals(ctx context.Context, role string, page, pageSize int) (*RequestPage, error) {
	if workflow.ParseRole(role) == workflow.RoleUnknown {
		return nil, errors.InvalidInput("role", "unknown stage role")
	}
	status := workflow.PRStatusInProgress
	return s.ListRequests(ctx, &status, &role, nil, page, pageSize)
}

// newDocumentNo generates a human-readable document number. Uniqueness is
// backed by the random suffix plus the unique constraint on the column.
func newDocumentNo() string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("PR-%s-%s", time.Now().Format("0601"), suffix)
}
