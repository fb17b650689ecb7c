package service

import (
	"context"

	"github.com/quartermill/be-pr-workflow/internal/repository"
)

// Store interfaces consumed by the services. The pgx repositories satisfy
// them; tests substitute in-memory fakes.

// RequestStore persists purchase requests and their transitions.
type RequestStore interface {
	Create(ctx context.Context, pr *repository.PurchaseRequest) error
	GetByID(ctx context.Context, id string) (*repository.PurchaseRequest, error)
	List(ctx context.Context, f repository.ListFilter) ([]*repository.PurchaseRequest, int64, error)
	ApplyTransition(ctx context.Context, pr *repository.PurchaseRequest, hist *repository.WorkflowHistoryEntry) error
	Split(ctx context.Context, source *repository.PurchaseRequest, detailIDs []string, newPR *repository.PurchaseRequest, sourceHist, newHist *repository.WorkflowHistoryEntry) error
}

// StageStore persists the ordered stage configuration of a workflow.
type StageStore interface {
	ListByWorkflow(ctx context.Context, workflowID string) ([]*repository.Stage, error)
	GetByName(ctx context.Context, workflowID, name string) (*repository.Stage, error)
	Insert(ctx context.Context, stage *repository.Stage) error
	Update(ctx context.Context, stage *repository.Stage) error
	Reorder(ctx context.Context, workflowID, stageID string, newPosition int) error
	Delete(ctx context.Context, workflowID, stageID string) error
}

// RuleStore persists routing rules in evaluation order.
type RuleStore interface {
	ListByWorkflow(ctx context.Context, workflowID string) ([]*repository.RoutingRuleRecord, error)
	GetByID(ctx context.Context, id string) (*repository.RoutingRuleRecord, error)
	Create(ctx context.Context, rule *repository.RoutingRuleRecord) error
	Update(ctx context.Context, rule *repository.RoutingRuleRecord) error
	Delete(ctx context.Context, id string) error
}

// HistoryStore reads and appends the workflow history log.
type HistoryStore interface {
	Append(ctx context.Context, entry *repository.WorkflowHistoryEntry) error
	GetByRequestID(ctx context.Context, requestID string) ([]*repository.WorkflowHistoryEntry, error)
}

// CommentStore persists purchase request comments.
type CommentStore interface {
	Create(ctx context.Context, c *repository.Comment) error
	GetByID(ctx context.Context, id string) (*repository.Comment, error)
	ListByRequest(ctx context.Context, requestID string) ([]*repository.Comment, error)
	Update(ctx context.Context, c *repository.Comment) error
	Delete(ctx context.Context, id string) error
}

// Notifier publishes workflow events. Publishing is fire-and-forget.
type Notifier interface {
	PublishRequestEvent(eventType, requestID, actorID string, recipients []string, payload map[string]interface{})
}
