package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/errors"
)

// RequestRepository handles purchase request data operations.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a purchase request with its line items in one transaction.
func (r *RequestRepository) Create(ctx context.Context, pr *PurchaseRequest) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO purchase_requests
			    (document_no, workflow_id, status, state_role,
			     previous_stage, current_stage, next_stage,
			     department, requestor, currency, description,
			     total_amount, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			pr.DocumentNo,
			pr.WorkflowID,
			pr.Status,
			pr.StateRole,
			pr.PreviousStage,
			pr.CurrentStage,
			pr.NextStage,
			pr.Department,
			pr.Requestor,
			pr.Currency,
			pr.Description,
			pr.TotalAmount,
			pr.CreatedBy,
		).Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create purchase request")
		}

		return r.insertItems(ctx, tx, pr)
	})
}

func (r *RequestRepository) insertItems(ctx context.Context, tx pgx.Tx, pr *PurchaseRequest) error {
	query := `
		INSERT INTO purchase_request_details
		    (request_id, product_id, product_name, category_name,
		     requested_qty, approved_qty, foc_qty, request_unit, approved_unit,
		     vendor_id, unit_price, discount_rate, tax_rate,
		     discount_amount, net_amount, tax_amount, total_amount,
		     current_stage_status, stage_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at
	`

	for _, item := range pr.Items {
		item.RequestID = pr.ID

		var id string
		err := tx.QueryRow(ctx, query,
			item.RequestID,
			item.ProductID,
			item.ProductName,
			item.CategoryName,
			item.RequestedQty,
			item.ApprovedQty,
			item.FocQty,
			item.RequestUnit,
			item.ApprovedUnit,
			item.VendorID,
			item.UnitPrice,
			item.DiscountRate,
			item.TaxRate,
			item.DiscountAmount,
			item.NetAmount,
			item.TaxAmount,
			item.TotalAmount,
			item.CurrentStageStatus,
			item.StageMessage,
		).Scan(&id, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create purchase request detail")
		}
		item.ID = &id
	}
	return nil
}

// GetByID retrieves a purchase request with its items and workflow history.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*PurchaseRequest, error) {
	query := `
		SELECT id, document_no, workflow_id, status, state_role,
		       previous_stage, current_stage, next_stage,
		       department, requestor, currency, description,
		       total_amount, created_by, created_at, updated_by, updated_at
		FROM purchase_requests
		WHERE id = $1
	`

	pr := &PurchaseRequest{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&pr.ID,
		&pr.DocumentNo,
		&pr.WorkflowID,
		&pr.Status,
		&pr.StateRole,
		&pr.PreviousStage,
		&pr.CurrentStage,
		&pr.NextStage,
		&pr.Department,
		&pr.Requestor,
		&pr.Currency,
		&pr.Description,
		&pr.TotalAmount,
		&pr.CreatedBy,
		&pr.CreatedAt,
		&pr.UpdatedBy,
		&pr.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("purchase_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get purchase request")
	}

	if pr.Items, err = r.getItems(ctx, id); err != nil {
		return nil, err
	}
	if pr.History, err = getHistory(ctx, r.db, id); err != nil {
		return nil, err
	}
	return pr, nil
}

func (r *RequestRepository) getItems(ctx context.Context, requestID string) ([]*PurchaseRequestDetail, error) {
	query := `
		SELECT id, request_id, product_id, product_name, category_name,
		       requested_qty, approved_qty, foc_qty, request_unit, approved_unit,
		       vendor_id, unit_price, discount_rate, tax_rate,
		       discount_amount, net_amount, tax_amount, total_amount,
		       current_stage_status, stage_message, created_at, updated_at
		FROM purchase_request_details
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get purchase request details")
	}
	defer rows.Close()

	var items []*PurchaseRequestDetail
	for rows.Next() {
		item := &PurchaseRequestDetail{}
		var id string
		err := rows.Scan(
			&id,
			&item.RequestID,
			&item.ProductID,
			&item.ProductName,
			&item.CategoryName,
			&item.RequestedQty,
			&item.ApprovedQty,
			&item.FocQty,
			&item.RequestUnit,
			&item.ApprovedUnit,
			&item.VendorID,
			&item.UnitPrice,
			&item.DiscountRate,
			&item.TaxRate,
			&item.DiscountAmount,
			&item.NetAmount,
			&item.TaxAmount,
			&item.TotalAmount,
			&item.CurrentStageStatus,
			&item.StageMessage,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchase request detail")
		}
		item.ID = &id
		items = append(items, item)
	}
	return items, nil
}

// ListFilter narrows a purchase request listing.
type ListFilter struct {
	Status     *string
	StateRole  *string
	Department *string
	Limit      int
	Offset     int
}

// List returns purchase request headers matching the filter plus the total
// match count for pagination. Items are not hydrated.
func (r *RequestRepository) List(ctx context.Context, f ListFilter) ([]*PurchaseRequest, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0

	addArg := func(clause string, v any) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.Status != nil {
		addArg("status", *f.Status)
	}
	if f.StateRole != nil {
		addArg("state_role", *f.StateRole)
	}
	if f.Department != nil {
		addArg("department", *f.Department)
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM purchase_requests" + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count purchase requests")
	}

	query := `
		SELECT id, document_no, workflow_id, status, state_role,
		       previous_stage, current_stage, next_stage,
		       department, requestor, currency, description,
		       total_amount, created_by, created_at, updated_by, updated_at
		FROM purchase_requests` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list purchase requests")
	}
	defer rows.Close()

	var prs []*PurchaseRequest
	for rows.Next() {
		pr := &PurchaseRequest{}
		err := rows.Scan(
			&pr.ID,
			&pr.DocumentNo,
			&pr.WorkflowID,
			&pr.Status,
			&pr.StateRole,
			&pr.PreviousStage,
			&pr.CurrentStage,
			&pr.NextStage,
			&pr.Department,
			&pr.Requestor,
			&pr.Currency,
			&pr.Description,
			&pr.TotalAmount,
			&pr.CreatedBy,
			&pr.CreatedAt,
			&pr.UpdatedBy,
			&pr.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchase request")
		}
		prs = append(prs, pr)
	}
	return prs, total, nil
}

// ApplyTransition persists a workflow transition as a single transaction:
// the request header's status and stage pointers, every item's stage status,
// message and negotiated terms, and the history entry. Either everything
// lands or nothing does.
func (r *RequestRepository) ApplyTransition(ctx context.Context, pr *PurchaseRequest, hist *WorkflowHistoryEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		headerQuery := `
			UPDATE purchase_requests
			SET status         = $2,
			    state_role     = $3,
			    previous_stage = $4,
			    current_stage  = $5,
			    next_stage     = $6,
			    total_amount   = $7,
			    updated_by     = $8,
			    updated_at     = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, headerQuery,
			pr.ID,
			pr.Status,
			pr.StateRole,
			pr.PreviousStage,
			pr.CurrentStage,
			pr.NextStage,
			pr.TotalAmount,
			pr.UpdatedBy,
		).Scan(&pr.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.NotFound("purchase_request", pr.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update purchase request")
		}

		itemQuery := `
			UPDATE purchase_request_details
			SET current_stage_status = $2,
			    stage_message        = $3,
			    approved_qty         = $4,
			    approved_unit        = $5,
			    vendor_id            = $6,
			    unit_price           = $7,
			    discount_rate        = $8,
			    tax_rate             = $9,
			    discount_amount      = $10,
			    net_amount           = $11,
			    tax_amount           = $12,
			    total_amount         = $13,
			    updated_at           = NOW()
			WHERE id = $1 AND request_id = $14
		`
		for _, item := range pr.Items {
			if item.ID == nil {
				return errors.InvalidInput("details", "unsaved item cannot participate in a stage transition")
			}
			tag, err := tx.Exec(ctx, itemQuery,
				*item.ID,
				item.CurrentStageStatus,
				item.StageMessage,
				item.ApprovedQty,
				item.ApprovedUnit,
				item.VendorID,
				item.UnitPrice,
				item.DiscountRate,
				item.TaxRate,
				item.DiscountAmount,
				item.NetAmount,
				item.TaxAmount,
				item.TotalAmount,
				pr.ID,
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update purchase request detail")
			}
			if tag.RowsAffected() == 0 {
				return errors.NotFound("purchase_request_detail", *item.ID)
			}
		}

		return appendHistoryTx(ctx, tx, hist)
	})
}

// Split marks the selected source items rejected and materializes newPR with
// copies of those items, all in one transaction. Both documents get a history
// entry recording the split.
func (r *RequestRepository) Split(
	ctx context.Context,
	source *PurchaseRequest,
	detailIDs []string,
	newPR *PurchaseRequest,
	sourceHist, newHist *WorkflowHistoryEntry,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		markQuery := `
			UPDATE purchase_request_details
			SET current_stage_status = 'rejected',
			    updated_at           = NOW()
			WHERE id = $1 AND request_id = $2
		`
		for _, id := range detailIDs {
			tag, err := tx.Exec(ctx, markQuery, id, source.ID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to flag split item")
			}
			if tag.RowsAffected() == 0 {
				return errors.NotFound("purchase_request_detail", id)
			}
		}

		headerQuery := `
			INSERT INTO purchase_requests
			    (document_no, workflow_id, status, state_role,
			     previous_stage, current_stage, next_stage,
			     department, requestor, currency, description,
			     total_amount, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, headerQuery,
			newPR.DocumentNo,
			newPR.WorkflowID,
			newPR.Status,
			newPR.StateRole,
			newPR.PreviousStage,
			newPR.CurrentStage,
			newPR.NextStage,
			newPR.Department,
			newPR.Requestor,
			newPR.Currency,
			newPR.Description,
			newPR.TotalAmount,
			newPR.CreatedBy,
		).Scan(&newPR.ID, &newPR.CreatedAt, &newPR.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create split purchase request")
		}

		if err := r.insertItems(ctx, tx, newPR); err != nil {
			return err
		}

		sourceHist.RequestID = source.ID
		newHist.RequestID = newPR.ID
		if err := appendHistoryTx(ctx, tx, sourceHist); err != nil {
			return err
		}
		return appendHistoryTx(ctx, tx, newHist)
	})
}
