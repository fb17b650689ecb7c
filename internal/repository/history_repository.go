package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/errors"
)

// HistoryRepository appends and reads the immutable workflow history log.
// Append is the only mutation; entries are never updated or deleted.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts one history entry outside a wider transaction.
func (r *HistoryRepository) Append(ctx context.Context, entry *WorkflowHistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	return r.db.QueryRow(ctx, historyInsertQuery,
		entry.RequestID,
		entry.UserID,
		entry.Action,
		entry.PreviousStage,
		entry.NextStage,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// GetByRequestID returns the full workflow log for a request, oldest first.
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID string) ([]*WorkflowHistoryEntry, error) {
	return getHistory(ctx, r.db, requestID)
}

const historyInsertQuery = `
	INSERT INTO workflow_history
	    (request_id, user_id, action, previous_stage, next_stage, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at
`

// appendHistoryTx inserts a history entry inside an existing transaction so
// that the log lands atomically with the transition it records.
func appendHistoryTx(ctx context.Context, tx pgx.Tx, entry *WorkflowHistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	err := tx.QueryRow(ctx, historyInsertQuery,
		entry.RequestID,
		entry.UserID,
		entry.Action,
		entry.PreviousStage,
		entry.NextStage,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append workflow history")
	}
	return nil
}

func getHistory(ctx context.Context, db *database.DB, requestID string) ([]*WorkflowHistoryEntry, error) {
	query := `
		SELECT id, request_id, user_id, action, previous_stage, next_stage, metadata, created_at
		FROM workflow_history
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow history")
	}
	defer rows.Close()

	var entries []*WorkflowHistoryEntry
	for rows.Next() {
		entry := &WorkflowHistoryEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.UserID,
			&entry.Action,
			&entry.PreviousStage,
			&entry.NextStage,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal history metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
