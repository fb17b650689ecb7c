package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/errors"
)

// CommentRepository handles comments attached to purchase requests.
type CommentRepository struct {
	db *database.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *database.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment.
func (r *CommentRepository) Create(ctx context.Context, c *Comment) error {
	attachmentsJSON, err := json.Marshal(c.Attachments)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attachments")
	}

	query := `
		INSERT INTO purchase_request_comments
		    (request_id, user_id, message, attachments)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		c.RequestID,
		c.UserID,
		c.Message,
		attachmentsJSON,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create comment")
	}
	return nil
}

// GetByID retrieves one comment.
func (r *CommentRepository) GetByID(ctx context.Context, id string) (*Comment, error) {
	query := `
		SELECT id, request_id, user_id, message, attachments, created_at, updated_at
		FROM purchase_request_comments
		WHERE id = $1
	`

	c := &Comment{}
	var attachmentsJSON []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.RequestID,
		&c.UserID,
		&c.Message,
		&attachmentsJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("comment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get comment")
	}

	if attachmentsJSON != nil {
		if err := json.Unmarshal(attachmentsJSON, &c.Attachments); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal attachments")
		}
	}
	return c, nil
}

// ListByRequest returns all comments on a request, oldest first.
func (r *CommentRepository) ListByRequest(ctx context.Context, requestID string) ([]*Comment, error) {
	query := `
		SELECT id, request_id, user_id, message, attachments, created_at, updated_at
		FROM purchase_request_comments
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list comments")
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c := &Comment{}
		var attachmentsJSON []byte
		err := rows.Scan(
			&c.ID,
			&c.RequestID,
			&c.UserID,
			&c.Message,
			&attachmentsJSON,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan comment")
		}
		if attachmentsJSON != nil {
			if err := json.Unmarshal(attachmentsJSON, &c.Attachments); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal attachments")
			}
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// Update replaces the message and attachments of a comment.
func (r *CommentRepository) Update(ctx context.Context, c *Comment) error {
	attachmentsJSON, err := json.Marshal(c.Attachments)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attachments")
	}

	query := `
		UPDATE purchase_request_comments
		SET message = $2, attachments = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query, c.ID, c.Message, attachmentsJSON).Scan(&c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("comment", c.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update comment")
	}
	return nil
}

// Delete removes a comment.
func (r *CommentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM purchase_request_comments WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete comment")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("comment", id)
	}
	return nil
}
