package service

import (
	"context"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/repository"
)

// CommentService manages comments attached to purchase requests. Comments are
// workflow-adjacent: they reference workflow documents but never drive state.
type CommentService struct {
	comments CommentStore
	requests RequestStore
	log      *logger.Logger
}

// NewCommentService creates a new CommentService.
func NewCommentService(comments CommentStore, requests RequestStore, log *logger.Logger) *CommentService {
	return &CommentService{comments: comments, requests: requests, log: log}
}

// CreateComment adds a comment to an existing purchase request.
func (s *CommentService) CreateComment(ctx context.Context, c *repository.Comment) (*repository.Comment, error) {
	if c.Message == "" && len(c.Attachments) == 0 {
		return nil, errors.InvalidInput("message", "a comment needs a message or an attachment")
	}
	if _, err := s.requests.GetByID(ctx, c.RequestID); err != nil {
		return nil, err
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns all comments on a request, oldest first.
func (s *CommentService) ListComments(ctx context.Context, requestID string) ([]*repository.Comment, error) {
	return s.comments.ListByRequest(ctx, requestID)
}

// UpdateComment edits a comment. Only the author may edit their comment.
func (s *CommentService) UpdateComment(ctx context.Context, id, userID, message string, attachments []repository.CommentAttachment) (*repository.Comment, error) {
	current, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "only the author can edit a comment")
	}
	if message == "" && len(attachments) == 0 {
		return nil, errors.InvalidInput("message", "a comment needs a message or an attachment")
	}

	current.Message = message
	current.Attachments = attachments
	if err := s.comments.Update(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// DeleteComment removes a comment. Only the author may delete their comment.
func (s *CommentService) DeleteComment(ctx context.Context, id, userID string) error {
	current, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.UserID != userID {
		return errors.New(errors.ErrCodeUnauthorized, "only the author can delete a comment")
	}
	return s.comments.Delete(ctx, id)
}
