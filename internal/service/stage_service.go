package service

import (
	"context"
	"fmt"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// Terminal marker stage appended to every workflow. It carries no
// configuration and cannot be deleted, reordered or updated.
const terminalStageName = "completed"

// StageService enforces the stage configuration state machine: the first
// stage is creator-only, the last stage is a fixed terminal marker, and only
// the middle is configurable.
type StageService struct {
	stages  StageStore
	history HistoryStore
	log     *logger.Logger
}

// NewStageService creates a new StageService.
func NewStageService(stages StageStore, history HistoryStore, log *logger.Logger) *StageService {
	return &StageService{stages: stages, history: history, log: log}
}

// InitWorkflow creates the fixed skeleton of a new workflow: the creation
// stage and the terminal marker. Middle stages are inserted afterwards.
func (s *StageService) InitWorkflow(ctx context.Context, workflowID, actorID string) ([]*repository.Stage, error) {
	existing, err := s.stages.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, errors.New(errors.ErrCodeConflict, "workflow already has stages")
	}

	first := &repository.Stage{
		WorkflowID: workflowID,
		Name:       "request-creation",
		Position:   0,
		Role:       string(workflow.RoleCreate),
		AvailableActions: map[string]repository.StageActionConfig{
			"submit": {IsActive: true},
		},
		CreatorAccess: []string{"items", "quantities", "attachments"},
	}
	last := &repository.Stage{
		WorkflowID: workflowID,
		Name:       terminalStageName,
		Position:   1,
		Role:       string(workflow.RoleViewOnly),
	}

	if err := s.stages.Insert(ctx, first); err != nil {
		return nil, err
	}
	if err := s.stages.Insert(ctx, last); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, workflowID, actorID, "workflow_initialized", "", nil)

	s.log.Info().Str("workflow_id", workflowID).Str("actor", actorID).Msg("Workflow initialized")
	return []*repository.Stage{first, last}, nil
}

// ListStages returns the workflow's stages in position order.
func (s *StageService) ListStages(ctx context.Context, workflowID string) ([]*repository.Stage, error) {
	return s.stages.ListByWorkflow(ctx, workflowID)
}

// InsertStage adds a configurable middle stage. Stages can only be inserted
// strictly between the first and last positions.
func (s *StageService) InsertStage(ctx context.Context, stage *repository.Stage, actorID string) (*repository.Stage, error) {
	existing, err := s.stages.ListByWorkflow(ctx, stage.WorkflowID)
	if err != nil {
		return nil, err
	}
	if len(existing) < 2 {
		return nil, errors.New(errors.ErrCodeConflict, "workflow skeleton missing; initialize the workflow first")
	}
	if stage.Name == "" {
		return nil, errors.InvalidInput("name", "stage name is required")
	}
	for _, st := range existing {
		if st.Name == stage.Name {
			return nil, errors.New(errors.ErrCodeConflict, fmt.Sprintf("stage %q already exists", stage.Name))
		}
	}
	if stage.Position < 1 || stage.Position > len(existing)-1 {
		return nil, errors.InvalidInput("position",
			fmt.Sprintf("stage must be inserted between positions 1 and %d", len(existing)-1))
	}
	if workflow.ParseRole(stage.Role) == workflow.RoleUnknown {
		return nil, errors.InvalidInput("role", "unknown stage role")
	}
	if err := validateSLA(stage); err != nil {
		return nil, err
	}

	// HOD routing is a capability switch, not a list filter: it replaces the
	// explicit assignee list entirely.
	if stage.IsHOD {
		stage.AssignedUsers = nil
	}
	// creator_access is meaningful only on the first stage.
	stage.CreatorAccess = nil

	if err := s.stages.Insert(ctx, stage); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, stage.WorkflowID, actorID, "stage_inserted", stage.Name,
		map[string]interface{}{"position": stage.Position})

	s.log.Info().
		Str("workflow_id", stage.WorkflowID).
		Str("stage", stage.Name).
		Int("position", stage.Position).
		Msg("Workflow stage inserted")
	return stage, nil
}

// UpdateStage reconfigures a middle stage or the first stage's creator
// access. The terminal stage accepts no configuration.
func (s *StageService) UpdateStage(ctx context.Context, stage *repository.Stage, actorID string) (*repository.Stage, error) {
	existing, err := s.stages.ListByWorkflow(ctx, stage.WorkflowID)
	if err != nil {
		return nil, err
	}

	current := findStageByID(existing, stage.ID)
	if current == nil {
		return nil, errors.NotFound("workflow_stage", stage.ID)
	}
	if current.Position == len(existing)-1 {
		return nil, errors.New(errors.ErrCodeConflict, "the terminal stage accepts no configuration")
	}
	if current.Position == 0 {
		// The first stage is creator-only submission; it never approves.
		for name := range stage.AvailableActions {
			if name != "submit" {
				return nil, errors.New(errors.ErrCodeConflict,
					"the first stage only supports the submit action")
			}
		}
		stage.Role = string(workflow.RoleCreate)
	} else {
		stage.CreatorAccess = nil
		if workflow.ParseRole(stage.Role) == workflow.RoleUnknown {
			return nil, errors.InvalidInput("role", "unknown stage role")
		}
	}
	if err := validateSLA(stage); err != nil {
		return nil, err
	}
	if stage.IsHOD {
		stage.AssignedUsers = nil
	}

	stage.Position = current.Position
	if err := s.stages.Update(ctx, stage); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, stage.WorkflowID, actorID, "stage_updated", stage.Name,
		map[string]interface{}{"is_hod": stage.IsHOD})

	s.log.Info().
		Str("workflow_id", stage.WorkflowID).
		Str("stage", stage.Name).
		Bool("is_hod", stage.IsHOD).
		Msg("Workflow stage updated")
	return stage, nil
}

// ReorderStage moves a middle stage to a new middle position. The first and
// last stages are fixed and cannot move or be displaced.
func (s *StageService) ReorderStage(ctx context.Context, workflowID, stageID string, newPosition int, actorID string) error {
	existing, err := s.stages.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	current := findStageByID(existing, stageID)
	if current == nil {
		return errors.NotFound("workflow_stage", stageID)
	}
	if current.Position == 0 || current.Position == len(existing)-1 {
		return errors.New(errors.ErrCodeConflict, "the first and last stages cannot be reordered")
	}
	if newPosition < 1 || newPosition > len(existing)-2 {
		return errors.InvalidInput("position",
			fmt.Sprintf("stages can only be moved between positions 1 and %d", len(existing)-2))
	}

	oldPosition := current.Position
	if err := s.stages.Reorder(ctx, workflowID, stageID, newPosition); err != nil {
		return err
	}
	s.appendAudit(ctx, workflowID, actorID, "stage_reordered", current.Name,
		map[string]interface{}{"from": oldPosition, "to": newPosition})
	return nil
}

// DeleteStage removes a middle stage. The first and last stages are
// structural and cannot be deleted.
func (s *StageService) DeleteStage(ctx context.Context, workflowID, stageID, actorID string) error {
	existing, err := s.stages.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	current := findStageByID(existing, stageID)
	if current == nil {
		return errors.NotFound("workflow_stage", stageID)
	}
	if current.Position == 0 || current.Position == len(existing)-1 {
		return errors.New(errors.ErrCodeConflict, "the first and last stages cannot be deleted")
	}

	if err := s.stages.Delete(ctx, workflowID, stageID); err != nil {
		return err
	}

	s.appendAudit(ctx, workflowID, actorID, "stage_deleted", current.Name, nil)

	s.log.Info().
		Str("workflow_id", workflowID).
		Str("stage", current.Name).
		Msg("Workflow stage deleted")
	return nil
}

// appendAudit records a configuration change in the workflow history,
// keyed by the workflow id. Audit failures are logged, not surfaced.
func (s *StageService) appendAudit(ctx context.Context, workflowID, actorID, action, stageName string, metadata map[string]interface{}) {
	entry := &repository.WorkflowHistoryEntry{
		RequestID: workflowID,
		UserID:    actorID,
		Action:    action,
		NextStage: stageName,
		Metadata:  metadata,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.log.Warn().
			Err(err).
			Str("workflow_id", workflowID).
			Str("action", action).
			Msg("Failed to append stage audit entry")
	}
}

func validateSLA(stage *repository.Stage) error {
	if stage.SLAValue < 0 {
		return errors.InvalidInput("sla_value", "SLA must not be negative")
	}
	if stage.SLAValue > 0 && stage.SLAUnit != "hours" && stage.SLAUnit != "days" {
		return errors.InvalidInput("sla_unit", "SLA unit must be hours or days")
	}
	return nil
}

func findStageByID(stages []*repository.Stage, id string) *repository.Stage {
	for _, st := range stages {
		if st.ID == id {
			return st
		}
	}
	return nil
}
