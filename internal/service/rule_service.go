package service

import (
	"context"
	"fmt"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

// RuleService manages routing rules: conditional stage skips and redirects
// evaluated in a fixed, explicit order.
type RuleService struct {
	rules  RuleStore
	stages StageStore
	log    *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(rules RuleStore, stages StageStore, log *logger.Logger) *RuleService {
	return &RuleService{rules: rules, stages: stages, log: log}
}

// ListRules returns the workflow's rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, workflowID string) ([]*repository.RoutingRuleRecord, error) {
	return s.rules.ListByWorkflow(ctx, workflowID)
}

// CreateRule validates and appends a rule at the end of the evaluation order.
func (s *RuleService) CreateRule(ctx context.Context, rule *repository.RoutingRuleRecord) (*repository.RoutingRuleRecord, error) {
	if err := s.validateRule(ctx, rule, true); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", rule.WorkflowID).
		Str("rule", rule.Name).
		Str("trigger_stage", rule.TriggerStage).
		Msg("Routing rule created")
	return rule, nil
}

// UpdateRule persists changes to a rule. Changing the condition's field
// resets the operator to eq and clears all recorded values: a value captured
// for one field type carries no meaning for another.
func (s *RuleService) UpdateRule(ctx context.Context, rule *repository.RoutingRuleRecord) (*repository.RoutingRuleRecord, error) {
	current, err := s.rules.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.WorkflowID = current.WorkflowID

	fieldChanged := rule.Condition.Field != current.Condition.Field
	if fieldChanged {
		rule.Condition.Operator = workflow.OpEq
		rule.Condition.Value = nil
		rule.Condition.MinValue = ""
		rule.Condition.MaxValue = ""
	}

	// A rule whose field just changed is saved in its reset state; the values
	// arrive with a follow-up update. An incomplete condition never matches.
	if err := s.validateRule(ctx, rule, !fieldChanged); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", rule.WorkflowID).
		Str("rule", rule.Name).
		Msg("Routing rule updated")
	return rule, nil
}

// DeleteRule removes a rule; later rules keep their relative order.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}

func (s *RuleService) validateRule(ctx context.Context, rule *repository.RoutingRuleRecord, requireValues bool) error {
	if rule.Name == "" {
		return errors.InvalidInput("name", "rule name is required")
	}
	if rule.TriggerStage == "" {
		return errors.InvalidInput("trigger_stage", "trigger stage is required")
	}
	if _, err := s.stages.GetByName(ctx, rule.WorkflowID, rule.TriggerStage); err != nil {
		return errors.InvalidInput("trigger_stage",
			fmt.Sprintf("stage %q does not exist in this workflow", rule.TriggerStage))
	}

	switch rule.Condition.Field {
	case workflow.FieldTotalAmount:
		switch rule.Condition.Operator {
		case workflow.OpBetween:
			if requireValues && (rule.Condition.MinValue == "" || rule.Condition.MaxValue == "") {
				return errors.InvalidInput("condition", "between requires min_value and max_value")
			}
		case workflow.OpEq, workflow.OpGt, workflow.OpLt, workflow.OpGte, workflow.OpLte:
			if requireValues && len(rule.Condition.Value) == 0 {
				return errors.InvalidInput("condition", "a comparison value is required")
			}
		default:
			return errors.InvalidInput("condition", fmt.Sprintf("unknown operator %q", rule.Condition.Operator))
		}

	case workflow.FieldDepartment, workflow.FieldCategory:
		if requireValues && len(rule.Condition.Value) == 0 {
			return errors.InvalidInput("condition", "at least one value is required")
		}

	default:
		return errors.InvalidInput("condition", fmt.Sprintf("unknown field %q", rule.Condition.Field))
	}

	switch rule.Action.Type {
	case workflow.ActionSkipStage, workflow.ActionNextStage:
		if rule.Action.TargetStage == "" {
			return errors.InvalidInput("action", "target stage is required")
		}
		if _, err := s.stages.GetByName(ctx, rule.WorkflowID, rule.Action.TargetStage); err != nil {
			return errors.InvalidInput("action",
				fmt.Sprintf("target stage %q does not exist in this workflow", rule.Action.TargetStage))
		}
	default:
		return errors.InvalidInput("action", fmt.Sprintf("unknown action type %q", rule.Action.Type))
	}

	return nil
}
