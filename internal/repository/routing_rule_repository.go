package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/errors"
)

// RoutingRuleRepository stores routing rules as an explicitly ordered list
// per workflow. The position column is the evaluation order; ListByWorkflow
// always returns rules in that order so first-match-wins semantics survive
// save/load cycles.
type RoutingRuleRepository struct {
	db *database.DB
}

// NewRoutingRuleRepository creates a new RoutingRuleRepository.
func NewRoutingRuleRepository(db *database.DB) *RoutingRuleRepository {
	return &RoutingRuleRepository{db: db}
}

const ruleColumns = `
	id, workflow_id, position, name, description,
	trigger_stage, condition, action, created_at, updated_at
`

// ListByWorkflow returns all rules of a workflow in evaluation order.
func (r *RoutingRuleRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*RoutingRuleRecord, error) {
	query := `SELECT ` + ruleColumns + `
		FROM workflow_routing_rules
		WHERE workflow_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list routing rules")
	}
	defer rows.Close()

	var rules []*RoutingRuleRecord
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetByID retrieves one rule.
func (r *RoutingRuleRepository) GetByID(ctx context.Context, id string) (*RoutingRuleRecord, error) {
	query := `SELECT ` + ruleColumns + `
		FROM workflow_routing_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("routing_rule", id)
	}
	return rule, err
}

// Create appends a rule at the end of the workflow's evaluation order.
func (r *RoutingRuleRepository) Create(ctx context.Context, rule *RoutingRuleRecord) error {
	conditionJSON, actionJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_routing_rules
		    (workflow_id, position, name, description, trigger_stage, condition, action)
		VALUES ($1,
		        COALESCE((SELECT MAX(position) + 1 FROM workflow_routing_rules WHERE workflow_id = $1), 0),
		        $2, $3, $4, $5, $6)
		RETURNING id, position, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.WorkflowID,
		rule.Name,
		rule.Description,
		rule.TriggerStage,
		conditionJSON,
		actionJSON,
	).Scan(&rule.ID, &rule.Position, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create routing rule")
	}
	return nil
}

// Update persists changes to an existing rule. Position is untouched.
func (r *RoutingRuleRepository) Update(ctx context.Context, rule *RoutingRuleRecord) error {
	conditionJSON, actionJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_routing_rules
		SET name          = $2,
		    description   = $3,
		    trigger_stage = $4,
		    condition     = $5,
		    action        = $6,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.TriggerStage,
		conditionJSON,
		actionJSON,
	).Scan(&rule.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("routing_rule", rule.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update routing rule")
	}
	return nil
}

// Delete removes a rule and closes the position gap.
func (r *RoutingRuleRepository) Delete(ctx context.Context, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var workflowID string
		var position int
		err := tx.QueryRow(ctx,
			`DELETE FROM workflow_routing_rules WHERE id = $1 RETURNING workflow_id, position`,
			id,
		).Scan(&workflowID, &position)
		if err == pgx.ErrNoRows {
			return errors.NotFound("routing_rule", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete routing rule")
		}

		_, err = tx.Exec(ctx, `
			UPDATE workflow_routing_rules
			SET position = position - 1, updated_at = NOW()
			WHERE workflow_id = $1 AND position > $2
		`, workflowID, position)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close rule position gap")
		}
		return nil
	})
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(sc ruleScanner) (*RoutingRuleRecord, error) {
	rule := &RoutingRuleRecord{}
	var conditionJSON, actionJSON []byte

	err := sc.Scan(
		&rule.ID,
		&rule.WorkflowID,
		&rule.Position,
		&rule.Name,
		&rule.Description,
		&rule.TriggerStage,
		&conditionJSON,
		&actionJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan routing rule")
	}

	if err := json.Unmarshal(conditionJSON, &rule.Condition); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule condition")
	}
	if err := json.Unmarshal(actionJSON, &rule.Action); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule action")
	}
	return rule, nil
}

func marshalRule(rule *RoutingRuleRecord) (condition, action []byte, err error) {
	if condition, err = json.Marshal(rule.Condition); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule condition")
	}
	if action, err = json.Marshal(rule.Action); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule action")
	}
	return condition, action, nil
}
