package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/errors"
)

// StageRepository manages the ordered stage configuration of a workflow.
// Position invariants (first/last fixed) are enforced by service.StageService;
// this layer keeps the position sequence dense.
type StageRepository struct {
	db *database.DB
}

// NewStageRepository creates a new StageRepository.
func NewStageRepository(db *database.DB) *StageRepository {
	return &StageRepository{db: db}
}

const stageColumns = `
	id, workflow_id, name, position, role,
	available_actions, sla_value, sla_unit,
	hide_fields, assigned_users, is_hod, creator_access,
	created_at, updated_at
`

// ListByWorkflow returns all stages of a workflow in position order.
func (r *StageRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*Stage, error) {
	query := `SELECT ` + stageColumns + `
		FROM workflow_stages
		WHERE workflow_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow stages")
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// GetByName returns the stage with the given name within a workflow.
func (r *StageRepository) GetByName(ctx context.Context, workflowID, name string) (*Stage, error) {
	query := `SELECT ` + stageColumns + `
		FROM workflow_stages
		WHERE workflow_id = $1 AND name = $2
	`

	stage, err := scanStage(r.db.QueryRow(ctx, query, workflowID, name))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_stage", name)
	}
	return stage, err
}

// Insert adds a stage at stage.Position, shifting later stages down by one.
func (r *StageRepository) Insert(ctx context.Context, stage *Stage) error {
	actionsJSON, hideJSON, usersJSON, accessJSON, err := marshalStageConfig(stage)
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		shift := `
			UPDATE workflow_stages
			SET position = position + 1, updated_at = NOW()
			WHERE workflow_id = $1 AND position >= $2
		`
		if _, err := tx.Exec(ctx, shift, stage.WorkflowID, stage.Position); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to shift stage positions")
		}

		insert := `
			INSERT INTO workflow_stages
			    (workflow_id, name, position, role,
			     available_actions, sla_value, sla_unit,
			     hide_fields, assigned_users, is_hod, creator_access)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, insert,
			stage.WorkflowID,
			stage.Name,
			stage.Position,
			stage.Role,
			actionsJSON,
			stage.SLAValue,
			stage.SLAUnit,
			hideJSON,
			usersJSON,
			stage.IsHOD,
			accessJSON,
		).Scan(&stage.ID, &stage.CreatedAt, &stage.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert workflow stage")
		}
		return nil
	})
}

// Update persists configuration changes to a stage. Position is not touched
// here; use Reorder.
func (r *StageRepository) Update(ctx context.Context, stage *Stage) error {
	actionsJSON, hideJSON, usersJSON, accessJSON, err := marshalStageConfig(stage)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_stages
		SET name              = $3,
		    role              = $4,
		    available_actions = $5,
		    sla_value         = $6,
		    sla_unit          = $7,
		    hide_fields       = $8,
		    assigned_users    = $9,
		    is_hod            = $10,
		    creator_access    = $11,
		    updated_at        = NOW()
		WHERE id = $1 AND workflow_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		stage.ID,
		stage.WorkflowID,
		stage.Name,
		stage.Role,
		actionsJSON,
		stage.SLAValue,
		stage.SLAUnit,
		hideJSON,
		usersJSON,
		stage.IsHOD,
		accessJSON,
	).Scan(&stage.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_stage", stage.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow stage")
	}
	return nil
}

// Reorder moves a stage to newPosition, shifting the stages in between.
func (r *StageRepository) Reorder(ctx context.Context, workflowID, stageID string, newPosition int) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx,
			`SELECT position FROM workflow_stages WHERE id = $1 AND workflow_id = $2`,
			stageID, workflowID,
		).Scan(&current)
		if err == pgx.ErrNoRows {
			return errors.NotFound("workflow_stage", stageID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to read stage position")
		}
		if current == newPosition {
			return nil
		}

		if current < newPosition {
			_, err = tx.Exec(ctx, `
				UPDATE workflow_stages
				SET position = position - 1, updated_at = NOW()
				WHERE workflow_id = $1 AND position > $2 AND position <= $3
			`, workflowID, current, newPosition)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE workflow_stages
				SET position = position + 1, updated_at = NOW()
				WHERE workflow_id = $1 AND position >= $3 AND position < $2
			`, workflowID, current, newPosition)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to shift stage positions")
		}

		_, err = tx.Exec(ctx, `
			UPDATE workflow_stages
			SET position = $3, updated_at = NOW()
			WHERE id = $1 AND workflow_id = $2
		`, stageID, workflowID, newPosition)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to move stage")
		}
		return nil
	})
}

// Delete removes a stage and closes the position gap.
func (r *StageRepository) Delete(ctx context.Context, workflowID, stageID string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var position int
		err := tx.QueryRow(ctx,
			`DELETE FROM workflow_stages WHERE id = $1 AND workflow_id = $2 RETURNING position`,
			stageID, workflowID,
		).Scan(&position)
		if err == pgx.ErrNoRows {
			return errors.NotFound("workflow_stage", stageID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete workflow stage")
		}

		_, err = tx.Exec(ctx, `
			UPDATE workflow_stages
			SET position = position - 1, updated_at = NOW()
			WHERE workflow_id = $1 AND position > $2
		`, workflowID, position)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close stage position gap")
		}
		return nil
	})
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type stageScanner interface {
	Scan(dest ...any) error
}

func scanStage(sc stageScanner) (*Stage, error) {
	stage := &Stage{}
	var actionsJSON, hideJSON, usersJSON, accessJSON []byte

	err := sc.Scan(
		&stage.ID,
		&stage.WorkflowID,
		&stage.Name,
		&stage.Position,
		&stage.Role,
		&actionsJSON,
		&stage.SLAValue,
		&stage.SLAUnit,
		&hideJSON,
		&usersJSON,
		&stage.IsHOD,
		&accessJSON,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow stage")
	}

	if actionsJSON != nil {
		if err := json.Unmarshal(actionsJSON, &stage.AvailableActions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal stage actions")
		}
	}
	if hideJSON != nil {
		if err := json.Unmarshal(hideJSON, &stage.HideFields); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal hide fields")
		}
	}
	if usersJSON != nil {
		if err := json.Unmarshal(usersJSON, &stage.AssignedUsers); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal assigned users")
		}
	}
	if accessJSON != nil {
		if err := json.Unmarshal(accessJSON, &stage.CreatorAccess); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal creator access")
		}
	}
	return stage, nil
}

func marshalStageConfig(stage *Stage) (actions, hide, users, access []byte, err error) {
	if actions, err = json.Marshal(stage.AvailableActions); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal stage actions")
	}
	if hide, err = json.Marshal(stage.HideFields); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal hide fields")
	}
	if users, err = json.Marshal(stage.AssignedUsers); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal assigned users")
	}
	if access, err = json.Marshal(stage.CreatorAccess); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal creator access")
	}
	return actions, hide, users, access, nil
}
