package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// StepRepo implements domain.DeploymentStepRepository for PostgreSQL, using
// sqlx's named-query ergonomics over the pool's stdlib-compatible *sql.DB —
// grounded on the teacher's DomainRepository, the one repo in the pack that
// reaches for sqlx instead of bare pgxpool.
type StepRepo struct {
	db *sqlx.DB
}

// NewStepRepo is the factory function.
func NewStepRepo(db *sqlx.DB) *StepRepo {
	return &StepRepo{db: db}
}

func (r *StepRepo) Create(ctx context.Context, s *domain.DeploymentStep) error {
	const query = `
		INSERT INTO deployment_steps (id, deployment_id, step_number, name, status, started_at)
		VALUES (:id, :deployment_id, :step_number, :name, :status, :started_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, map[string]any{
		"id":            s.ID,
		"deployment_id": s.DeploymentID,
		"step_number":   s.StepNumber,
		"name":          s.Name,
		"status":        s.Status,
		"started_at":    s.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: create step: %w", err)
	}
	return nil
}

func (r *StepRepo) Update(ctx context.Context, s *domain.DeploymentStep) error {
	const query = `
		UPDATE deployment_steps
		SET status = :status, completed_at = :completed_at, duration_sec = :duration_sec,
		    output = :output, error_output = :error_output
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, map[string]any{
		"status":       s.Status,
		"completed_at": s.CompletedAt,
		"duration_sec": s.DurationSec,
		"output":       s.Output,
		"error_output": s.ErrorOutput,
		"id":           s.ID,
	})
	if err != nil {
		return fmt.Errorf("postgres: update step: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// stepRow mirrors domain.DeploymentStep with db-tagged fields for sqlx's
// SelectContext scan.
type stepRow struct {
	ID           uuid.UUID        `db:"id"`
	DeploymentID uuid.UUID        `db:"deployment_id"`
	StepNumber   int              `db:"step_number"`
	Name         string           `db:"name"`
	Status       domain.StepStatus `db:"status"`
	StartedAt    time.Time        `db:"started_at"`
	CompletedAt  *time.Time       `db:"completed_at"`
	DurationSec  float64          `db:"duration_sec"`
	Output       string           `db:"output"`
	ErrorOutput  string           `db:"error_output"`
}

// ListByDeployment returns every step recorded for a deployment in
// execution order. It is not part of the core repository interface, and no
// HTTP route calls it.
func (r *StepRepo) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]*domain.DeploymentStep, error) {
	const query = `
		SELECT id, deployment_id, step_number, name, status, started_at, completed_at,
		       duration_sec, output, error_output
		FROM deployment_steps
		WHERE deployment_id = $1
		ORDER BY step_number ASC
	`
	var rows []stepRow
	if err := r.db.SelectContext(ctx, &rows, query, deploymentID); err != nil {
		return nil, fmt.Errorf("postgres: list steps: %w", err)
	}

	out := make([]*domain.DeploymentStep, len(rows))
	for i, row := range rows {
		out[i] = &domain.DeploymentStep{
			ID:           row.ID,
			DeploymentID: row.DeploymentID,
			StepNumber:   row.StepNumber,
			Name:         row.Name,
			Status:       row.Status,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			DurationSec:  row.DurationSec,
			Output:       row.Output,
			ErrorOutput:  row.ErrorOutput,
		}
	}
	return out, nil
}

var _ domain.DeploymentStepRepository = (*StepRepo)(nil)
