// Package postgres is a pgx-backed implementation of the core's repository
// interfaces, grounded on the teacher's api/internal/db/postgres package:
// same pgxpool.Pool-per-repo shape, same pgx.ErrNoRows -> domain.ErrNotFound
// translation, same JSON-marshalled-column pattern for slice/map fields.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// ProjectRepo implements domain.ProjectRepository for PostgreSQL.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

// NewProjectRepo is the factory function.
func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	const query = `
		SELECT id, name, repo_url, branch, active, target_paths, pipeline,
		       use_ssh_key, encrypted_key, encrypted_iv, encrypted_tag, public_key_fp,
		       webhook_secret, auto_deploy, deploy_on_paths, build_output,
		       sync_ignore_patterns, rsync_options, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	var p domain.Project
	var targetPathsJSON, pipelineJSON, deployOnPathsJSON, syncIgnoreJSON []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.RepoURL, &p.Branch, &p.Active, &targetPathsJSON, &pipelineJSON,
		&p.UseSSHKey, &p.EncryptedKey.Ciphertext, &p.EncryptedKey.IV, &p.EncryptedKey.AuthTag, &p.PublicKeyFP,
		&p.WebhookSecret, &p.AutoDeploy, &deployOnPathsJSON, &p.BuildOutput,
		&syncIgnoreJSON, &p.RsyncOptions, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get project: %w", err)
	}

	if err := unmarshalIfPresent(targetPathsJSON, &p.TargetPaths); err != nil {
		return nil, fmt.Errorf("postgres: decode target_paths: %w", err)
	}
	if err := unmarshalIfPresent(pipelineJSON, &p.Pipeline); err != nil {
		return nil, fmt.Errorf("postgres: decode pipeline: %w", err)
	}
	if err := unmarshalIfPresent(deployOnPathsJSON, &p.DeployOnPaths); err != nil {
		return nil, fmt.Errorf("postgres: decode deploy_on_paths: %w", err)
	}
	if err := unmarshalIfPresent(syncIgnoreJSON, &p.SyncIgnore); err != nil {
		return nil, fmt.Errorf("postgres: decode sync_ignore_patterns: %w", err)
	}

	return &p, nil
}

// UpdateCommit records in last_commit_hash the commit most recently resolved
// for a project's deployment. Nothing in this module reads the column back.
func (r *ProjectRepo) UpdateCommit(ctx context.Context, id uuid.UUID, commitHash string) error {
	const query = `UPDATE projects SET last_commit_hash = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, commitHash, id)
	if err != nil {
		return fmt.Errorf("postgres: update commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func unmarshalIfPresent(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

var _ domain.ProjectRepository = (*ProjectRepo)(nil)
