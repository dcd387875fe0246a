package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psp-platform/solver-director/internal/projects/domain"
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// CreateProject inserts the project row, runs sideEffects while the
// transaction is still open, and only then commits. The row stays invisible
// to other transactions until sideEffects (provisioning, enqueueing) have
// succeeded; any error rolls the insert back.
func (r *Repo) CreateProject(ctx context.Context, p *domain.Project, sideEffects func(context.Context) error) error {
	cfg, err := json.Marshal(p.Configuration)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const q = `
insert into projects (id, user_id, name, configuration)
values ($1, $2, $3, $4)
returning created_at;
`
	if err := tx.QueryRow(ctx, q, p.ID, p.UserID, p.Name, cfg).Scan(&p.CreatedAt); err != nil {
		return err
	}

	if sideEffects != nil {
		if err := sideEffects(ctx); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) List(ctx context.Context, userID string) ([]domain.Project, error) {
	const q = `
select id, user_id, name, created_at
from projects
where user_id = $1;
`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Project, 0, 16)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetOwned resolves a project only when it belongs to userID. A missing row
// and a foreign row are indistinguishable to the caller.
func (r *Repo) GetOwned(ctx context.Context, id uuid.UUID, userID string) (*domain.Project, error) {
	const q = `
select id, user_id, name, configuration, created_at
from projects
where id = $1 and user_id = $2;
`
	var (
		p   domain.Project
		cfg []byte
	)
	err := r.db.QueryRow(ctx, q, id, userID).
		Scan(&p.ID, &p.UserID, &p.Name, &cfg, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &p.Configuration); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return &p, nil
}

// Delete removes the project row; project_results cascade at the schema
// level.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	const q = `delete from projects where id = $1 and user_id = $2;`
	ct, err := r.db.Exec(ctx, q, id, userID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// Exists reports whether any project row has the given id, regardless of
// owner. Used by the reconciliation sweep.
func (r *Repo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `select exists (select 1 from projects where id = $1);`
	var ok bool
	if err := r.db.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Repo) InsertResult(ctx context.Context, res *domain.ProjectResult) error {
	const q = `
insert into project_results (project_id, problem_id, instance_id, solver_id, result, vcpu_count)
values ($1, $2, $3, $4, $5, $6)
returning id;
`
	return r.db.QueryRow(ctx, q,
		res.ProjectID, res.ProblemID, res.InstanceID, res.SolverID,
		[]byte(res.Result), res.VCPUCount,
	).Scan(&res.ID)
}

// ResultsChunk reads one page of results ordered by insertion sequence,
// starting after afterID. Callers iterate until a short page comes back, so
// the full result set is never held in memory.
func (r *Repo) ResultsChunk(ctx context.Context, projectID uuid.UUID, afterID int64, limit int) ([]domain.ProjectResult, error) {
	const q = `
select id, project_id, problem_id, instance_id, solver_id, result, vcpu_count
from project_results
where project_id = $1 and id > $2
order by id asc
limit $3;
`
	rows, err := r.db.Query(ctx, q, projectID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProjectResult, 0, limit)
	for rows.Next() {
		var (
			res     domain.ProjectResult
			payload []byte
		)
		if err := rows.Scan(&res.ID, &res.ProjectID, &res.ProblemID, &res.InstanceID,
			&res.SolverID, &payload, &res.VCPUCount); err != nil {
			return nil, err
		}
		res.Result = json.RawMessage(payload)
		out = append(out, res)
	}
	return out, rows.Err()
}
