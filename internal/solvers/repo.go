package solvers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("solver not found")
var ErrGroupsMissing = errors.New("one or more groups not found")

type Solver struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	GroupIDs  []int  `json:"group_ids"`
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// Create registers a solver image and the groups it supports.
func (r *Repo) Create(ctx context.Context, name, imagePath string, groupIDs []int) (*Solver, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var found int
	if err := tx.QueryRow(ctx,
		`select count(*) from groups where id = any($1);`, groupIDs,
	).Scan(&found); err != nil {
		return nil, err
	}
	if found != len(groupIDs) {
		return nil, ErrGroupsMissing
	}

	var imageID int
	if err := tx.QueryRow(ctx,
		`insert into solver_images (image_path) values ($1) returning id;`, imagePath,
	).Scan(&imageID); err != nil {
		return nil, err
	}

	s := Solver{Name: name, ImagePath: imagePath, GroupIDs: groupIDs}
	if err := tx.QueryRow(ctx,
		`insert into solvers (name, solver_images_id) values ($1, $2) returning id;`,
		name, imageID,
	).Scan(&s.ID); err != nil {
		return nil, err
	}

	for _, gid := range groupIDs {
		if _, err := tx.Exec(ctx,
			`insert into solver_supported_groups (solver_id, group_id) values ($1, $2);`,
			s.ID, gid); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) List(ctx context.Context) ([]Solver, error) {
	const q = `
select s.id, s.name, si.image_path,
       coalesce(array_agg(sg.group_id) filter (where sg.group_id is not null), '{}')
from solvers s
join solver_images si on si.id = s.solver_images_id
left join solver_supported_groups sg on sg.solver_id = s.id
group by s.id, si.image_path
order by s.id;
`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Solver, 0, 16)
	for rows.Next() {
		var s Solver
		if err := rows.Scan(&s.ID, &s.Name, &s.ImagePath, &s.GroupIDs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id int) (*Solver, error) {
	const q = `
select s.id, s.name, si.image_path,
       coalesce(array_agg(sg.group_id) filter (where sg.group_id is not null), '{}')
from solvers s
join solver_images si on si.id = s.solver_images_id
left join solver_supported_groups sg on sg.solver_id = s.id
where s.id = $1
group by s.id, si.image_path;
`
	var s Solver
	err := r.db.QueryRow(ctx, q, id).Scan(&s.ID, &s.Name, &s.ImagePath, &s.GroupIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) Delete(ctx context.Context, id int) (bool, error) {
	const q = `delete from solvers where id = $1;`
	ct, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
