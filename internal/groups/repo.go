package groups

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("group not found")
var ErrNameTaken = errors.New("group with this name already exists")

type Group struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, name string, description *string) (*Group, error) {
	const q = `
insert into groups (name, description)
values ($1, $2)
returning id, name, description;
`
	var g Group
	err := r.db.QueryRow(ctx, q, name, description).Scan(&g.ID, &g.Name, &g.Description)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrNameTaken
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repo) List(ctx context.Context) ([]Group, error) {
	const q = `select id, name, description from groups order by id;`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Group, 0, 16)
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id int) (*Group, error) {
	const q = `select id, name, description from groups where id = $1;`
	var g Group
	err := r.db.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Delete removes the group; linked problems and solvers lose the link via
// the join tables' cascade.
func (r *Repo) Delete(ctx context.Context, id int) (bool, error) {
	const q = `delete from groups where id = $1;`
	ct, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
