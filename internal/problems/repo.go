package problems

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("problem not found")
var ErrNameTaken = errors.New("problem with this name already exists")
var ErrGroupsMissing = errors.New("one or more groups not found")
var ErrNoFile = errors.New("problem has no file")

type Problem struct {
	ID                       int       `json:"id"`
	Name                     string    `json:"name"`
	Filename                 *string   `json:"filename"`
	ContentType              *string   `json:"content_type"`
	FileSize                 *int      `json:"file_size"`
	IsInstancesSelfContained bool      `json:"is_instances_self_contained"`
	UploadedAt               time.Time `json:"uploaded_at"`
	GroupIDs                 []int     `json:"group_ids"`
}

type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// Create inserts a problem without a file; files arrive via SaveFile.
// Problems start out self-contained.
func (r *Repo) Create(ctx context.Context, name string, groupIDs []int) (*Problem, error) {
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

	const q = `
insert into problems (name, is_instances_self_contained)
values ($1, true)
returning id, name, is_instances_self_contained, uploaded_at;
`
	var p Problem
	err = tx.QueryRow(ctx, q, name).
		Scan(&p.ID, &p.Name, &p.IsInstancesSelfContained, &p.UploadedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrNameTaken
	}
	if err != nil {
		return nil, err
	}

	for _, gid := range groupIDs {
		if _, err := tx.Exec(ctx,
			`insert into problem_groups (problem_id, group_id) values ($1, $2);`,
			p.ID, gid); err != nil {
			return nil, err
		}
	}
	p.GroupIDs = groupIDs

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) List(ctx context.Context) ([]Problem, error) {
	const q = `
select p.id, p.name, p.filename, p.content_type, p.file_size,
       p.is_instances_self_contained, p.uploaded_at,
       coalesce(array_agg(pg.group_id) filter (where pg.group_id is not null), '{}')
from problems p
left join problem_groups pg on pg.problem_id = p.id
group by p.id
order by p.id;
`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Problem, 0, 16)
	for rows.Next() {
		var p Problem
		if err := rows.Scan(&p.ID, &p.Name, &p.Filename, &p.ContentType, &p.FileSize,
			&p.IsInstancesSelfContained, &p.UploadedAt, &p.GroupIDs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id int) (*Problem, error) {
	const q = `
select p.id, p.name, p.filename, p.content_type, p.file_size,
       p.is_instances_self_contained, p.uploaded_at,
       coalesce(array_agg(pg.group_id) filter (where pg.group_id is not null), '{}')
from problems p
left join problem_groups pg on pg.problem_id = p.id
where p.id = $1
group by p.id;
`
	var p Problem
	err := r.db.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.Name, &p.Filename, &p.ContentType, &p.FileSize,
			&p.IsInstancesSelfContained, &p.UploadedAt, &p.GroupIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveFile attaches a file to the problem; a problem with its own file is no
// longer instances-self-contained.
func (r *Repo) SaveFile(ctx context.Context, id int, f File) error {
	const q = `
update problems
set filename = $2, file_data = $3, content_type = $4, file_size = $5,
    is_instances_self_contained = false
where id = $1;
`
	ct, err := r.db.Exec(ctx, q, id, f.Filename, f.Data, f.ContentType, len(f.Data))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) GetFile(ctx context.Context, id int) (*File, error) {
	const q = `select filename, content_type, file_data from problems where id = $1;`
	var (
		f           File
		filename    *string
		contentType *string
	)
	err := r.db.QueryRow(ctx, q, id).Scan(&filename, &contentType, &f.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if filename == nil || f.Data == nil {
		return nil, ErrNoFile
	}
	f.Filename = *filename
	if contentType != nil {
		f.ContentType = *contentType
	}
	return &f, nil
}

func (r *Repo) Delete(ctx context.Context, id int) (bool, error) {
	const q = `delete from problems where id = $1;`
	ct, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
