package instances

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("instance not found")
var ErrProblemNotFound = errors.New("problem not found")

type Instance struct {
	ID          int       `json:"id"`
	ProblemID   int       `json:"problem_id"`
	Filename    string    `json:"filename"`
	ContentType *string   `json:"content_type"`
	FileSize    int       `json:"file_size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, problemID int, filename, contentType string, data []byte) (*Instance, error) {
	const q = `
insert into instances (problem_id, filename, file_data, content_type, file_size)
values ($1, $2, $3, $4, $5)
returning id, problem_id, filename, content_type, file_size, uploaded_at;
`
	var in Instance
	err := r.db.QueryRow(ctx, q, problemID, filename, data, contentType, len(data)).
		Scan(&in.ID, &in.ProblemID, &in.Filename, &in.ContentType, &in.FileSize, &in.UploadedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		// foreign key: the problem does not exist
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *Repo) ListByProblem(ctx context.Context, problemID int) ([]Instance, error) {
	const q = `
select id, problem_id, filename, content_type, file_size, uploaded_at
from instances
where problem_id = $1
order by id;
`
	rows, err := r.db.Query(ctx, q, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Instance, 0, 16)
	for rows.Next() {
		var in Instance
		if err := rows.Scan(&in.ID, &in.ProblemID, &in.Filename, &in.ContentType,
			&in.FileSize, &in.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *Repo) GetFile(ctx context.Context, id int) (filename, contentType string, data []byte, err error) {
	const q = `select filename, content_type, file_data from instances where id = $1;`
	var ct *string
	err = r.db.QueryRow(ctx, q, id).Scan(&filename, &ct, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil, ErrNotFound
	}
	if err != nil {
		return "", "", nil, err
	}
	if ct != nil {
		contentType = *ct
	}
	return filename, contentType, data, nil
}

func (r *Repo) Delete(ctx context.Context, id int) (bool, error) {
	const q = `delete from instances where id = $1;`
	ct, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
