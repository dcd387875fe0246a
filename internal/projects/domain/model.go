package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is a named solving configuration plus its provisioned execution
// environment. The project id doubles as the control namespace name and as
// the suffix of the project's queue names; the three must never diverge.
type Project struct {
	ID            uuid.UUID            `json:"id"`
	UserID        string               `json:"user_id"`
	Name          string               `json:"name"`
	Configuration ProjectConfiguration `json:"-"`
	CreatedAt     time.Time            `json:"created_at"`
}

// ProjectResult is one row reported by a project's data gatherer. Rows are
// insert-only; they disappear with their parent project.
type ProjectResult struct {
	ID         int64           `json:"id"`
	ProjectID  uuid.UUID       `json:"project_id"`
	ProblemID  int             `json:"problem_id"`
	InstanceID int             `json:"instance_id"`
	SolverID   int             `json:"solver_id"`
	Result     json.RawMessage `json:"result"`
	VCPUCount  int             `json:"vcpu_count"`
}

// ProblemConfig selects a problem and the instances to solve for it.
type ProblemConfig struct {
	Problem   int   `json:"problem" binding:"required,gt=0"`
	Instances []int `json:"instances" binding:"required,min=1"`
}

// ProblemGroupConfig configures one problem group. Extras is intentionally
// schemaless (solver selection and whatever else the controller understands);
// this service stores and forwards it without validation.
type ProblemGroupConfig struct {
	ProblemGroup int                    `json:"problem_group" binding:"required,gt=0"`
	Problems     []ProblemConfig        `json:"problems" binding:"required,min=1,dive"`
	Extras       map[string]interface{} `json:"extras"`
}

// ProjectConfiguration is the document submitted at creation and handed to
// the project's data gatherer. It is persisted verbatim.
type ProjectConfiguration struct {
	Name          string               `json:"name" binding:"required"`
	ProblemGroups []ProblemGroupConfig `json:"problem_groups" binding:"required,min=1,dive"`
}
