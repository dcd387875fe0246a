package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psp-platform/solver-director/internal/auth"
	"github.com/psp-platform/solver-director/internal/projects/domain"
	"github.com/psp-platform/solver-director/internal/projects/service"
	"github.com/psp-platform/solver-director/internal/spawner"
)

// memStore keeps projects and results in memory and mimics the repo's
// transactional create: the row becomes visible only if sideEffects and the
// commit both succeed.
type memStore struct {
	projects  map[uuid.UUID]*domain.Project
	results   map[uuid.UUID][]domain.ProjectResult
	commitErr error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[uuid.UUID]*domain.Project),
		results:  make(map[uuid.UUID][]domain.ProjectResult),
	}
}

func (s *memStore) CreateProject(ctx context.Context, p *domain.Project, sideEffects func(context.Context) error) error {
	if err := sideEffects(ctx); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) List(_ context.Context, userID string) ([]domain.Project, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) GetOwned(_ context.Context, id uuid.UUID, userID string) (*domain.Project, error) {
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID, userID string) (bool, error) {
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return false, nil
	}
	delete(s.projects, id)
	return true, nil
}

func (s *memStore) ResultsChunk(_ context.Context, projectID uuid.UUID, afterID int64, limit int) ([]domain.ProjectResult, error) {
	var out []domain.ProjectResult
	for _, r := range s.results[projectID] {
		if r.ID > afterID {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeSpawner struct {
	provisioned   []string
	tornDown      []string
	provisionErr  error
	teardownErr   error
	limitExceeded bool
}

func (f *fakeSpawner) Provision(_ context.Context, projectID, _ string) error {
	if f.limitExceeded {
		return spawner.ErrUserLimitReached
	}
	if f.provisionErr != nil {
		return f.provisionErr
	}
	f.provisioned = append(f.provisioned, projectID)
	return nil
}

func (f *fakeSpawner) Teardown(_ context.Context, projectID string) error {
	f.tornDown = append(f.tornDown, projectID)
	return f.teardownErr
}

type fakePublisher struct {
	queues []string
	bodies []interface{}
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, queueName string, body interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.queues = append(f.queues, queueName)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeStatus struct {
	doc json.RawMessage
	err error
}

func (f *fakeStatus) Fetch(_ context.Context, _ string) (json.RawMessage, error) {
	return f.doc, f.err
}

type fixture struct {
	store     *memStore
	spawn     *fakeSpawner
	publisher *fakePublisher
	status    *fakeStatus
	router    *gin.Engine
}

func newFixture(t *testing.T, chunkSize int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:     newMemStore(),
		spawn:     &fakeSpawner{},
		publisher: &fakePublisher{},
		status:    &fakeStatus{doc: json.RawMessage(`{"state": "running"}`)},
	}
	svc := service.NewProjectService(f.store, f.spawn, f.publisher, f.status, chunkSize)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set(auth.CtxUserID, c.GetHeader("X-Test-User"))
		c.Set(auth.CtxScopes, strings.Fields(c.GetHeader("X-Test-Scopes")))
	})
	Register(api.Group("/projects"), svc)
	f.router = r
	return f
}

func (f *fixture) do(method, path, user, scopes string, body interface{}) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	req.Header.Set("X-Test-Scopes", scopes)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func validConfig() map[string]interface{} {
	return map[string]interface{}{
		"name": "route optimization",
		"problem_groups": []map[string]interface{}{
			{
				"problem_group": 1,
				"problems": []map[string]interface{}{
					{"problem": 4, "instances": []int{1, 2, 3}},
				},
				"extras": map[string]interface{}{"solvers": []int{9}},
			},
		},
	}
}

const bothScopes = auth.ScopeProjectsRead + " " + auth.ScopeProjectsWrite

func TestCreateProject(t *testing.T) {
	f := newFixture(t, 100)

	rr := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created domain.Project
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, "route optimization", created.Name)
	assert.NotEqual(t, uuid.Nil, created.ID)

	// Environment and configuration message both reference the new id.
	require.Len(t, f.spawn.provisioned, 1)
	assert.Equal(t, created.ID.String(), f.spawn.provisioned[0])
	require.Len(t, f.publisher.queues, 1)
	assert.Equal(t, "project-"+created.ID.String()+"-director", f.publisher.queues[0])

	// And the row is committed.
	_, ok := f.store.projects[created.ID]
	assert.True(t, ok)
}

func TestCreateProjectValidation(t *testing.T) {
	f := newFixture(t, 100)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{
			"problem_groups": validConfig()["problem_groups"],
		}},
		{"empty problem groups", map[string]interface{}{
			"name":           "x",
			"problem_groups": []interface{}{},
		}},
		{"problem without instances", map[string]interface{}{
			"name": "x",
			"problem_groups": []map[string]interface{}{
				{
					"problem_group": 1,
					"problems":      []map[string]interface{}{{"problem": 4}},
				},
			},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do("POST", "/api/v1/projects", "alice", bothScopes, tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Empty(t, f.spawn.provisioned, "nothing may be provisioned for a rejected request")
		})
	}
}

func TestCreateProjectRateLimited(t *testing.T) {
	f := newFixture(t, 100)
	f.spawn.limitExceeded = true

	rr := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, f.store.projects)
}

func TestCreateProjectPublishFailureCleansUp(t *testing.T) {
	f := newFixture(t, 100)
	f.publisher.err = errors.New("broker down")

	rr := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	require.Len(t, f.spawn.provisioned, 1, "environment was provisioned before publish failed")
	assert.Equal(t, f.spawn.provisioned, f.spawn.tornDown, "provisioned environment must be torn down again")
	assert.Empty(t, f.store.projects, "no row may be committed")
}

func TestCreateProjectProvisionFailure(t *testing.T) {
	f := newFixture(t, 100)
	f.spawn.provisionErr = errors.New("quota webhook rejected namespace")

	rr := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, f.publisher.queues, "nothing is published when provisioning fails")
	assert.Empty(t, f.store.projects)
}

func TestListProjectsIsScopedToUser(t *testing.T) {
	f := newFixture(t, 100)

	require.Equal(t, http.StatusCreated, f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig()).Code)
	require.Equal(t, http.StatusCreated, f.do("POST", "/api/v1/projects", "bob", bothScopes, validConfig()).Code)

	rr := f.do("GET", "/api/v1/projects", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got []domain.Project
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)
}

func TestProjectNotFoundIsUniform(t *testing.T) {
	f := newFixture(t, 100)

	created := f.do("POST", "/api/v1/projects", "bob", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var bobs domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &bobs))

	paths := []string{
		"/api/v1/projects/not-a-uuid/config",
		"/api/v1/projects/" + uuid.NewString() + "/config",
		"/api/v1/projects/" + bobs.ID.String() + "/config", // owned by bob, alice asks
	}
	for _, path := range paths {
		rr := f.do("GET", path, "alice", auth.ScopeProjectsRead, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.JSONEq(t, `{"detail": "Invalid user or project"}`, rr.Body.String(), path)
	}
}

func TestGetProjectConfig(t *testing.T) {
	f := newFixture(t, 100)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/config", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var cfg domain.ProjectConfiguration
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "route optimization", cfg.Name)
	require.Len(t, cfg.ProblemGroups, 1)
	assert.Equal(t, 1, cfg.ProblemGroups[0].ProblemGroup)
}

func TestProjectStatus(t *testing.T) {
	f := newFixture(t, 100)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/status", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		ID     uuid.UUID       `json:"id"`
		Name   string          `json:"name"`
		Status json.RawMessage `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, p.ID, body.ID)
	assert.JSONEq(t, `{"state": "running"}`, string(body.Status))
}

func TestProjectStatusUnavailable(t *testing.T) {
	f := newFixture(t, 100)
	f.status.err = errors.New("controller not ready")

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/status", "alice", auth.ScopeProjectsRead, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "temporarily unavailable")
}

func TestSolutionDownload(t *testing.T) {
	// Chunk size 2 against 5 results exercises the chunk boundary.
	f := newFixture(t, 2)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	for i := 1; i <= 5; i++ {
		f.store.results[p.ID] = append(f.store.results[p.ID], domain.ProjectResult{
			ID:         int64(i),
			ProjectID:  p.ID,
			ProblemID:  i,
			InstanceID: 1,
			SolverID:   1,
			Result:     json.RawMessage(fmt.Sprintf(`{"objective": %d}`, i*10)),
			VCPUCount:  2,
		})
	}

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/solution", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "attachment; filename=project_"+p.ID.String()+".json", rr.Header().Get("Content-Disposition"))

	var rows []domain.ProjectResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.ID, "rows must come back in insertion order")
	}
}

func TestSolutionDownloadEmptyProject(t *testing.T) {
	f := newFixture(t, 2)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/solution", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t, 100)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("DELETE", "/api/v1/projects/"+p.ID.String(), "alice", bothScopes, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, f.spawn.tornDown, p.ID.String())
	assert.Empty(t, f.store.projects)
}

func TestDeleteProjectSurvivesTeardownFailure(t *testing.T) {
	f := newFixture(t, 100)
	f.spawn.teardownErr = errors.New("cluster unreachable")

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("DELETE", "/api/v1/projects/"+p.ID.String(), "alice", bothScopes, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code, "a leaked namespace must not block the delete")
	assert.Empty(t, f.store.projects)
}

func TestDeleteForeignProject(t *testing.T) {
	f := newFixture(t, 100)

	created := f.do("POST", "/api/v1/projects", "bob", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	rr := f.do("DELETE", "/api/v1/projects/"+p.ID.String(), "alice", bothScopes, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Len(t, f.store.projects, 1, "bob's project must survive")
}

func TestScopeEnforcement(t *testing.T) {
	f := newFixture(t, 100)

	rr := f.do("POST", "/api/v1/projects", "alice", auth.ScopeProjectsRead, validConfig())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do("GET", "/api/v1/projects", "alice", auth.ScopeProjectsWrite, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestProjectLifecycle(t *testing.T) {
	f := newFixture(t, 3)

	created := f.do("POST", "/api/v1/projects", "alice", bothScopes, validConfig())
	require.Equal(t, http.StatusCreated, created.Code)
	var p domain.Project
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	// Results arrive while the project runs.
	for i := 1; i <= 4; i++ {
		f.store.results[p.ID] = append(f.store.results[p.ID], domain.ProjectResult{
			ID:        int64(i),
			ProjectID: p.ID,
			ProblemID: 4,
			SolverID:  9,
			Result:    json.RawMessage(`{"feasible": true}`),
		})
	}

	rr := f.do("GET", "/api/v1/projects/"+p.ID.String()+"/solution", "alice", auth.ScopeProjectsRead, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []domain.ProjectResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 4)

	require.Equal(t, http.StatusNoContent, f.do("DELETE", "/api/v1/projects/"+p.ID.String(), "alice", bothScopes, nil).Code)

	rr = f.do("GET", "/api/v1/projects/"+p.ID.String()+"/config", "alice", auth.ScopeProjectsRead, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
