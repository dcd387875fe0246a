package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psp-platform/solver-director/internal/projects/domain"
)

type fakeStore struct {
	inserted []*domain.ProjectResult
	err      error
}

func (s *fakeStore) InsertResult(_ context.Context, res *domain.ProjectResult) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, res)
	return nil
}

type fakeTeardown struct {
	calls []string
	err   error
}

func (t *fakeTeardown) Teardown(_ context.Context, projectID string) error {
	t.calls = append(t.calls, projectID)
	return t.err
}

func message(t *testing.T, pid uuid.UUID, final bool) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"project_id":     pid,
		"problem_id":     3,
		"instance_id":    7,
		"solver_id":      2,
		"result":         map[string]interface{}{"objective": 42.5},
		"vcpu_count":     4,
		"final_message":  final,
		"total_messages": 10,
	})
	require.NoError(t, err)
	return b
}

func TestHandleMessagePersistsResult(t *testing.T) {
	store := &fakeStore{}
	teardown := &fakeTeardown{}
	c := NewCollector(nil, "psp-director-result", store, teardown)

	pid := uuid.New()
	err := c.HandleMessage(context.Background(), message(t, pid, false))
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	res := store.inserted[0]
	assert.Equal(t, pid, res.ProjectID)
	assert.Equal(t, 3, res.ProblemID)
	assert.Equal(t, 7, res.InstanceID)
	assert.Equal(t, 2, res.SolverID)
	assert.Equal(t, 4, res.VCPUCount)
	assert.JSONEq(t, `{"objective": 42.5}`, string(res.Result))

	assert.Empty(t, teardown.calls, "non-final message must not trigger teardown")
}

func TestHandleMessageFinalTriggersTeardownBeforePersist(t *testing.T) {
	pid := uuid.New()
	var order []string

	teardown := &fakeTeardown{}
	store := &fakeStore{}
	c := NewCollector(nil, "q", &orderedStore{store: store, order: &order}, &orderedTeardown{inner: teardown, order: &order})

	err := c.HandleMessage(context.Background(), message(t, pid, true))
	require.NoError(t, err)

	require.Equal(t, []string{"teardown", "insert"}, order)
	assert.Equal(t, []string{pid.String()}, teardown.calls)
	require.Len(t, store.inserted, 1)
}

type orderedStore struct {
	store *fakeStore
	order *[]string
}

func (s *orderedStore) InsertResult(ctx context.Context, res *domain.ProjectResult) error {
	*s.order = append(*s.order, "insert")
	return s.store.InsertResult(ctx, res)
}

type orderedTeardown struct {
	inner *fakeTeardown
	order *[]string
}

func (t *orderedTeardown) Teardown(ctx context.Context, projectID string) error {
	*t.order = append(*t.order, "teardown")
	return t.inner.Teardown(ctx, projectID)
}

func TestHandleMessageTeardownFailureStillPersists(t *testing.T) {
	store := &fakeStore{}
	teardown := &fakeTeardown{err: errors.New("cluster unreachable")}
	c := NewCollector(nil, "q", store, teardown)

	err := c.HandleMessage(context.Background(), message(t, uuid.New(), true))
	require.NoError(t, err)
	assert.Len(t, store.inserted, 1)
}

func TestHandleMessageMarkersNeverReachStore(t *testing.T) {
	store := &fakeStore{}
	c := NewCollector(nil, "q", store, &fakeTeardown{})

	require.NoError(t, c.HandleMessage(context.Background(), message(t, uuid.New(), true)))

	require.Len(t, store.inserted, 1)
	b, err := json.Marshal(store.inserted[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), "final_message")
	assert.NotContains(t, string(b), "total_messages")
}

func TestHandleMessageInsertFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	c := NewCollector(nil, "q", store, &fakeTeardown{})

	err := c.HandleMessage(context.Background(), message(t, uuid.New(), false))
	assert.Error(t, err)
}

func TestHandleMessageMalformedBody(t *testing.T) {
	store := &fakeStore{}
	c := NewCollector(nil, "q", store, &fakeTeardown{})

	err := c.HandleMessage(context.Background(), []byte("not json"))
	assert.Error(t, err)
	assert.Empty(t, store.inserted)
}
