// Package service implements the project lifecycle orchestrator: it
// sequences the store, the cluster spawner and the message queue so that a
// project either fully exists (row + environment + enqueued configuration)
// or not at all.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/psp-platform/solver-director/internal/metrics"
	"github.com/psp-platform/solver-director/internal/projects/domain"
	"github.com/psp-platform/solver-director/internal/queue"
	"github.com/psp-platform/solver-director/internal/spawner"
)

// Store is the slice of the project repo the orchestrator needs.
type Store interface {
	CreateProject(ctx context.Context, p *domain.Project, sideEffects func(context.Context) error) error
	List(ctx context.Context, userID string) ([]domain.Project, error)
	GetOwned(ctx context.Context, id uuid.UUID, userID string) (*domain.Project, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	ResultsChunk(ctx context.Context, projectID uuid.UUID, afterID int64, limit int) ([]domain.ProjectResult, error)
}

// Provisioner creates and destroys per-project cluster environments.
type Provisioner interface {
	Provision(ctx context.Context, projectID, userID string) error
	Teardown(ctx context.Context, projectID string) error
}

// Publisher sends one durable message to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body interface{}) error
}

// StatusFetcher retrieves the raw status document from a project's
// controller.
type StatusFetcher interface {
	Fetch(ctx context.Context, projectID string) (json.RawMessage, error)
}

type ProjectService struct {
	store     Store
	spawn     Provisioner
	publisher Publisher
	status    StatusFetcher
	chunkSize int
}

func NewProjectService(store Store, spawn Provisioner, publisher Publisher, status StatusFetcher, chunkSize int) *ProjectService {
	return &ProjectService{
		store:     store,
		spawn:     spawn,
		publisher: publisher,
		status:    status,
		chunkSize: chunkSize,
	}
}

// Create inserts the project row, provisions the environment and publishes
// the configuration while the insert is still uncommitted, then commits.
// Any failure rolls the row back, so the caller either gets a fully wired
// project or nothing. Internal error detail stays in the logs; callers see
// only the error class.
func (s *ProjectService) Create(ctx context.Context, userID string, cfg domain.ProjectConfiguration) (*domain.Project, error) {
	p := &domain.Project{
		ID:            uuid.New(),
		UserID:        userID,
		Name:          cfg.Name,
		Configuration: cfg,
	}

	published := false
	err := s.store.CreateProject(ctx, p, func(ctx context.Context) error {
		if err := s.spawn.Provision(ctx, p.ID.String(), userID); err != nil {
			return fmt.Errorf("provision: %w", err)
		}
		if err := s.publisher.Publish(ctx, queue.DirectorQueueName(p.ID.String()), map[string]interface{}{
			"problem_groups": cfg.ProblemGroups,
		}); err != nil {
			// Provisioning succeeded but the configuration never went out:
			// tear the environment down again, best-effort.
			if tdErr := s.spawn.Teardown(ctx, p.ID.String()); tdErr != nil {
				log.Printf("projects: cleanup after failed publish for project %s: %v", p.ID, tdErr)
				metrics.TeardownFailures.Inc()
			}
			return fmt.Errorf("publish: %w", err)
		}
		published = true
		return nil
	})
	if err != nil {
		log.Printf("projects: create failed for user %s, project %s: %v", userID, p.ID, err)
		if errors.Is(err, spawner.ErrUserLimitReached) {
			return nil, domain.ErrRateLimited
		}
		if published {
			// The environment exists and the message is out, but the row was
			// never committed. Left for the reconciliation sweep.
			log.Printf("projects: project %s orphaned after commit failure", p.ID)
		}
		return nil, err
	}

	return p, nil
}

func (s *ProjectService) List(ctx context.Context, userID string) ([]domain.Project, error) {
	return s.store.List(ctx, userID)
}

// Get resolves an id string to a caller-owned project. A malformed id, an
// unknown id and a foreign id all come back as ErrProjectNotFound so the
// route cannot be used to probe for other users' projects.
func (s *ProjectService) Get(ctx context.Context, idStr, userID string) (*domain.Project, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, domain.ErrProjectNotFound
	}
	return s.store.GetOwned(ctx, id, userID)
}

// Status returns the project plus the raw status document from its
// controller. Controller failures map to ErrStatusUnavailable; there is no
// internal retry, callers may retry themselves.
func (s *ProjectService) Status(ctx context.Context, idStr, userID string) (*domain.Project, json.RawMessage, error) {
	p, err := s.Get(ctx, idStr, userID)
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.status.Fetch(ctx, p.ID.String())
	if err != nil {
		log.Printf("projects: status fetch for project %s: %v", p.ID, err)
		return nil, nil, domain.ErrStatusUnavailable
	}
	return p, doc, nil
}

// StreamSolution writes the project's results as one JSON array, read in
// insertion order chunk by chunk so the response can start flushing before
// the whole result set is loaded. Ownership must already have been checked
// via Get.
func (s *ProjectService) StreamSolution(ctx context.Context, projectID uuid.UUID, w io.Writer, flush func()) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}

	first := true
	afterID := int64(0)
	for {
		chunk, err := s.store.ResultsChunk(ctx, projectID, afterID, s.chunkSize)
		if err != nil {
			return err
		}
		for i := range chunk {
			if !first {
				if _, err := io.WriteString(w, ", "); err != nil {
					return err
				}
			}
			first = false

			b, err := json.Marshal(&chunk[i])
			if err != nil {
				return err
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
			afterID = chunk[i].ID
		}
		if flush != nil {
			flush()
		}
		if len(chunk) < s.chunkSize {
			break
		}
	}

	_, err := io.WriteString(w, "]")
	return err
}

// Delete tears the environment down first and removes the row second. A
// teardown failure is logged and counted but never blocks the delete: a
// leaked namespace beats a project the user cannot get rid of.
func (s *ProjectService) Delete(ctx context.Context, idStr, userID string) error {
	p, err := s.Get(ctx, idStr, userID)
	if err != nil {
		return err
	}

	if err := s.spawn.Teardown(ctx, p.ID.String()); err != nil {
		log.Printf("projects: teardown of project %s failed: %v", p.ID, err)
		metrics.TeardownFailures.Inc()
	}

	deleted, err := s.store.Delete(ctx, p.ID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrProjectNotFound
	}
	return nil
}
