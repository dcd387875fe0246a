// Package reconcile closes the create-path gap: a crash between provisioning
// and the DB commit leaves a running environment with no project row and no
// owner who can delete it. The sweeper periodically compares project-labelled
// namespaces against the store and tears down the ones nothing references.
package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/psp-platform/solver-director/internal/metrics"
	"github.com/psp-platform/solver-director/internal/spawner"
)

type ProjectLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Cluster interface {
	ListProjectNamespaces(ctx context.Context) ([]spawner.ProjectNamespace, error)
	Teardown(ctx context.Context, projectID string) error
}

type Sweeper struct {
	store   ProjectLookup
	cluster Cluster
	grace   time.Duration
	cron    *cron.Cron
}

func NewSweeper(store ProjectLookup, cluster Cluster, grace time.Duration) *Sweeper {
	return &Sweeper{store: store, cluster: cluster, grace: grace}
}

// Start schedules the sweep. The schedule uses cron-with-seconds syntax.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			log.Printf("reconcile: sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Printf("reconcile: sweeper scheduled (%s)", schedule)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep tears down environments whose namespace is older than the grace
// period and has no backing project row. The grace period keeps the sweep
// from racing an in-flight create, whose row is still uncommitted.
func (s *Sweeper) Sweep(ctx context.Context) error {
	namespaces, err := s.cluster.ListProjectNamespaces(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.grace)
	for _, ns := range namespaces {
		if ns.CreatedAt.After(cutoff) {
			continue
		}
		id, err := uuid.Parse(ns.ProjectID)
		if err != nil {
			log.Printf("reconcile: namespace with unparseable project label %q", ns.ProjectID)
			continue
		}

		exists, err := s.store.Exists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		log.Printf("reconcile: tearing down orphaned environment %s", id)
		if err := s.cluster.Teardown(ctx, id.String()); err != nil {
			log.Printf("reconcile: teardown of %s failed: %v", id, err)
			metrics.TeardownFailures.Inc()
			continue
		}
		metrics.OrphansReaped.Inc()
	}
	return nil
}
