package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/psp-platform/solver-director/internal/metrics"
	"github.com/psp-platform/solver-director/internal/projects/domain"
)

// ResultStore persists collected results.
type ResultStore interface {
	InsertResult(ctx context.Context, res *domain.ProjectResult) error
}

// EnvironmentTeardown tears down a project's cluster environment.
type EnvironmentTeardown interface {
	Teardown(ctx context.Context, projectID string) error
}

// Collector is the sole consumer of the shared director-result queue. It
// runs for the process lifetime and fans results into the store, one message
// at a time: a message is acked only after its row is committed.
type Collector struct {
	auth          *BrokerAuth
	queueName     string
	store         ResultStore
	teardown      EnvironmentTeardown
	reconnectWait time.Duration
}

func NewCollector(auth *BrokerAuth, queueName string, store ResultStore, teardown EnvironmentTeardown) *Collector {
	return &Collector{
		auth:          auth,
		queueName:     queueName,
		store:         store,
		teardown:      teardown,
		reconnectWait: 5 * time.Second,
	}
}

// Start runs the collector on its own goroutine and returns a handle whose
// Stop cancels the loop and waits for it to drain.
func (c *Collector) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		c.Run(ctx)
	}()
	return h
}

// Handle is the cancellable task handle for a running collector.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the collector and blocks until the loop has exited.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Run consumes until ctx is cancelled, reconnecting on any connection or
// channel loss rather than exiting.
func (c *Collector) Run(ctx context.Context) {
	log.Printf("result collector: listening on queue %s", c.queueName)
	for {
		if err := c.consume(ctx); err != nil {
			log.Printf("result collector: connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("result collector: shutting down")
			return
		case <-time.After(c.reconnectWait):
		}
	}
}

func (c *Collector) consume(ctx context.Context) error {
	conn, err := c.auth.Dial()
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker channel: %w", err)
	}
	defer ch.Close()

	// One unacked message at a time: the current message's transaction must
	// commit before the next is delivered.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	q, err := ch.QueueDeclare(c.queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare %s: %w", c.queueName, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream closed")
			}
			if err := c.HandleMessage(ctx, d.Body); err != nil {
				// The failure is per-message: reject it to the broker's
				// dead-letter handling and keep consuming.
				log.Printf("result collector: failed to save result: %v", err)
				metrics.ResultFailures.Inc()
				if nackErr := d.Nack(false, false); nackErr != nil {
					return fmt.Errorf("nack: %w", nackErr)
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
		}
	}
}

// resultMessage is the wire form published by data gatherers. The two marker
// fields flag a project's last message and never reach the database.
type resultMessage struct {
	ProjectID     uuid.UUID       `json:"project_id"`
	ProblemID     int             `json:"problem_id"`
	InstanceID    int             `json:"instance_id"`
	SolverID      int             `json:"solver_id"`
	Result        json.RawMessage `json:"result"`
	VCPUCount     int             `json:"vcpu_count"`
	FinalMessage  bool            `json:"final_message"`
	TotalMessages int             `json:"total_messages"`
}

// HandleMessage processes one delivery: on a final message the project's
// environment is torn down first, so a persistence failure cannot leave the
// namespaces running; a teardown failure in turn must not stop the result
// from being persisted.
func (c *Collector) HandleMessage(ctx context.Context, body []byte) error {
	var msg resultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode result message: %w", err)
	}

	if msg.FinalMessage {
		if err := c.teardown.Teardown(ctx, msg.ProjectID.String()); err != nil {
			log.Printf("result collector: teardown of project %s failed: %v", msg.ProjectID, err)
			metrics.TeardownFailures.Inc()
		}
	}

	res := &domain.ProjectResult{
		ProjectID:  msg.ProjectID,
		ProblemID:  msg.ProblemID,
		InstanceID: msg.InstanceID,
		SolverID:   msg.SolverID,
		Result:     msg.Result,
		VCPUCount:  msg.VCPUCount,
	}
	if err := c.store.InsertResult(ctx, res); err != nil {
		return fmt.Errorf("insert result for project %s: %w", msg.ProjectID, err)
	}

	metrics.ResultsCollected.Inc()
	return nil
}
