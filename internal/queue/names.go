// Package queue holds the RabbitMQ plumbing shared by the create path and
// the result collector: queue naming, broker authentication, the one-shot
// publisher and the long-lived collector.
package queue

import "fmt"

// Queue names derive from the project id and nothing else, so they are
// stable across restarts and reconstructible by every party on the bus.

// ControlQueueName is the per-project queue the solver controller consumes.
func ControlQueueName(projectID string) string {
	return fmt.Sprintf("project-%s-controller", projectID)
}

// ResultQueueName is the per-project queue solvers publish raw results to.
func ResultQueueName(projectID string) string {
	return fmt.Sprintf("project-%s-result", projectID)
}

// DirectorQueueName is the per-project queue carrying the initial problem
// configuration to the data gatherer.
func DirectorQueueName(projectID string) string {
	return fmt.Sprintf("project-%s-director", projectID)
}
