package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/psp-platform/solver-director/config"
)

const statusCacheKeyPrefix = "status:"

// ControllerStatusClient calls the status endpoint of a project's solver
// controller over its in-cluster service. Responses are cached briefly in
// redis so polling clients do not hammer per-project controllers; the cache
// is advisory and every cache failure falls through to the network call.
type ControllerStatusClient struct {
	httpClient *http.Client
	cache      *redis.Client
	ttl        time.Duration

	// endpoint resolves a project id to its controller's status URL.
	endpoint func(projectID string) string
}

func NewControllerStatusClient(cc config.SolverControllerConfig, cache *redis.Client, ttl time.Duration) *ControllerStatusClient {
	return &ControllerStatusClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		ttl:        ttl,
		endpoint: func(projectID string) string {
			return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/v1/status", cc.ServiceName, projectID, cc.ServicePort)
		},
	}
}

func (c *ControllerStatusClient) Fetch(ctx context.Context, projectID string) (json.RawMessage, error) {
	if c.cache != nil {
		if b, err := c.cache.Get(ctx, statusCacheKeyPrefix+projectID).Bytes(); err == nil {
			return b, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(projectID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status call: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("status body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("status body: not valid JSON")
	}

	if c.cache != nil {
		// Best-effort; a failed set never fails the request.
		c.cache.Set(ctx, statusCacheKeyPrefix+projectID, body, c.ttl)
	}
	return body, nil
}
