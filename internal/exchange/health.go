package exchange

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	healthyCacheTTL   = 300 * time.Second
	unhealthyCacheTTL = 60 * time.Second
)

// healthCache memoises the last health probe. Failed probes are cached for a
// shorter window so recovery is noticed quickly.
type healthCache struct {
	mu        sync.Mutex
	result    *HealthResponse
	err       error
	checkedAt time.Time
}

// Health probes upstream liveness. Results are cached for healthyCacheTTL on
// success and unhealthyCacheTTL on failure.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	c.health.mu.Lock()
	defer c.health.mu.Unlock()

	if !c.health.checkedAt.IsZero() {
		ttl := healthyCacheTTL
		if c.health.err != nil {
			ttl = unhealthyCacheTTL
		}
		if time.Since(c.health.checkedAt) < ttl {
			c.logger.Debug("Using cached health check result",
				zap.Bool("healthy", c.health.err == nil))
			return c.health.result, c.health.err
		}
	}

	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &out, baseTimeout, "health")

	c.health.checkedAt = time.Now()
	if err != nil {
		c.health.result, c.health.err = nil, err
		return nil, err
	}
	if out.Status == "" {
		out.Status = "healthy"
	}

	c.health.result, c.health.err = &out, nil
	return &out, nil
}
