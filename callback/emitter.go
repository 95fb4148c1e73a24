// Package callback delivers best-effort result notifications.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/observability"
)

// Emitter POSTs result envelopes to client-supplied callback URLs.
// Delivery is advisory: failures are logged and counted, never
// propagated into the task outcome, and duplicates are possible under
// at-least-once execution.
type Emitter struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewEmitter builds an Emitter with the given request timeout.
// The token bucket bounds outbound pressure when a burst of tasks
// completes at once.
func NewEmitter(timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Emitter{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Notify delivers the envelope as JSON. The returned error is for the
// caller's log line only; callers must not fail the task on it.
func (e *Emitter) Notify(ctx context.Context, url string, env *broker.ResultEnvelope) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("callback throttle: %w", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal callback body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		observability.CallbackFailures.Inc()
		return fmt.Errorf("callback post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		observability.CallbackFailures.Inc()
		return fmt.Errorf("callback post: status %d", resp.StatusCode)
	}

	log.Logger.Info().Str("url", url).Str("task_id", env.TaskID).Msg("callback sent")
	return nil
}
