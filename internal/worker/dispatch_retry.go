package worker

import (
	"context"
	"fmt"
	"time"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/pkg/logger"
	"clinical-workflow-be/internal/service"
	"clinical-workflow-be/pkg/events"
	"clinical-workflow-be/pkg/nats"

	"github.com/google/uuid"
)

// RegisterDispatchRetry wires the durable retry consumer for failed
// deliveries. The consumer nacks while the attempt budget remains so
// JetStream redelivers after backoff; once the budget is exhausted the
// message is acked and the session stays blocked for manual intervention.
func RegisterDispatchRetry(sub *nats.Subscriber, dispatcher service.IDispatchService, backoff time.Duration, log logger.ILogger) error {
	return sub.Subscribe("workflow."+events.TypeDispatchFailed, "dispatch-retry", backoff, func(ctx context.Context, event events.Event) error {
		payload := event.Payload()

		if retryable, ok := payload["retryable"].(bool); ok && !retryable {
			return nil
		}

		rawID, _ := payload["session_id"].(string)
		sessionID, err := uuid.Parse(rawID)
		if err != nil {
			log.Warn("DispatchRetry", "Event carried an invalid session id", map[string]interface{}{
				"session_id": rawID,
			})
			return nil
		}

		res, err := dispatcher.Dispatch(ctx, sessionID, "system")
		if err != nil {
			log.Error("DispatchRetry", "Retry attempt errored", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return nil
		}
		if res.Status == entity.DispatchFailed && res.Retryable {
			return fmt.Errorf("dispatch still failing after attempt %d", res.AttemptCount)
		}

		log.Info("DispatchRetry", "Retry resolved", map[string]interface{}{
			"session_id":    sessionID,
			"status":        res.Status,
			"attempt_count": res.AttemptCount,
		})
		return nil
	})
}
