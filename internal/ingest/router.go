// Package ingest contains the event-to-notification pipeline: the router
// that dispatches topics to transformers and the consumer that drives it
// from the bus.
package ingest

import (
	"notification-service/internal/common/logger"
	"notification-service/internal/ingest/transform"
	"notification-service/internal/notification"
)

// Skip reasons reported in Decision and on the skip metric.
const (
	SkipUnknownTopic = "unrecognized_topic"
)

// Decision is the router's output for one message: either a create request
// or an explicit skip. Never both, never neither.
type Decision struct {
	Create     *notification.CreateRequest
	SkipReason string
}

// Skipped reports whether the message should be acknowledged without
// creating a notification.
func (d Decision) Skipped() bool {
	return d.Create == nil
}

// Router maps (topic, payload) to a construction decision. The transformer
// registry is fixed at construction and never mutated.
type Router struct {
	transformers map[string]*transform.Transformer
	logger       logger.Logger
}

func NewRouter(registry map[string]*transform.Transformer, log logger.Logger) *Router {
	return &Router{
		transformers: registry,
		logger:       log.WithFields(map[string]interface{}{"component": "event-router"}),
	}
}

// Route returns a Decision, or a MALFORMED_PAYLOAD error when the topic is
// known but the payload cannot be transformed. An unregistered topic is not
// an error: the message is skipped and the offset may advance.
func (r *Router) Route(topic string, payload []byte) (Decision, error) {
	t, ok := r.transformers[topic]
	if !ok {
		r.logger.Info("no transformer registered for topic", map[string]interface{}{
			"topic": topic,
		})
		return Decision{SkipReason: SkipUnknownTopic}, nil
	}

	req, err := t.Transform(payload)
	if err != nil {
		return Decision{}, err
	}

	return Decision{Create: req}, nil
}
