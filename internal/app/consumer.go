/**
 * @description
 * RabbitMQ consumer that feeds pending activation events into the
 * propagation worker. Malformed payloads are acknowledged and dropped;
 * submission failures re-queue the delivery.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/rabbitmq"
)

type ActivationConsumer struct {
	worker *PropagationWorker
	// workerCtx bounds the lifetime of submitted attempts.
	workerCtx context.Context
}

func NewActivationConsumer(workerCtx context.Context, worker *PropagationWorker) *ActivationConsumer {
	return &ActivationConsumer{worker: worker, workerCtx: workerCtx}
}

// Bindings returns the routing-key handlers for rabbitmq.ConsumeWithBindings.
func (c *ActivationConsumer) Bindings() rabbitmq.BindingMap {
	return rabbitmq.BindingMap{
		rabbitmq.RoutingKeyActivationPending: c.HandlePending,
	}
}

// HandlePending submits one pending activation to the worker pool.
func (c *ActivationConsumer) HandlePending(body []byte) bool {
	var event rabbitmq.ActivationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=activation_consumer msg=\"unmarshal failed; dropping\" err=%v", err)
		return true
	}
	if event.RadiusActivationID == uuid.Nil {
		log.Printf("level=warn component=activation_consumer msg=\"missing radius activation id; dropping\" billing_activation_id=%s", event.BillingActivationID)
		return true
	}

	// The worker context, not a per-message timeout, bounds the attempt:
	// Submit returns once the work is queued and the attempt carries its own
	// per-call deadline.
	if err := c.worker.Submit(c.workerCtx, event.RadiusActivationID); err != nil {
		if errors.Is(err, store.ErrActivationNotFound) {
			log.Printf("level=warn component=activation_consumer msg=\"unknown activation; dropping\" radius_activation_id=%s", event.RadiusActivationID)
			return true
		}
		log.Printf("level=error component=activation_consumer msg=\"submit failed; re-queuing\" radius_activation_id=%s err=%v", event.RadiusActivationID, err)
		return false
	}
	return true
}
