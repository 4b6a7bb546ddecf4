// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/relaybroker/relaybroker/lib/clock"
)

// Router is the single actor that owns all routing state: per-consumer
// clarification queues, per-consumer yap reorder buffers, and the
// selection policy that assigns clarifications to consumers. Every
// mutation runs inside Run's goroutine via a posted closure, so the
// fields below need no lock of their own — the channel is the lock.
//
// This replaces the source system's event-emitter coupling between
// router and server (spec section 9) with a plain command channel: no
// shared mutable event bus, no callbacks re-entering router state from
// another goroutine.
type Router struct {
	registry *Registry
	clock    clock.Clock
	logger   *slog.Logger

	maxQueueDepth     int
	yapBufferCapacity int
	yapFlushDelay     time.Duration

	commands chan func()
	stopped  chan struct{}

	queues  map[ClientID]*clarificationQueue
	buffers map[ClientID]*yapReorderBuffer
}

// NewRouter constructs a Router. Call Run in its own goroutine before
// using any other method.
func NewRouter(registry *Registry, clk clock.Clock, logger *slog.Logger, maxQueueDepth, yapBufferCapacity int, yapFlushDelay time.Duration) *Router {
	return &Router{
		registry:          registry,
		clock:             clk,
		logger:            logger,
		maxQueueDepth:     maxQueueDepth,
		yapBufferCapacity: yapBufferCapacity,
		yapFlushDelay:     yapFlushDelay,
		commands:          make(chan func(), 64),
		stopped:           make(chan struct{}),
		queues:            make(map[ClientID]*clarificationQueue),
		buffers:           make(map[ClientID]*yapReorderBuffer),
	}
}

// Run processes posted commands serially until ctx is cancelled. It
// is the only goroutine that ever reads or writes the router's
// internal maps.
func (r *Router) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case cmd := <-r.commands:
			cmd()
		case <-ctx.Done():
			return
		}
	}
}

// post enqueues fn for execution on the router goroutine without
// waiting for it to run. Used for the yap flush timer callback, which
// fires on the clock's own goroutine and must not touch router state
// directly.
func (r *Router) post(fn func()) {
	select {
	case r.commands <- fn:
	case <-r.stopped:
	}
}

// execute enqueues fn and blocks until it has run, or until ctx is
// cancelled, or until the router has stopped.
func (r *Router) execute(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case r.commands <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return context.Canceled
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return context.Canceled
	}
}

// ConsumerRegistered initializes per-consumer state for a newly
// registered consumer and advances its queue, per spec section 4.3's
// "invoked on ... after a consumer registers".
func (r *Router) ConsumerRegistered(ctx context.Context, consumerID ClientID) error {
	return r.execute(ctx, func() {
		if _, exists := r.queues[consumerID]; !exists {
			r.queues[consumerID] = newClarificationQueue(r.maxQueueDepth)
		}
		if _, exists := r.buffers[consumerID]; !exists {
			r.buffers[consumerID] = newYapReorderBuffer(r.yapBufferCapacity)
		}
		r.advanceLocked(consumerID)
	})
}

// RouteClarification assigns req to a consumer chosen by the
// shortest-queue policy in spec section 4.3.1. req.SourceID must
// already be set by the caller. On failure it synthesizes and sends
// the response envelope to the source producer itself, matching spec
// section 4.3's "the broker synthesizes a response envelope to the
// source producer".
func (r *Router) RouteClarification(ctx context.Context, req *ClarificationRequest) error {
	var routingErr error
	err := r.execute(ctx, func() {
		consumers := r.registry.Consumers()
		if len(consumers) == 0 {
			routingErr = ErrNoConsumerAvailable
			r.sendFailureLocked(req.SourceID, req.ID, ErrNoConsumerAvailable.Reason)
			return
		}

		target := r.selectConsumerLocked(consumers)
		queue := r.queues[target]
		if queue == nil {
			// Registration always creates the queue first; this would
			// mean a consumer session outlived its router state.
			routingErr = ErrNoConsumerAvailable
			r.sendFailureLocked(req.SourceID, req.ID, ErrNoConsumerAvailable.Reason)
			return
		}
		if queue.Full() {
			routingErr = ErrQueueFull
			r.sendFailureLocked(req.SourceID, req.ID, ErrQueueFull.Reason)
			return
		}

		req.Status = StatusPending
		queue.Push(req)
		r.advanceLocked(target)
	})
	if err != nil {
		return err
	}
	return routingErr
}

// selectConsumerLocked picks the consumer with the shortest current
// queue, breaking ties by earliest registration (consumers is already
// ordered that way by Registry.Consumers).
func (r *Router) selectConsumerLocked(consumers []*Session) ClientID {
	best := consumers[0].ID
	bestLen := r.queueLenLocked(best)
	for _, c := range consumers[1:] {
		if l := r.queueLenLocked(c.ID); l < bestLen {
			best = c.ID
			bestLen = l
		}
	}
	return best
}

func (r *Router) queueLenLocked(id ClientID) int {
	if q, ok := r.queues[id]; ok {
		return q.Len()
	}
	return 0
}

// advanceLocked delivers the queue head to its consumer if nothing is
// currently active. Idempotent when the head is already active.
func (r *Router) advanceLocked(consumerID ClientID) {
	queue := r.queues[consumerID]
	if queue == nil {
		return
	}
	head := queue.Head()
	if head == nil || head.Status == StatusActive {
		return
	}

	head.Status = StatusActive
	consumer, ok := r.registry.Get(consumerID)
	if !ok {
		return
	}

	data, err := mergeExtra(ClarificationPayload{
		ID:        head.ID,
		Question:  head.Question,
		Context:   head.Context,
		Urgency:   head.Urgency,
		Timestamp: head.Timestamp,
		Status:    head.Status,
	}, head.Extra)
	if err != nil {
		r.logger.Error("marshaling clarification payload", "error", err)
		return
	}

	consumer.Send(Envelope{
		ID:         NewEnvelopeID(),
		Type:       KindClarification,
		ClientID:   head.SourceID,
		ClientType: RoleProducer,
		Timestamp:  r.clock.Now().UnixMilli(),
		Data:       data,
	})
}

// HandleReply locates the active request with the given id in
// consumerID's queue, marks it answered, routes the response to the
// originating producer, and advances the queue. Unknown request ids
// are silently ignored (a late duplicate reply).
func (r *Router) HandleReply(ctx context.Context, consumerID ClientID, requestID string, answer string) error {
	return r.execute(ctx, func() {
		queue := r.queues[consumerID]
		if queue == nil {
			return
		}
		req := queue.RemoveByID(requestID)
		if req == nil {
			return
		}

		req.Status = StatusAnswered
		req.Response = &answer

		if producer, ok := r.registry.Get(req.SourceID); ok {
			data, err := json.Marshal(ResponsePayload{
				RequestID: requestID,
				Response:  &answer,
			})
			if err != nil {
				r.logger.Error("marshaling response payload", "error", err)
			} else {
				producer.Send(Envelope{
					ID:         NewEnvelopeID(),
					Type:       KindResponse,
					ClientID:   consumerID,
					ClientType: RoleConsumer,
					Timestamp:  r.clock.Now().UnixMilli(),
					Data:       data,
				})
			}
		}

		r.advanceLocked(consumerID)
	})
}

// sendFailureLocked synthesizes a response envelope reporting a
// routing failure back to a producer. requestID may be empty when the
// request never got an id assigned to a queue slot; callers pass the
// request's own id in the common case.
func (r *Router) sendFailureLocked(producerID ClientID, requestID, reason string) {
	producer, ok := r.registry.Get(producerID)
	if !ok {
		return
	}
	data, err := json.Marshal(ResponsePayload{
		RequestID: requestID,
		Response:  nil,
		Error:     reason,
	})
	if err != nil {
		r.logger.Error("marshaling failure response", "error", err)
		return
	}
	producer.Send(Envelope{
		ID:         NewEnvelopeID(),
		Type:       KindResponse,
		ClientID:   producerID,
		ClientType: RoleProducer,
		Timestamp:  r.clock.Now().UnixMilli(),
		Data:       data,
	})
}

// RouteYap fans yap out to every live consumer's reorder buffer,
// (re)arming each buffer's flush timer.
func (r *Router) RouteYap(ctx context.Context, yap YapMessage) error {
	return r.execute(ctx, func() {
		for _, consumer := range r.registry.Consumers() {
			buffer := r.buffers[consumer.ID]
			if buffer == nil {
				buffer = newYapReorderBuffer(r.yapBufferCapacity)
				r.buffers[consumer.ID] = buffer
			}
			buffer.Append(yap)

			consumerID := consumer.ID
			buffer.Arm(r.clock, r.yapFlushDelay, func() {
				r.post(func() { r.flushConsumerLocked(consumerID) })
			})
		}
	})
}

// flushConsumerLocked sends every buffered yap for consumerID as
// individual envelopes in timestamp-sorted order, then empties the
// buffer.
func (r *Router) flushConsumerLocked(consumerID ClientID) {
	buffer := r.buffers[consumerID]
	if buffer == nil {
		return
	}
	yaps := buffer.Flush()
	if len(yaps) == 0 {
		return
	}
	consumer, ok := r.registry.Get(consumerID)
	if !ok {
		return
	}

	for _, yap := range yaps {
		data, err := mergeExtra(YapPayload{
			ID:          yap.ID,
			Message:     yap.Message,
			Mode:        yap.Mode,
			Category:    yap.Category,
			TaskContext: yap.TaskContext,
			Timestamp:   yap.Timestamp,
		}, yap.Extra)
		if err != nil {
			r.logger.Error("marshaling yap payload", "error", err)
			continue
		}
		consumer.Send(Envelope{
			ID:         NewEnvelopeID(),
			Type:       KindYap,
			ClientID:   yap.SourceID,
			ClientType: RoleProducer,
			Timestamp:  r.clock.Now().UnixMilli(),
			Data:       data,
		})
	}
}

// SessionGone handles a session's departure: transport close,
// transport error, or a monitor-declared timeout all funnel through
// here (spec section 4.2). Callers must remove the session from the
// Registry before calling this — Router only owns queues and buffers.
func (r *Router) SessionGone(ctx context.Context, id ClientID, role Role) error {
	return r.execute(ctx, func() {
		switch role {
		case RoleConsumer:
			r.consumerGoneLocked(id)
		case RoleProducer:
			r.producerGoneLocked(id)
		}
	})
}

func (r *Router) consumerGoneLocked(consumerID ClientID) {
	if buffer := r.buffers[consumerID]; buffer != nil {
		buffer.Cancel()
	}
	delete(r.buffers, consumerID)
	delete(r.queues, consumerID)
}

// sourceDisconnectedMessage is delivered in the Response field of the
// clarification payload sent to a consumer when the request's source
// producer has vanished — the payload has no separate free-text body
// field, and Response is otherwise only populated on terminal states,
// which this now is.
const sourceDisconnectedMessage = "Source client disconnected"

func (r *Router) producerGoneLocked(producerID ClientID) {
	for consumerID, queue := range r.queues {
		removed := queue.RemoveBySource(producerID)
		if len(removed) == 0 {
			continue
		}

		consumer, ok := r.registry.Get(consumerID)
		if ok {
			for _, req := range removed {
				req.Status = StatusTimeout
				message := sourceDisconnectedMessage
				req.Response = &message

				data, err := mergeExtra(ClarificationPayload{
					ID:        req.ID,
					Question:  req.Question,
					Context:   req.Context,
					Urgency:   req.Urgency,
					Timestamp: req.Timestamp,
					Status:    StatusTimeout,
					Response:  &message,
				}, req.Extra)
				if err != nil {
					r.logger.Error("marshaling timeout payload", "error", err)
					continue
				}
				consumer.Send(Envelope{
					ID:         NewEnvelopeID(),
					Type:       KindClarification,
					ClientID:   producerID,
					ClientType: RoleProducer,
					Timestamp:  r.clock.Now().UnixMilli(),
					Data:       data,
				})
			}
		}

		r.advanceLocked(consumerID)
	}
}
