/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
	"github.com/mailhaul/outbound/internal/limiters"
)

// Agent performs the actual delivery of a queued message.
//
// Deliver returns nil once the message is delivered and a permanent error
// if it never will be. The agent removes the queue file in both cases. A
// temporary error puts the item into the temp-fail queue, the delay before
// the next attempt can be set with the "retry_after" (time.Duration) error
// field.
type Agent interface {
	Deliver(ctx context.Context, hmail *HMailItem) error
}

// AgentFunc is an adapter to use ordinary functions as Agent.
type AgentFunc func(ctx context.Context, hmail *HMailItem) error

func (f AgentFunc) Deliver(ctx context.Context, hmail *HMailItem) error {
	return f(ctx, hmail)
}

// dontRecover disables the panic handler in deliveries so tests panic
// instead of masking bugs.
var dontRecover = false

// DeliveryQueue hands pushed items to the Agent, running at most
// concurrency deliveries in parallel.
type DeliveryQueue struct {
	agent Agent
	log   log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lock   sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// Buffered channel used to restrict count of deliveries attempted in
	// parallel.
	semaphore chan struct{}

	// Per-domain limits, nil if disabled.
	limits *limiters.BucketSet

	onTempFail func(hmail *HMailItem, err error)
}

func NewDeliveryQueue(agent Agent, concurrency int, logger log.Logger) *DeliveryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryQueue{
		agent:     agent,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		semaphore: make(chan struct{}, concurrency),
	}
}

// Push schedules hmail for delivery. Items pushed after Close are
// dropped, they stay on disk.
func (dq *DeliveryQueue) Push(hmail *HMailItem) {
	dq.lock.Lock()
	if dq.closed {
		dq.lock.Unlock()
		dq.log.Msg("delivery queue is closed, item stays on disk", "file", hmail.Filename)
		return
	}
	dq.wg.Add(1)
	dq.lock.Unlock()

	deliveriesPending.Inc()
	go dq.deliver(hmail)
}

func (dq *DeliveryQueue) deliver(hmail *HMailItem) {
	defer dq.wg.Done()
	defer deliveriesPending.Dec()

	select {
	case dq.semaphore <- struct{}{}:
	case <-dq.ctx.Done():
		return
	}
	defer func() {
		<-dq.semaphore

		if dontRecover {
			return
		}
		if err := recover(); err != nil {
			dq.log.Printf("panic during delivery of %s: %v\n%s", hmail.Filename, err, debug.Stack())
		}
	}()

	dl := dq.log.With("file", hmail.Filename, "uuid", hmail.UUID, "domain", hmail.Domain)

	var err error
	if dq.limits != nil {
		key, _ := address.DomainForLookup(hmail.Domain)
		if err = dq.limits.TakeContext(dq.ctx, key); err != nil {
			if dq.ctx.Err() != nil {
				return
			}
			err = exterrors.WithTemporary(fmt.Errorf("domain limit: %w", err), true)
		} else {
			defer dq.limits.Release(key)
		}
	}

	if err == nil {
		dl.Debugf("delivery started")
		err = dq.agent.Deliver(dq.ctx, hmail)
	}
	switch {
	case err == nil:
		deliveryAttempts.WithLabelValues("ok").Inc()
		dl.Msg("delivery finished")
	case exterrors.IsTemporary(err):
		deliveryAttempts.WithLabelValues("temp_fail").Inc()
		dl.Error("delivery attempt failed, will retry", err)
		if dq.onTempFail != nil {
			dq.onTempFail(hmail, err)
		}
	default:
		deliveryAttempts.WithLabelValues("perm_fail").Inc()
		dl.Error("delivery failed permanently", err)
	}
}

// Close stops accepting new items, cancels the context passed to the
// running deliveries and waits for them to return.
func (dq *DeliveryQueue) Close() {
	dq.lock.Lock()
	dq.closed = true
	dq.lock.Unlock()

	dq.cancel()
	dq.wg.Wait()
	if dq.limits != nil {
		dq.limits.Close()
	}
}

// retryAfter returns the delay requested by err or def.
func retryAfter(err error, def time.Duration) time.Duration {
	if d, ok := exterrors.Fields(err)["retry_after"].(time.Duration); ok && d >= 0 {
		return d
	}
	return def
}
