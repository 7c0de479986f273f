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
	"sync/atomic"
	"time"

	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/log"
)

// TempFailQueue holds items waiting for their next delivery attempt. Due
// items are pushed back to the delivery queue.
type TempFailQueue struct {
	wheel    *TimeWheel
	push     func(*HMailItem)
	log      log.Logger
	shutdown atomic.Bool
}

func NewTempFailQueue(push func(*HMailItem), logger log.Logger) *TempFailQueue {
	tq := &TempFailQueue{push: push, log: logger}
	tq.wheel = NewTimeWheel(func(slot TimeSlot) {
		tempFailLength.Dec()
		tq.push(slot.Value)
	})
	return tq
}

// Add schedules hmail to be pushed to the delivery queue at the specified
// time. It reports false after Shutdown.
func (tq *TempFailQueue) Add(hmail *HMailItem, at time.Time) bool {
	if tq.shutdown.Load() {
		tq.log.Msg("temp fail queue is shut down, item stays on disk", "file", hmail.Filename)
		return false
	}
	hmail.NextAttempt = at
	if !tq.wheel.Add(at, hmail) {
		return false
	}
	tempFailLength.Inc()
	return true
}

// Flush pushes all waiting items for domain to the delivery queue right
// away. Empty domain flushes everything. Domains are compared in their
// canonical form, so "EXAMPLE.org" matches items for "example.org". It
// returns the number of flushed items.
func (tq *TempFailQueue) Flush(domain string) int {
	want, _ := address.DomainForLookup(domain)
	slots := tq.wheel.Drain(func(slot TimeSlot) bool {
		if domain == "" {
			return true
		}
		got, _ := address.DomainForLookup(slot.Value.Domain)
		return got == want
	})
	for _, slot := range slots {
		tempFailLength.Dec()
		slot.Value.NextAttempt = time.Now()
		tq.push(slot.Value)
	}
	return len(slots)
}

func (tq *TempFailQueue) Len() int {
	return tq.wheel.Len()
}

// Shutdown stops all timers. Items still waiting remain on disk and are
// picked up by load_pid_queue later.
func (tq *TempFailQueue) Shutdown() {
	if tq.shutdown.Swap(true) {
		return
	}
	dropped := tq.wheel.Len()
	tq.wheel.Close()
	tempFailLength.Sub(float64(dropped))
	tq.log.Msg("temp fail queue shut down", "pending", dropped)
}
