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
	"container/list"
	"sync"
	"time"
)

type TimeSlot struct {
	Time  time.Time
	Value *HMailItem
}

// TimeWheel calls dispatch for each added value once its time comes.
//
// dispatch is called from the TimeWheel goroutine and must not block for
// long.
type TimeWheel struct {
	slots     *list.List
	slotsLock sync.Mutex

	updateNotify chan struct{}
	stop         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once

	dispatch func(TimeSlot)
}

func NewTimeWheel(dispatch func(TimeSlot)) *TimeWheel {
	tw := &TimeWheel{
		slots:        list.New(),
		updateNotify: make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		dispatch:     dispatch,
	}
	go tw.tick()
	return tw
}

// Add schedules value for target. It reports false if the TimeWheel is
// already closed, value is not scheduled in this case.
func (tw *TimeWheel) Add(target time.Time, value *HMailItem) bool {
	if value == nil {
		panic("can't insert nil objects into TimeWheel queue")
	}

	select {
	case <-tw.stop:
		return false
	default:
	}

	tw.slotsLock.Lock()
	tw.slots.PushBack(TimeSlot{Time: target, Value: value})
	tw.slotsLock.Unlock()

	tw.notify()
	return true
}

// Drain removes all slots for which pred returns true and returns them
// without dispatching.
func (tw *TimeWheel) Drain(pred func(TimeSlot) bool) []TimeSlot {
	tw.slotsLock.Lock()
	var drained []TimeSlot
	for e := tw.slots.Front(); e != nil; {
		next := e.Next()
		slot := e.Value.(TimeSlot)
		if pred(slot) {
			drained = append(drained, slot)
			tw.slots.Remove(e)
		}
		e = next
	}
	tw.slotsLock.Unlock()

	if len(drained) != 0 {
		tw.notify()
	}
	return drained
}

func (tw *TimeWheel) Len() int {
	tw.slotsLock.Lock()
	defer tw.slotsLock.Unlock()
	return tw.slots.Len()
}

func (tw *TimeWheel) notify() {
	select {
	case tw.updateNotify <- struct{}{}:
	default:
		// There is a pending notification already, the tick goroutine
		// rescans all slots anyway.
	}
}

// Close stops the TimeWheel. Pending slots are dropped. Close is
// idempotent.
func (tw *TimeWheel) Close() {
	tw.closeOnce.Do(func() {
		close(tw.stop)
		<-tw.stopped

		tw.slotsLock.Lock()
		tw.slots.Init()
		tw.slotsLock.Unlock()
	})
}

func (tw *TimeWheel) closest() (TimeSlot, *list.Element) {
	tw.slotsLock.Lock()
	defer tw.slotsLock.Unlock()

	var (
		closestSlot TimeSlot
		closestEl   *list.Element
	)
	for e := tw.slots.Front(); e != nil; e = e.Next() {
		slot := e.Value.(TimeSlot)
		if closestEl == nil || slot.Time.Before(closestSlot.Time) {
			closestSlot = slot
			closestEl = e
		}
	}
	return closestSlot, closestEl
}

func (tw *TimeWheel) tick() {
	defer close(tw.stopped)

	for {
		closestSlot, closestEl := tw.closest()

		if closestEl == nil {
			select {
			case <-tw.updateNotify:
				continue
			case <-tw.stop:
				return
			}
		}

		timer := time.NewTimer(time.Until(closestSlot.Time))
		select {
		case <-timer.C:
			tw.slotsLock.Lock()
			// The slot might have been drained while we were waiting.
			removed := false
			for e := tw.slots.Front(); e != nil; e = e.Next() {
				if e == closestEl {
					tw.slots.Remove(e)
					removed = true
					break
				}
			}
			tw.slotsLock.Unlock()

			if removed {
				tw.dispatch(closestSlot)
			}
		case <-tw.updateNotify:
			timer.Stop()
		case <-tw.stop:
			timer.Stop()
			return
		}
	}
}
