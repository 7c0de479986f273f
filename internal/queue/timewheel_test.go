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
	"testing"
	"time"
)

func item(name string) *HMailItem {
	return &HMailItem{Filename: name}
}

func expectSlot(t *testing.T, called <-chan TimeSlot, name string) {
	t.Helper()
	select {
	case slot := <-called:
		if slot.Value.Filename != name {
			t.Errorf("wrong slot value: %v, want %v", slot.Value.Filename, name)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("slot %v was not dispatched", name)
	}
}

func TestTimeWheelAdd(t *testing.T) {
	t.Parallel()

	called := make(chan TimeSlot)
	w := NewTimeWheel(func(slot TimeSlot) {
		called <- slot
	})
	defer w.Close()

	w.Add(time.Now().Add(100*time.Millisecond), item("1"))
	expectSlot(t, called, "1")
}

func TestTimeWheelAdd_Ordering(t *testing.T) {
	t.Parallel()

	called := make(chan TimeSlot)
	w := NewTimeWheel(func(slot TimeSlot) {
		called <- slot
	})
	defer w.Close()

	w.Add(time.Now().Add(500*time.Millisecond), item("2"))
	w.Add(time.Now().Add(250*time.Millisecond), item("1"))

	expectSlot(t, called, "1")
	expectSlot(t, called, "2")
}

func TestTimeWheelAdd_FarFuture(t *testing.T) {
	t.Parallel()

	called := make(chan TimeSlot)
	w := NewTimeWheel(func(slot TimeSlot) {
		called <- slot
	})
	defer w.Close()

	w.Add(time.Now().Add(90000*time.Hour), item("far"))
	w.Add(time.Now().Add(100*time.Millisecond), item("near"))

	expectSlot(t, called, "near")
	if w.Len() != 1 {
		t.Error("far slot is lost, Len =", w.Len())
	}
}

func TestTimeWheel_Drain(t *testing.T) {
	t.Parallel()

	called := make(chan TimeSlot, 10)
	w := NewTimeWheel(func(slot TimeSlot) {
		called <- slot
	})
	defer w.Close()

	w.Add(time.Now().Add(time.Hour), &HMailItem{Filename: "a", Domain: "a.example"})
	w.Add(time.Now().Add(time.Hour), &HMailItem{Filename: "b", Domain: "b.example"})

	drained := w.Drain(func(slot TimeSlot) bool {
		return slot.Value.Domain == "a.example"
	})
	if len(drained) != 1 || drained[0].Value.Filename != "a" {
		t.Fatalf("wrong drained slots: %v", drained)
	}
	if w.Len() != 1 {
		t.Fatal("wrong Len after Drain:", w.Len())
	}
}

func TestTimeWheel_AddAfterClose(t *testing.T) {
	t.Parallel()

	w := NewTimeWheel(func(TimeSlot) {
		t.Error("dispatch called after Close")
	})
	w.Add(time.Now().Add(time.Hour), item("pending"))
	w.Close()
	w.Close()

	if w.Add(time.Now(), item("late")) {
		t.Fatal("Add succeeded after Close")
	}
	if w.Len() != 0 {
		t.Fatal("pending slots kept after Close")
	}
	time.Sleep(50 * time.Millisecond)
}
