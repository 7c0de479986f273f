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

package control

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailhaul/outbound/internal/testutils"
)

type call struct {
	op  string
	arg interface{}
}

type mockQueue struct {
	lock  sync.Mutex
	calls []call
	seen  chan struct{}
}

func newMockQueue() *mockQueue {
	return &mockQueue{seen: make(chan struct{}, 16)}
}

func (q *mockQueue) record(op string, arg interface{}) {
	q.lock.Lock()
	q.calls = append(q.calls, call{op, arg})
	q.lock.Unlock()
	q.seen <- struct{}{}
}

func (q *mockQueue) LoadPIDQueue(pid int) (int, error) {
	q.record("load", pid)
	return 0, nil
}

func (q *mockQueue) FlushQueue(domain string) int {
	q.record("flush", domain)
	return 0
}

func (q *mockQueue) ShutdownTempFail() {
	q.record("shutdown", nil)
}

func (q *mockQueue) get() []call {
	q.lock.Lock()
	defer q.lock.Unlock()
	return append([]call(nil), q.calls...)
}

func TestHandler_Serve(t *testing.T) {
	q := newMockQueue()
	h := NewHandler(q, testutils.Logger(t, "control"))

	input := strings.Join([]string{
		`{"event": "outbound.load_pid_queue", "data": 1234}`,
		`{"event": "outbound.load_pid_queue", "data": "4321"}`,
		`{"event": "outbound.flush_queue", "domain": "example.org"}`,
		`{"event": "outbound.flush_queue"}`,
		`{"event": "outbound.something_new", "domain": "x"}`,
		`{"data": 1}`,
		`not json at all`,
		``,
		`{"event": "outbound.load_pid_queue", "data": {"pid": 1}}`,
		`{"event": "outbound.load_pid_queue", "data": -5}`,
		`{"event": "outbound.load_pid_queue"}`,
		`{"event": "outbound.shutdown"}`,
	}, "\n")

	if err := h.Serve(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	want := []call{
		{"load", 1234},
		{"load", 4321},
		{"flush", "example.org"},
		{"flush", ""},
		{"shutdown", nil},
	}
	if got := q.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("wrong calls:\ngot  %v\nwant %v", got, want)
	}
}

func TestMessage_PID(t *testing.T) {
	for data, want := range map[string]int{
		`1`:      1,
		`"77"`:   77,
		`" 8 "`:  8,
		`1.5`:    0,
		`"x"`:    0,
		`null`:   0,
		`[1]`:    0,
		`0`:      0,
		`-1`:     0,
		`999999`: 999999,
	} {
		pid, err := Message{Event: EventLoadPIDQueue, Data: json.RawMessage(data)}.PID()
		if want == 0 {
			if err == nil {
				t.Errorf("%s: expected error, got %d", data, pid)
			}
			continue
		}
		if err != nil || pid != want {
			t.Errorf("%s: got %d, %v, want %d", data, pid, err, want)
		}
	}
}

func TestSocket(t *testing.T) {
	q := newMockQueue()
	h := NewHandler(q, testutils.Logger(t, "control"))

	path := filepath.Join(t.TempDir(), "outbound.sock")
	srv, err := Listen(path, h)
	if err != nil {
		t.Skip("unix sockets are not supported:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	err = Send(context.Background(), path,
		Message{Event: EventFlushQueue, Domain: "example.org"},
		Message{Event: EventShutdown},
	)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-q.seen:
		case <-time.After(5 * time.Second):
			t.Fatal("message was not dispatched")
		}
	}
	want := []call{{"flush", "example.org"}, {"shutdown", nil}}
	if got := q.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("wrong calls: %v", got)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	srv.Close()
}

func TestListen_StaleSocket(t *testing.T) {
	h := NewHandler(newMockQueue(), testutils.Logger(t, "control"))
	path := filepath.Join(t.TempDir(), "outbound.sock")

	first, err := Listen(path, h)
	if err != nil {
		t.Skip("unix sockets are not supported:", err)
	}
	first.listener.Close()

	second, err := Listen(path, h)
	if err != nil {
		t.Fatalf("stale socket is not replaced: %v", err)
	}
	second.Close()
}

func TestLoadPIDQueueMessage(t *testing.T) {
	msg := LoadPIDQueueMessage(4242)
	if msg.Event != EventLoadPIDQueue {
		t.Fatalf("wrong event: %s", msg.Event)
	}
	pid, err := msg.PID()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 4242 {
		t.Fatalf("wrong pid: %d", pid)
	}
}
