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

// Package control implements the channel a parent process uses to
// coordinate the workers sharing one queue directory.
//
// Messages are JSON objects, one per line:
//
//	{"event": "outbound.load_pid_queue", "data": 1234}
//	{"event": "outbound.flush_queue", "domain": "example.org"}
//	{"event": "outbound.shutdown"}
//
// Unknown events and objects without an event are ignored.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mailhaul/outbound/framework/log"
)

const (
	EventLoadPIDQueue = "outbound.load_pid_queue"
	EventFlushQueue   = "outbound.flush_queue"
	EventShutdown     = "outbound.shutdown"
)

const maxMessageLen = 64 * 1024

type Message struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Domain string          `json:"domain,omitempty"`
}

func LoadPIDQueueMessage(pid int) Message {
	return Message{Event: EventLoadPIDQueue, Data: json.RawMessage(strconv.Itoa(pid))}
}

// FlushQueueMessage requests immediate delivery of temp-failed items for
// domain, or of all of them if domain is empty.
func FlushQueueMessage(domain string) Message {
	return Message{Event: EventFlushQueue, Domain: domain}
}

func ShutdownMessage() Message {
	return Message{Event: EventShutdown}
}

// PID decodes Data as a process id. Both JSON numbers and strings are
// accepted.
func (m Message) PID() (int, error) {
	if len(m.Data) == 0 {
		return 0, fmt.Errorf("control: %s: missing pid", m.Event)
	}

	var raw interface{}
	if err := json.Unmarshal(m.Data, &raw); err != nil {
		return 0, fmt.Errorf("control: %s: %w", m.Event, err)
	}

	var pid int
	switch v := raw.(type) {
	case float64:
		pid = int(v)
		if float64(pid) != v {
			return 0, fmt.Errorf("control: %s: invalid pid %v", m.Event, v)
		}
	case string:
		var err error
		pid, err = strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("control: %s: invalid pid %q", m.Event, v)
		}
	default:
		return 0, fmt.Errorf("control: %s: invalid pid %s", m.Event, m.Data)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("control: %s: invalid pid %d", m.Event, pid)
	}
	return pid, nil
}

// Queue is the part of the queue controlled by messages.
type Queue interface {
	LoadPIDQueue(pid int) (int, error)
	FlushQueue(domain string) int
	ShutdownTempFail()
}

type Handler struct {
	queue Queue
	log   log.Logger
}

func NewHandler(q Queue, logger log.Logger) *Handler {
	return &Handler{queue: q, log: logger}
}

// Dispatch executes msg. Messages that cannot be executed are logged and
// otherwise ignored, Dispatch never fails.
func (h *Handler) Dispatch(msg Message) {
	messagesReceived.WithLabelValues(eventLabel(msg.Event)).Inc()

	switch msg.Event {
	case EventLoadPIDQueue:
		pid, err := msg.PID()
		if err != nil {
			h.log.Error("ignoring control message", err)
			return
		}
		if _, err := h.queue.LoadPIDQueue(pid); err != nil {
			h.log.Error("load_pid_queue failed", err, "pid", pid)
		}
	case EventFlushQueue:
		h.queue.FlushQueue(msg.Domain)
	case EventShutdown:
		h.log.Msg("shutting down temp fail queue")
		h.queue.ShutdownTempFail()
	default:
		h.log.Debugf("ignoring control message with event %q", msg.Event)
	}
}

// Serve reads newline-delimited messages from r and dispatches them until
// r is exhausted or ctx is cancelled. Lines that are not JSON objects are
// skipped.
func (h *Handler) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxMessageLen)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			h.log.Debugf("ignoring malformed control message: %v", err)
			continue
		}
		h.Dispatch(msg)
	}
	return scanner.Err()
}

func eventLabel(event string) string {
	switch event {
	case EventLoadPIDQueue, EventFlushQueue, EventShutdown:
		return event
	}
	return "unknown"
}
