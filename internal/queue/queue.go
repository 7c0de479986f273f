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

/*
Package queue implements the on-disk outbound queue.

Each queued delivery is a single file in the queue directory:

	[4 bytes big-endian length][header: "\n" + JSON TODOItem + "\n"][body]

The body is the message with CRLF line endings and dot-stuffing applied.
Files are created under a temporary name (see TempName) and renamed into
place only after they are completely written and synced, so every file
with a final name is complete.

Committed files are handed to the delivery Agent through the
DeliveryQueue. Temporary failures are parked in the TempFailQueue until
their next attempt. Several worker processes may share the directory,
file names carry the pid of the owning process (see FileName) and
LoadPIDQueue transfers ownership.
*/
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mailhaul/outbound/framework/log"
	"github.com/mailhaul/outbound/internal/limiters"
)

type Config struct {
	Dir      string
	PID      int
	Hostname string

	// Concurrency is the maximum number of deliveries running in parallel.
	Concurrency int
	// RetryDelay is used for temporary failures without retry_after.
	RetryDelay time.Duration

	// DomainConcurrency limits parallel deliveries to a single destination
	// domain. DomainRate limits deliveries started per minute for a domain.
	// Zero disables the limit.
	DomainConcurrency int
	DomainRate        int

	Agent Agent
	Log   log.Logger
}

// Queue ties together the queue file writer, the delivery queue and the
// temp-fail queue of one worker process.
type Queue struct {
	dir        string
	pid        int
	retryDelay time.Duration
	log        log.Logger

	writer     *Writer
	deliveries *DeliveryQueue
	tempFail   *TempFailQueue
}

func New(cfg Config) (*Queue, error) {
	if cfg.Dir == "" {
		return nil, errors.New("queue: directory is not set")
	}
	if cfg.Agent == nil {
		return nil, errors.New("queue: delivery agent is not set")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	q := &Queue{
		dir:        cfg.Dir,
		pid:        cfg.PID,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Log,
		writer:     NewWriter(cfg.Dir, cfg.PID, cfg.Hostname, cfg.Log),
	}
	q.deliveries = NewDeliveryQueue(cfg.Agent, cfg.Concurrency, cfg.Log)
	if cfg.DomainConcurrency > 0 || cfg.DomainRate > 0 {
		q.deliveries.limits = domainLimits(cfg.DomainConcurrency, cfg.DomainRate)
	}
	q.tempFail = NewTempFailQueue(q.deliveries.Push, cfg.Log)
	q.deliveries.onTempFail = func(hmail *HMailItem, err error) {
		at := time.Now().Add(retryAfter(err, q.retryDelay))
		q.reschedule(hmail, hmail.Attempts+1, at)
		q.tempFail.Add(hmail, at)
	}
	return q, nil
}

func domainLimits(concurrency, perMinute int) *limiters.BucketSet {
	return limiters.NewBucketSet(func() limiters.L {
		return &limiters.MultiLimit{Wrapped: []limiters.L{
			limiters.NewSemaphore(concurrency),
			limiters.NewRate(perMinute, time.Minute),
		}}
	}, 2*time.Minute, 10000)
}

// reschedule renames the queue file of hmail so its name carries the new
// attempt count and next attempt time. A failed rename is logged, the item
// is still retried under the old name.
func (q *Queue) reschedule(hmail *HMailItem, attempts int, at time.Time) {
	hmail.Attempts = attempts
	hmail.NextAttempt = at

	name, err := ParseFileName(hmail.Filename)
	if err != nil {
		q.log.Error("cannot reschedule queue file", err, "file", hmail.Filename)
		return
	}
	name.Attempts = attempts
	name.NextAttempt = at

	newFname := name.String()
	newPath := filepath.Join(q.dir, newFname)
	if err := renameFile(hmail.Path, newPath); err != nil {
		q.log.Error("cannot rename queue file", err, "file", hmail.Filename)
		return
	}
	hmail.Filename = newFname
	hmail.Path = newPath
}

func (q *Queue) Dir() string {
	return q.dir
}

func (q *Queue) PID() int {
	return q.pid
}

// Write persists todo as a new queue file. The returned item is not
// scheduled, use Push for that.
func (q *Queue) Write(todo *TODOItem) (*HMailItem, error) {
	hmail, err := q.writer.Write(todo)
	if err != nil {
		filesWritten.WithLabelValues("failed").Inc()
		return nil, err
	}
	filesWritten.WithLabelValues("ok").Inc()
	return hmail, nil
}

// Push hands hmail to the delivery agent.
func (q *Queue) Push(hmail *HMailItem) {
	q.deliveries.Push(hmail)
}

// TempFail parks hmail until at.
func (q *Queue) TempFail(hmail *HMailItem, at time.Time) bool {
	return q.tempFail.Add(hmail, at)
}

// FlushQueue pushes items waiting for a retry for domain (all items if
// domain is empty) to the delivery queue immediately.
func (q *Queue) FlushQueue(domain string) int {
	n := q.tempFail.Flush(domain)
	q.log.Msg("flushed temp fail queue", "domain", domain, "count", n)
	return n
}

// ShutdownTempFail stops the temp-fail queue timers.
func (q *Queue) ShutdownTempFail() {
	q.tempFail.Shutdown()
}

func (q *Queue) TempFailLen() int {
	return q.tempFail.Len()
}

// Close stops the temp-fail queue and waits for running deliveries.
func (q *Queue) Close() error {
	q.tempFail.Shutdown()
	q.deliveries.Close()
	return nil
}
