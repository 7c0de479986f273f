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
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadPIDQueue takes over the committed queue files owned by the process
// with the specified pid. Each file is renamed to carry the pid of this
// process and then scheduled, either immediately or in the temp-fail
// queue if its next attempt is in the future.
//
// Files that fail to load are logged and skipped. The number of loaded
// files is returned. Files of this process are already scheduled, so
// asking for its own pid loads nothing.
func (q *Queue) LoadPIDQueue(pid int) (int, error) {
	if pid == q.pid {
		q.log.Msg("ignoring request to load own queue", "pid", pid)
		return 0, nil
	}
	q.log.Msg("loading queue of another process", "pid", pid)
	return q.load(func(name FileName) bool {
		return name.PID == pid
	})
}

// LoadQueue takes over every committed file in the queue directory. It is
// meant for single-process setups where no other worker shares the
// directory.
func (q *Queue) LoadQueue() (int, error) {
	return q.load(func(FileName) bool { return true })
}

func (q *Queue) load(match func(FileName) bool) (int, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0, fmt.Errorf("queue: %w", err)
	}

	loaded := 0
	now := time.Now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || IsTempName(entry.Name()) {
			continue
		}
		name, err := ParseFileName(entry.Name())
		if err != nil {
			q.log.Debugf("skipping %s: %v", entry.Name(), err)
			continue
		}
		if !match(name) {
			continue
		}

		hmail, err := q.adopt(entry.Name(), name)
		if err != nil {
			q.log.Error("failed to load queue file", err, "file", entry.Name())
			continue
		}

		if hmail.NextAttempt.After(now) {
			if !q.tempFail.Add(hmail, hmail.NextAttempt) {
				continue
			}
		} else {
			q.deliveries.Push(hmail)
		}
		loaded++
	}

	if loaded != 0 {
		q.log.Msg("loaded queue files", "count", loaded)
	}
	return loaded, nil
}

func (q *Queue) adopt(fname string, name FileName) (*HMailItem, error) {
	oldPath := filepath.Join(q.dir, fname)

	todo, err := ReadQueueFile(oldPath)
	if err != nil {
		return nil, err
	}

	newName := name
	if name.PID != q.pid {
		fresh := q.writer.names.next(name.Arrival, name.NextAttempt, name.Attempts)
		newName.PID = fresh.PID
		newName.UID = fresh.UID
		newName.Counter = fresh.Counter
	}
	newFname := newName.String()
	newPath := filepath.Join(q.dir, newFname)
	if newPath != oldPath {
		if err := renameFile(oldPath, newPath); err != nil {
			return nil, err
		}
	}

	return &HMailItem{
		Filename:    newFname,
		Path:        newPath,
		Notes:       todo.Notes,
		Domain:      todo.Domain,
		UUID:        todo.UUID,
		NextAttempt: name.NextAttempt,
		Attempts:    name.Attempts,
	}, nil
}
