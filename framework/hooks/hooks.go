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

// Package hooks keeps process-wide callbacks for events that are not tied
// to a single component, such as shutdown or log rotation.
package hooks

import "sync"

type Event int

const (
	// EventShutdown is triggered when the process is about to stop, either
	// due to a signal or due to the outbound.shutdown control message.
	EventShutdown Event = iota

	// EventLogRotate is triggered by SIGUSR1 (on POSIX platforms) and
	// requests reopening of log files.
	EventLogRotate
)

var (
	hooks    = make(map[Event][]func())
	hooksLck sync.Mutex
)

func hooksToRun(eventName Event) []func() {
	hooksLck.Lock()
	defer hooksLck.Unlock()

	// Copied so hooks run without holding the lock.
	return append([]func(){}, hooks[eventName]...)
}

// RunHooks runs the hooks installed for the specified event in the reverse
// order of installation.
func RunHooks(eventName Event) {
	hooks := hooksToRun(eventName)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// AddHook installs the hook to be executed when certain event occurs.
func AddHook(eventName Event, f func()) {
	hooksLck.Lock()
	defer hooksLck.Unlock()

	hooks[eventName] = append(hooks[eventName], f)
}
