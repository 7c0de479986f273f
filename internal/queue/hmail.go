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
	"time"
)

// HMailItem is the handle of a committed queue file that is handed to the
// delivery agent. The agent owns the file from that point on: it removes
// it on final success or failure.
type HMailItem struct {
	Filename string
	Path     string
	Notes    map[string]interface{}

	// Domain and UUID are copied from the queue file header so that
	// flush_queue and logging do not need to read the file.
	Domain string
	UUID   string

	NextAttempt time.Time
	Attempts    int
}

// TODO reads the metadata of the queue file back from disk.
func (h *HMailItem) TODO() (*TODOItem, error) {
	return ReadQueueFile(h.Path)
}

func (h *HMailItem) FormatLog() string {
	return h.Filename
}
