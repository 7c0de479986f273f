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
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// tempMarker is prepended to the name of a queue file while it is being
// written. Directory scans skip such files.
var tempMarker = func() string {
	if runtime.GOOS == "windows" {
		return "__tmp__"
	}
	return "."
}()

// TempName returns the name used for fname while it is being written.
func TempName(fname string) string {
	return tempMarker + fname
}

// IsTempName reports whether fname belongs to a queue file that is not
// committed yet.
func IsTempName(fname string) bool {
	return strings.HasPrefix(fname, tempMarker)
}

// FileName is the parsed form of a queue file name:
//
//	<arrival>_<next attempt>_<attempts>_<pid>_<uid>_<counter>_<host>
//
// Times are unix milliseconds. The pid tells which worker process owns the
// file, uid and counter make the name unique within the process and across
// restarts.
type FileName struct {
	Arrival     time.Time
	NextAttempt time.Time
	Attempts    int
	PID         int
	UID         string
	Counter     uint64
	Host        string
}

func (n FileName) String() string {
	return strings.Join([]string{
		strconv.FormatInt(n.Arrival.UnixMilli(), 10),
		strconv.FormatInt(n.NextAttempt.UnixMilli(), 10),
		strconv.Itoa(n.Attempts),
		strconv.Itoa(n.PID),
		n.UID,
		strconv.FormatUint(n.Counter, 10),
		n.Host,
	}, "_")
}

var errBadName = errors.New("queue: not a queue file name")

func ParseFileName(fname string) (FileName, error) {
	parts := strings.SplitN(fname, "_", 7)
	if len(parts) != 7 {
		return FileName{}, fmt.Errorf("%w: %s", errBadName, fname)
	}

	var (
		n    FileName
		ints [4]int64
	)
	for i := range ints {
		v, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return FileName{}, fmt.Errorf("%w: %s: %v", errBadName, fname, err)
		}
		ints[i] = v
	}
	counter, err := strconv.ParseUint(parts[5], 10, 64)
	if err != nil {
		return FileName{}, fmt.Errorf("%w: %s: %v", errBadName, fname, err)
	}
	if parts[4] == "" {
		return FileName{}, fmt.Errorf("%w: %s: empty uid", errBadName, fname)
	}

	n.Arrival = time.UnixMilli(ints[0])
	n.NextAttempt = time.UnixMilli(ints[1])
	n.Attempts = int(ints[2])
	n.PID = int(ints[3])
	n.UID = parts[4]
	n.Counter = counter
	n.Host = parts[6]
	return n, nil
}

// nameGenerator hands out unique file names for one process.
type nameGenerator struct {
	pid     int
	host    string
	counter atomic.Uint64
}

func newNameGenerator(pid int, hostname string) *nameGenerator {
	return &nameGenerator{
		pid:  pid,
		host: strings.NewReplacer("_", "-", "/", "-", `\`, "-").Replace(hostname),
	}
}

func (g *nameGenerator) next(arrival, nextAttempt time.Time, attempts int) FileName {
	return FileName{
		Arrival:     arrival,
		NextAttempt: nextAttempt,
		Attempts:    attempts,
		PID:         g.pid,
		UID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		Counter:     g.counter.Add(1),
		Host:        g.host,
	}
}
