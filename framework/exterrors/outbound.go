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

package exterrors

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoRecipients is returned when a transaction has no recipients left
// after normalization.
var ErrNoRecipients = WithTemporary(errors.New("No recipients for email"), false)

// MalformedAddressError is returned when a sender or recipient string can
// not be parsed. It is never temporary.
type MalformedAddressError struct {
	// Role is either "from" or "to".
	Role string
	Addr string
	Err  error
}

func (e *MalformedAddressError) Error() string {
	if e.Role == "from" {
		return fmt.Sprintf("Malformed from: %v", e.Err)
	}
	return fmt.Sprintf("Malformed to address (%s): %v", e.Addr, e.Err)
}

func (e *MalformedAddressError) Unwrap() error {
	return e.Err
}

func (e *MalformedAddressError) Temporary() bool {
	return false
}

func (e *MalformedAddressError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"role":    e.Role,
		"address": e.Addr,
	}
}

type QueueStage string

const (
	StageOpen   QueueStage = "open"
	StageWrite  QueueStage = "write"
	StageCommit QueueStage = "commit"
)

// QueueError describes a local file system failure while persisting a
// queue file. The caller should retry later.
type QueueError struct {
	Stage QueueStage
	Path  string
	Err   error
}

func (e *QueueError) Error() string {
	switch e.Stage {
	case StageOpen:
		return fmt.Sprintf("Queueing failed: open %s: %v", e.Path, e.Err)
	case StageCommit:
		return fmt.Sprintf("Queue error: rename %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("Queueing failed: write %s: %v", e.Path, e.Err)
	}
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

func (e *QueueError) Temporary() bool {
	return true
}

func (e *QueueError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"stage": string(e.Stage),
		"path":  e.Path,
	}
}

// ConnError is an outbound connection failure (OutboundConnectionError).
type ConnError struct {
	Name string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("Outbound connection error: %v", e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

func (e *ConnError) Temporary() bool {
	return true
}

func (e *ConnError) Fields() map[string]interface{} {
	return map[string]interface{}{"conn": e.Name}
}

// ConnTimeoutError is returned when an outbound connection is not
// established within the configured connect timeout
// (OutboundConnectionTimeout).
type ConnTimeoutError struct {
	Host string
	Port int
}

func (e *ConnTimeoutError) Error() string {
	return "Outbound connection timed out to " + e.Host + ":" + strconv.Itoa(e.Port)
}

func (e *ConnTimeoutError) Timeout() bool {
	return true
}

func (e *ConnTimeoutError) Temporary() bool {
	return true
}

func (e *ConnTimeoutError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"host": e.Host,
		"port": e.Port,
	}
}
