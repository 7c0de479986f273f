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
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/buffer"
)

// TODOVersion is written into every queue file header. It must be bumped
// whenever the header encoding changes in a way the delivery side has to
// know about.
const TODOVersion = 1

// maxHeaderLen guards ReadTODO against garbage length prefixes.
const maxHeaderLen = 16 << 20

// TODOItem is the metadata of one delivery, stored as the header of its
// queue file.
//
// Message is the message (header section and body) to write after the
// metadata. It is never part of the encoded header.
type TODOItem struct {
	Version   int                    `json:"version"`
	QueueTime int64                  `json:"queue_time"`
	Domain    string                 `json:"domain"`
	RcptTo    []address.Address      `json:"rcpt_to"`
	MailFrom  address.Address        `json:"mail_from"`
	Notes     map[string]interface{} `json:"notes"`
	UUID      string                 `json:"uuid"`
	ForceTLS  bool                   `json:"force_tls"`

	Message buffer.Buffer `json:"-"`

	// DotStuffed is set if Message is already dot-stuffed.
	DotStuffed bool `json:"-"`
}

func NewTODOItem(domain string, rcpts []address.Address, mailFrom address.Address, notes map[string]interface{}, uuid string) *TODOItem {
	return &TODOItem{
		Version:   TODOVersion,
		QueueTime: time.Now().UnixMilli(),
		Domain:    domain,
		RcptTo:    rcpts,
		MailFrom:  mailFrom,
		Notes:     notes,
		UUID:      uuid,
	}
}

// BuildTODO encodes the metadata of todo as it is stored at the start of a
// queue file: a 4-byte big-endian length followed by that many bytes of
// "\n" + tab-indented JSON + "\n".
func BuildTODO(todo *TODOItem) ([]byte, error) {
	blob, err := json.MarshalIndent(todo, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("queue: encode todo: %w", err)
	}

	todoLen := len(blob) + 2
	if todoLen > math.MaxUint32 {
		return nil, errors.New("queue: encode todo: header too big")
	}

	buf := make([]byte, 4, 4+todoLen)
	binary.BigEndian.PutUint32(buf, uint32(todoLen))
	buf = append(buf, '\n')
	buf = append(buf, blob...)
	buf = append(buf, '\n')
	return buf, nil
}

// ReadTODO reads the length-prefixed header from r and returns the decoded
// metadata and the offset at which the message body starts.
func ReadTODO(r io.Reader) (*TODOItem, int64, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, 0, fmt.Errorf("queue: read todo length: %w", err)
	}
	todoLen := binary.BigEndian.Uint32(prefix[:])
	if todoLen > maxHeaderLen {
		return nil, 0, fmt.Errorf("queue: todo length %d is too big", todoLen)
	}

	blob := make([]byte, todoLen)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, 0, fmt.Errorf("queue: read todo: %w", err)
	}

	todo := &TODOItem{}
	if err := json.Unmarshal(blob, todo); err != nil {
		return nil, 0, fmt.Errorf("queue: decode todo: %w", err)
	}
	if todo.Version > TODOVersion {
		return nil, 0, fmt.Errorf("queue: unsupported todo version %d", todo.Version)
	}
	return todo, int64(4 + todoLen), nil
}

// ReadQueueFile reads the metadata of the queue file at path. Message of the
// returned TODOItem refers to the body section of the file.
func ReadQueueFile(path string) (*TODOItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	todo, offset, err := ReadTODO(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	todo.Message = buffer.FileSection{Path: path, Offset: offset}
	todo.DotStuffed = true
	return todo, nil
}
