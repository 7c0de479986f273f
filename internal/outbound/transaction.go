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

package outbound

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/buffer"
)

// ResultEntry is one record of the results accumulator.
type ResultEntry struct {
	Name string
	Pass string
	Err  error
}

// Results accumulates the outcome of processing steps for a transaction.
type Results struct {
	lock    sync.Mutex
	entries []ResultEntry
}

func (r *Results) Add(entry ResultEntry) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries = append(r.entries, entry)
}

// Get returns all entries recorded under name.
func (r *Results) Get(name string) []ResultEntry {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []ResultEntry
	for _, e := range r.entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Transaction is a single accepted message with its envelope.
//
// Header and Body are kept apart, the header is serialized in front of
// the body when the message is written to the queue.
type Transaction struct {
	UUID     string
	MailFrom address.Address
	RcptTo   []address.Address

	Header textproto.Header
	Body   buffer.Buffer

	// Notes are copied into every queue file created for the transaction.
	Notes map[string]interface{}

	// DotStuffed is set if Body is already dot-stuffed.
	DotStuffed bool

	Results *Results
}

func NewTransaction() *Transaction {
	return &Transaction{
		UUID:    strings.ToUpper(uuid.NewString()),
		Results: &Results{},
		Notes:   map[string]interface{}{},
	}
}

// messageBuffer is the full message as stored in a queue file: the
// serialized header followed by the body.
type messageBuffer struct {
	header []byte
	body   buffer.Buffer
}

func newMessageBuffer(hdr textproto.Header, body buffer.Buffer) (messageBuffer, error) {
	var b bytes.Buffer
	if err := textproto.WriteHeader(&b, hdr); err != nil {
		return messageBuffer{}, err
	}
	return messageBuffer{header: b.Bytes(), body: body}, nil
}

func (mb messageBuffer) Open() (io.ReadCloser, error) {
	if mb.body == nil {
		return io.NopCloser(bytes.NewReader(mb.header)), nil
	}
	body, err := mb.body.Open()
	if err != nil {
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(mb.header), body), body}, nil
}

func (mb messageBuffer) Len() int {
	if mb.body == nil {
		return len(mb.header)
	}
	return len(mb.header) + mb.body.Len()
}

func (mb messageBuffer) Remove() error {
	if mb.body == nil {
		return nil
	}
	return mb.body.Remove()
}
