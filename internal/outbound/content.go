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
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message/textproto"
	"github.com/mailhaul/outbound/framework/buffer"
	"github.com/mailhaul/outbound/framework/exterrors"
)

// readContent splits message content into the header and the body.
//
// content may be a string, a []byte, an io.Reader or a buffer.Buffer. The
// result always ends with a line ending. Content that does not start
// with a parseable header is used as the body as a whole.
func readContent(content interface{}) (textproto.Header, buffer.Buffer, error) {
	var blob []byte
	switch c := content.(type) {
	case string:
		blob = []byte(c)
	case []byte:
		blob = c
	case buffer.Buffer:
		r, err := c.Open()
		if err != nil {
			return textproto.Header{}, nil, streamError(err)
		}
		blob, err = io.ReadAll(r)
		r.Close()
		if err != nil {
			return textproto.Header{}, nil, streamError(err)
		}
	case io.Reader:
		var err error
		blob, err = io.ReadAll(c)
		if err != nil {
			return textproto.Header{}, nil, streamError(err)
		}
	default:
		return textproto.Header{}, nil, exterrors.WithTemporary(
			fmt.Errorf("unsupported content type %T", content), false)
	}

	if n := len(blob); n != 0 && blob[n-1] != '\n' && blob[n-1] != '\r' {
		blob = append(blob[:n:n], '\r', '\n')
	}

	br := bufio.NewReader(bytes.NewReader(blob))
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, buffer.MemoryBuffer{Slice: blob}, nil
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return textproto.Header{}, nil, streamError(err)
	}
	return hdr, buffer.MemoryBuffer{Slice: body}, nil
}

func streamError(err error) error {
	return exterrors.WithTemporary(fmt.Errorf("Error from stream line reader: %w", err), true)
}
