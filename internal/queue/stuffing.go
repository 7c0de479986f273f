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
	"io"

	"golang.org/x/text/transform"
)

// bodyTransformer normalizes line endings to CRLF and, if stuff is set,
// doubles the leading dot of every line (RFC 5321 section 4.5.2).
//
// Bare CR and bare LF are both treated as line endings. No terminating
// ".\r\n" line is added.
type bodyTransformer struct {
	stuff bool

	lineStart bool
	pendingCR bool
}

// NewBodyTransformer returns the transformer used to write message bodies
// into queue files.
func NewBodyTransformer(dotStuff bool) transform.Transformer {
	return &bodyTransformer{stuff: dotStuff, lineStart: true}
}

func (t *bodyTransformer) Reset() {
	t.lineStart = true
	t.pendingCR = false
}

func (t *bodyTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		// Worst case for one input byte: CRLF for a pending CR and then
		// a stuffed dot.
		if len(dst)-nDst < 4 {
			return nDst, nSrc, transform.ErrShortDst
		}

		c := src[nSrc]
		nSrc++

		if t.pendingCR {
			t.pendingCR = false
			nDst += copy(dst[nDst:], "\r\n")
			t.lineStart = true
			if c == '\n' {
				continue
			}
		}

		switch c {
		case '\r':
			t.pendingCR = true
		case '\n':
			nDst += copy(dst[nDst:], "\r\n")
			t.lineStart = true
		case '.':
			if t.lineStart && t.stuff {
				dst[nDst] = '.'
				nDst++
			}
			dst[nDst] = c
			nDst++
			t.lineStart = false
		default:
			dst[nDst] = c
			nDst++
			t.lineStart = false
		}
	}

	if atEOF && t.pendingCR {
		if len(dst)-nDst < 2 {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], "\r\n")
		t.pendingCR = false
		t.lineStart = true
	}

	return nDst, nSrc, nil
}

// unstuffTransformer drops the leading dot of every line that starts with
// one. Input is expected to be CRLF-normalized and dot-stuffed.
type unstuffTransformer struct {
	lineStart bool
}

// NewUnstuffTransformer returns the transformer that turns a queue file body
// back into plain message text.
func NewUnstuffTransformer() transform.Transformer {
	return &unstuffTransformer{lineStart: true}
}

func (t *unstuffTransformer) Reset() {
	t.lineStart = true
}

func (t *unstuffTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '.' && t.lineStart {
			t.lineStart = false
			nSrc++
			continue
		}
		if nDst == len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
		t.lineStart = c == '\n'
	}
	return nDst, nSrc, nil
}

// OpenBody opens the message of todo as plain CRLF text with dot-stuffing
// undone.
func OpenBody(todo *TODOItem) (io.ReadCloser, error) {
	r, err := todo.Message.Open()
	if err != nil {
		return nil, err
	}
	if !todo.DotStuffed {
		return r, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{transform.NewReader(r, NewUnstuffTransformer()), r}, nil
}
