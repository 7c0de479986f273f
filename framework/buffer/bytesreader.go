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

package buffer

import (
	"bytes"
)

// BytesReader is a bytes.Reader with a no-op Close method that also
// gives access to the unread part of the original slice.
type BytesReader struct {
	*bytes.Reader
	value []byte
}

// Bytes returns the unread portion of the underlying slice.
func (br BytesReader) Bytes() []byte {
	return br.value[int(br.Size())-br.Len():]
}

func (br BytesReader) Close() error {
	return nil
}

func NewBytesReader(b []byte) BytesReader {
	return BytesReader{
		Reader: bytes.NewReader(b),
		value:  b,
	}
}
