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

// Package buffer provides storage for message bodies that may need to be
// read more than once, for example once per destination domain.
package buffer

import (
	"io"
)

// Buffer represents immutable storage for a blob.
//
// Each Open call returns an independent Reader positioned at the start of
// the blob. It is the creator's responsibility to call Remove once the
// Buffer is no longer needed.
type Buffer interface {
	// Open creates new Reader reading from the underlying storage.
	Open() (io.ReadCloser, error)

	// Len reports the length of the stored blob.
	Len() int

	// Remove discards the stored blob. Readers previously created using
	// Open can still be used, but new ones can't be created.
	Remove() error
}
