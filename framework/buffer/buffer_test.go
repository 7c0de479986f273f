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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryBuffer_Reopen(t *testing.T) {
	b, err := BufferInMemory(strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		r, err := b.Open()
		if err != nil {
			t.Fatal(err)
		}
		blob, _ := io.ReadAll(r)
		r.Close()
		if string(blob) != "hello" {
			t.Fatalf("read %d: got %q", i, blob)
		}
	}
	if b.Len() != 5 {
		t.Error("wrong Len:", b.Len())
	}
}

func TestFileSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("headerBODY"), 0o600); err != nil {
		t.Fatal(err)
	}

	fs := FileSection{Path: path, Offset: 6}
	if fs.Len() != 4 {
		t.Error("wrong Len:", fs.Len())
	}
	r, err := fs.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	blob, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "BODY" {
		t.Fatalf("got %q", blob)
	}
}
