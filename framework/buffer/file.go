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
)

// FileSection implements Buffer over a region of a file that starts at
// Offset and extends to the end of the file. It is used to expose the body
// section of a queue file without copying it.
type FileSection struct {
	Path   string
	Offset int64
}

type sectionReader struct {
	*io.SectionReader
	f *os.File
}

func (sr sectionReader) Close() error {
	return sr.f.Close()
}

func (fs FileSection) Open() (io.ReadCloser, error) {
	f, err := os.Open(fs.Path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return sectionReader{
		SectionReader: io.NewSectionReader(f, fs.Offset, info.Size()-fs.Offset),
		f:             f,
	}, nil
}

func (fs FileSection) Len() int {
	info, err := os.Stat(fs.Path)
	if err != nil {
		return 0
	}
	return int(info.Size() - fs.Offset)
}

// Remove removes the whole file, not only the section.
func (fs FileSection) Remove() error {
	return os.Remove(fs.Path)
}
