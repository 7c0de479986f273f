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

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type wcOutput struct {
	timestamps bool
	wc         io.WriteCloser
}

func (w wcOutput) Write(stamp time.Time, debug bool, msg string) {
	builder := strings.Builder{}
	if w.timestamps {
		builder.WriteString(stamp.UTC().Format("2006-01-02T15:04:05.000Z "))
	}
	if debug {
		builder.WriteString("[debug] ")
	}
	builder.WriteString(msg)
	builder.WriteRune('\n')
	if _, err := io.WriteString(w.wc, builder.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (w wcOutput) Close() error {
	return w.wc.Close()
}

// WriteCloserOutput returns a log.Output implementation that writes
// formatted messages to wc. Closing the Output closes wc.
//
// Messages include a timestamp with millisecond precision (unless
// timestamps is false) and the [debug] prefix for debug messages.
func WriteCloserOutput(wc io.WriteCloser, timestamps bool) Output {
	return wcOutput{timestamps, wc}
}

type nopCloser struct {
	io.Writer
}

func (nc nopCloser) Close() error {
	return nil
}

// WriterOutput is like WriteCloserOutput, but closing the returned Output
// has no effect on w.
func WriterOutput(w io.Writer, timestamps bool) Output {
	return wcOutput{timestamps, nopCloser{w}}
}

// FileOutput writes messages to the file at path. The file can be reopened
// using Reopen, after a log rotation for example.
type FileOutput struct {
	path string

	mu  sync.Mutex
	out Output
}

func NewFileOutput(path string) (*FileOutput, error) {
	fo := &FileOutput{path: path}
	if err := fo.Reopen(); err != nil {
		return nil, err
	}
	return fo, nil
}

func (fo *FileOutput) Reopen() error {
	f, err := os.OpenFile(fo.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}

	fo.mu.Lock()
	defer fo.mu.Unlock()
	if fo.out != nil {
		fo.out.Close()
	}
	fo.out = WriteCloserOutput(f, true)
	return nil
}

func (fo *FileOutput) Write(stamp time.Time, debug bool, msg string) {
	fo.mu.Lock()
	defer fo.mu.Unlock()
	fo.out.Write(stamp, debug, msg)
}

func (fo *FileOutput) Close() error {
	fo.mu.Lock()
	defer fo.mu.Unlock()
	return fo.out.Close()
}
