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
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
	"golang.org/x/text/transform"
)

// Replaced in tests to simulate failures of the corresponding steps.
var (
	renameFile = os.Rename
	syncFile   = func(f *os.File) error { return f.Sync() }
	syncDir    = syncDirectory
)

// writeBufferSize bounds the amount of data kept in memory before the
// writer blocks on the file.
const writeBufferSize = 64 * 1024

// Writer persists TODOItems as queue files.
//
// Each file is written under a temporary name, synced and then renamed to
// its final name, so a file visible under a final name is always
// complete.
type Writer struct {
	dir   string
	names *nameGenerator
	log   log.Logger
}

func NewWriter(dir string, pid int, hostname string, logger log.Logger) *Writer {
	return &Writer{
		dir:   dir,
		names: newNameGenerator(pid, hostname),
		log:   logger,
	}
}

// Write writes the queue file for todo and returns the handle for the
// committed file. On error, nothing written by this call is left on disk.
func (w *Writer) Write(todo *TODOItem) (*HMailItem, error) {
	now := time.Now()
	name := w.names.next(now, now, 0)
	fname := name.String()
	tmpPath := filepath.Join(w.dir, TempName(fname))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, &exterrors.QueueError{Stage: exterrors.StageOpen, Path: tmpPath, Err: err}
	}

	if err := w.writeFile(f, todo); err != nil {
		w.log.Error("unable to write queue file", err, "path", tmpPath, "uuid", todo.UUID)
		f.Close()
		w.removeFile(tmpPath)
		return nil, &exterrors.QueueError{Stage: exterrors.StageWrite, Path: tmpPath, Err: err}
	}

	destPath := filepath.Join(w.dir, fname)
	if err := renameFile(tmpPath, destPath); err != nil {
		w.log.Error("unable to rename tmp file", err, "path", tmpPath, "uuid", todo.UUID)
		w.removeFile(tmpPath)
		return nil, &exterrors.QueueError{Stage: exterrors.StageCommit, Path: destPath, Err: err}
	}
	if err := syncDir(w.dir); err != nil {
		w.log.Error("unable to sync queue directory", err, "path", destPath, "uuid", todo.UUID)
		w.removeFile(destPath)
		return nil, &exterrors.QueueError{Stage: exterrors.StageCommit, Path: destPath, Err: err}
	}

	return &HMailItem{
		Filename:    fname,
		Path:        destPath,
		Notes:       todo.Notes,
		Domain:      todo.Domain,
		UUID:        todo.UUID,
		NextAttempt: name.NextAttempt,
	}, nil
}

func (w *Writer) writeFile(f *os.File, todo *TODOItem) error {
	header, err := BuildTODO(todo)
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(f, writeBufferSize)

	// The whole header must reach the file before any body byte does,
	// otherwise the length prefix may not describe what follows it.
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if todo.Message == nil {
		return errors.New("queue: todo without message")
	}
	msg, err := todo.Message.Open()
	if err != nil {
		return err
	}
	defer msg.Close()

	tw := transform.NewWriter(bw, NewBodyTransformer(!todo.DotStuffed))
	if _, err := io.Copy(tw, msg); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if err := syncFile(f); err != nil {
		return err
	}
	return f.Close()
}

func (w *Writer) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Error("failed to remove queue file", err, "path", path)
	}
}
