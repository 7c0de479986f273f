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

package outboundcli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/hooks"
	"github.com/mailhaul/outbound/framework/log"
	"go.uber.org/zap/zapcore"
)

// InitLogging points log.DefaultLogger at the output described by cfg.
// File outputs are reopened on hooks.EventLogRotate.
func InitLogging(cfg config.Log) error {
	debug := log.DefaultLogger.Debug || cfg.Debug

	out, err := logOutput(cfg, debug)
	if err != nil {
		return err
	}
	log.DefaultLogger.Out = out
	log.DefaultLogger.Debug = debug
	return nil
}

func logOutput(cfg config.Log, debug bool) (log.Output, error) {
	if cfg.File == "" {
		if cfg.Format == "json" {
			return log.ZapOutput(zapcore.Lock(os.Stderr), debug), nil
		}
		return log.WriterOutput(os.Stderr, true), nil
	}

	if cfg.Format == "json" {
		f, err := openReopenable(cfg.File)
		if err != nil {
			return nil, err
		}
		hooks.AddHook(hooks.EventLogRotate, reopenHook(cfg.File, f.Reopen))
		return log.MultiOutput(log.ZapOutput(f, debug), closerOutput{f}), nil
	}

	fo, err := log.NewFileOutput(cfg.File)
	if err != nil {
		return nil, err
	}
	hooks.AddHook(hooks.EventLogRotate, reopenHook(cfg.File, fo.Reopen))
	return fo, nil
}

func reopenHook(path string, reopen func() error) func() {
	return func() {
		if err := reopen(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to reopen %s: %v\n", path, err)
		}
	}
}

// reopenableFile is a zapcore.WriteSyncer over a file that can be
// replaced after rotation.
type reopenableFile struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func openReopenable(path string) (*reopenableFile, error) {
	rf := &reopenableFile{path: path}
	if err := rf.Reopen(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *reopenableFile) Reopen() error {
	f, err := os.OpenFile(rf.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f != nil {
		rf.f.Close()
	}
	rf.f = f
	return nil
}

func (rf *reopenableFile) Write(b []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Write(b)
}

func (rf *reopenableFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Sync()
}

func (rf *reopenableFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Close()
}

// closerOutput closes the underlying file after the zap output was
// flushed by MultiOutput.
type closerOutput struct {
	c interface{ Close() error }
}

func (closerOutput) Write(time.Time, bool, string) {}

func (co closerOutput) Close() error {
	return co.c.Close()
}
