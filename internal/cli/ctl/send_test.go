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

package ctl

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/internal/outbound"
	"github.com/mailhaul/outbound/internal/queue"
	"github.com/mailhaul/outbound/internal/testutils"
)

func TestSpool(t *testing.T) {
	cfg := config.Default()
	cfg.QueueDir = filepath.Join(t.TempDir(), "queue")
	cfg.Hostname = "mx.example.org"

	sp, err := newSpool(cfg, 4242, testutils.Logger(t, "send"))
	if err != nil {
		t.Fatal(err)
	}
	ob := outbound.New(sp, outbound.Config{
		ReceivedHeader: cfg.ReceivedHeader,
		Hostname:       cfg.Hostname,
		Log:            testutils.Logger(t, "outbound"),
	})

	res := ob.SendEmail(context.Background(), "sender@example.org",
		[]string{"a@example.com", "b@example.net"},
		"Subject: hi\r\n\r\nhello\r\n", outbound.Options{Origin: "test"})
	if res.Code != exterrors.OK {
		t.Fatalf("unexpected result: %v", res)
	}

	if len(sp.written) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sp.written))
	}
	for _, hmail := range sp.written {
		name, err := queue.ParseFileName(hmail.Filename)
		if err != nil {
			t.Fatal(err)
		}
		if name.PID != 4242 {
			t.Errorf("file is not owned by the sender process: %s", hmail.Filename)
		}
		if _, err := os.Stat(hmail.Path); err != nil {
			t.Error(err)
		}
	}
}

func TestDiscoverSockets(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"outbound.10.sock", "outbound.20.sock", "other.sock", "outbound.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := discoverSockets(dir)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(paths)
	want := []string{filepath.Join(dir, "outbound.10.sock"), filepath.Join(dir, "outbound.20.sock")}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("wrong sockets: %v", paths)
	}

	if _, err := discoverSockets(t.TempDir()); err == nil {
		t.Error("expected an error for a directory without sockets")
	}
}
