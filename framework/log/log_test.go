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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mailhaul/outbound/framework/exterrors"
	"go.uber.org/zap/zapcore"
)

func captureLogger(debug bool) (Logger, *[]string) {
	var lines []string
	return Logger{
		Out: FuncOutput(func(_ time.Time, dbg bool, msg string) {
			if dbg {
				msg = "[debug] " + msg
			}
			lines = append(lines, msg)
		}, nil),
		Name:  "test",
		Debug: debug,
	}, &lines
}

func TestLogger_Msg(t *testing.T) {
	l, lines := captureLogger(false)
	l.With("uuid", "abc").Msg("queued", "domain", "example.org", "count", 2)

	want := `test: queued	{"count":2,"domain":"example.org","uuid":"abc"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("got %q, want %q", *lines, want)
	}
}

func TestLogger_Error(t *testing.T) {
	l, lines := captureLogger(false)
	err := exterrors.WithFields(errors.New("disk full"), map[string]interface{}{"stage": "write"})
	l.Error("queue write failed", err, "path", "/q/1")
	l.Error("ignored", nil)

	want := `test: queue write failed	{"path":"/q/1","reason":"disk full","stage":"write"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("got %q, want %q", *lines, want)
	}
}

func TestLogger_Debug(t *testing.T) {
	l, lines := captureLogger(false)
	l.Debugf("hidden %d", 1)
	if len(*lines) != 0 {
		t.Fatal("debug message written with Debug = false")
	}

	l.Debug = true
	l.Debugf("shown %d", 2)
	if len(*lines) != 1 || (*lines)[0] != "[debug] test: shown 2\t" {
		t.Fatalf("got %q", *lines)
	}
}

func TestZapOutput(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{Out: ZapOutput(zapcore.AddSync(&buf), false), Name: "queue"}
	l.Msg("queued", "domain", "example.org")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "queue: queued" {
		t.Error("wrong msg:", entry["msg"])
	}
	fields, _ := entry["fields"].(map[string]interface{})
	if fields["domain"] != "example.org" {
		t.Error("wrong fields:", entry["fields"])
	}

	buf.Reset()
	l.Debug = true
	l.Debugf("not written")
	if strings.TrimSpace(buf.String()) != "" {
		t.Error("debug message written at info level")
	}
}
