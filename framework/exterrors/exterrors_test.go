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

package exterrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestFields_OuterOverrides(t *testing.T) {
	inner := WithFields(errors.New("inner"), map[string]interface{}{"a": 1, "b": 1})
	outer := WithFields(fmt.Errorf("outer: %w", inner), map[string]interface{}{"a": 2})

	f := Fields(outer)
	if f["a"] != 2 || f["b"] != 1 {
		t.Fatalf("wrong fields: %v", f)
	}
}

func TestClassify(t *testing.T) {
	test := func(err error, disp Disposition, code int) {
		t.Helper()
		d, reply := Classify(err)
		if d != disp {
			t.Errorf("%v: disposition %v, want %v", err, d, disp)
		}
		if reply.Code != code {
			t.Errorf("%v: code %d, want %d", err, reply.Code, code)
		}
	}

	test(nil, OK, 250)
	test(errors.New("unknown"), DenySoft, 451)
	test(ErrNoRecipients, Deny, 550)
	test(&MalformedAddressError{Role: "to", Addr: "x", Err: errors.New("bad")}, Deny, 553)
	test(&QueueError{Stage: StageCommit, Path: "/q/x", Err: errors.New("EIO")}, DenySoft, 451)
	test(fmt.Errorf("wrapped: %w", &QueueError{Stage: StageOpen}), DenySoft, 451)
	test(WithFields(WithTemporary(errors.New("hook"), false), map[string]interface{}{
		"smtp_code":     554,
		"smtp_enchcode": smtp.EnhancedCode{5, 7, 1},
	}), Deny, 554)
}

func TestConnTimeoutError(t *testing.T) {
	err := &ConnTimeoutError{Host: "mx.example.org", Port: 25}
	if err.Error() != "Outbound connection timed out to mx.example.org:25" {
		t.Error("wrong message:", err.Error())
	}
	if !IsTemporary(err) {
		t.Error("timeout is not temporary")
	}
}
