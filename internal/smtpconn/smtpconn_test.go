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

package smtpconn

import (
	"errors"
	"net"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/internal/testutils"
)

func TestWrapClientErr(t *testing.T) {
	c := New()
	c.Log = testutils.Logger(t, "smtpconn")

	cases := []struct {
		name     string
		err      error
		temp     bool
		code     interface{}
		enchCode interface{}
	}{
		{
			name:     "permanent",
			err:      &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"},
			temp:     false,
			code:     550,
			enchCode: smtp.EnhancedCode{5, 1, 1},
		},
		{
			name:     "temporary",
			err:      &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 4, 5}, Message: "busy"},
			temp:     true,
			code:     421,
			enchCode: smtp.EnhancedCode{4, 4, 5},
		},
		{
			name:     "552 rewritten",
			err:      &smtp.SMTPError{Code: 552, EnhancedCode: smtp.EnhancedCode{5, 2, 2}, Message: "full"},
			temp:     true,
			code:     452,
			enchCode: smtp.EnhancedCode{4, 2, 2},
		},
		{
			name: "no enhanced code",
			err:  &smtp.SMTPError{Code: 554, Message: "go away"},
			temp: false,
			code: 554,
		},
		{
			name: "network",
			err:  &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")},
			temp: true,
		},
	}

	for _, case_ := range cases {
		case_ := case_
		t.Run(case_.name, func(t *testing.T) {
			err := c.wrapClientErr(case_.err, "mx.example.org")
			if exterrors.IsTemporary(err) != case_.temp {
				t.Errorf("IsTemporary = %v, want %v", exterrors.IsTemporary(err), case_.temp)
			}
			fields := exterrors.Fields(err)
			if fields["smtp_code"] != case_.code {
				t.Errorf("smtp_code = %v, want %v", fields["smtp_code"], case_.code)
			}
			if fields["smtp_enchcode"] != case_.enchCode {
				t.Errorf("smtp_enchcode = %v, want %v", fields["smtp_enchcode"], case_.enchCode)
			}
			if !errors.Is(err, case_.err) {
				t.Errorf("original error is not wrapped")
			}
		})
	}

	if c.wrapClientErr(nil, "mx.example.org") != nil {
		t.Error("nil error wrapped")
	}
}
