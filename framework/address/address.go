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

// Package address implements the envelope address type used across the
// outbound core together with helpers for syntax checks and normalization.
package address

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Address is an envelope (RFC 5321) mail address.
//
// The zero value is the null reverse-path ("<>"). Address values are
// immutable, copies are cheap and safe to share.
type Address struct {
	mailbox string
	domain  string
}

// Null is the null reverse-path, used for bounces.
var Null = Address{}

// ErrMalformed is wrapped by all errors returned by Parse.
var ErrMalformed = errors.New("malformed address")

// Parse parses the string representation of an envelope address.
//
// Surrounding angle brackets are optional. "<>" and the empty string are
// parsed into Null. Parse does not normalize anything, the mailbox and
// domain keep the case they were given in.
func Parse(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	if strings.HasPrefix(raw, "<") {
		if !strings.HasSuffix(raw, ">") {
			return Address{}, fmt.Errorf("%w: %q: unbalanced angle brackets", ErrMalformed, s)
		}
		raw = raw[1 : len(raw)-1]
	}
	if raw == "" {
		return Null, nil
	}

	if len(raw) > 320 {
		return Address{}, fmt.Errorf("%w: %q: too long", ErrMalformed, s)
	}

	mbox, domain, err := Split(raw)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	if !ValidMailboxName(mbox) {
		return Address{}, fmt.Errorf("%w: %q: invalid local-part", ErrMalformed, s)
	}
	if domain != "" && !ValidDomain(domain) {
		return Address{}, fmt.Errorf("%w: %q: invalid domain", ErrMalformed, s)
	}

	return Address{mailbox: mbox, domain: domain}, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// for package-level values.
func MustParse(s string) Address {
	addr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Mailbox returns the local-part as it was given, including quotes.
func (a Address) Mailbox() string {
	return a.mailbox
}

// Domain returns the domain part. It is empty for Null and for the special
// "postmaster" address.
func (a Address) Domain() string {
	return a.domain
}

func (a Address) IsNull() bool {
	return a.mailbox == "" && a.domain == ""
}

// String returns the address without angle brackets, the empty string for
// Null.
func (a Address) String() string {
	if a.domain == "" {
		return a.mailbox
	}
	return a.mailbox + "@" + a.domain
}

// Format returns the address as it appears in MAIL FROM and RCPT TO
// commands, that is, in angle brackets.
func (a Address) Format() string {
	return "<" + a.String() + ">"
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
