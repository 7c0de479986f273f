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

package address

import (
	"errors"
	"strings"
)

// Split splits an email address (as defined by RFC 5321 as a forward-path
// token) into local part (mailbox) and domain.
//
// The special postmaster address without the domain part is accepted,
// domain == "" is returned in this case.
//
// Split only looks for the at-sign, ValidMailboxName and ValidDomain should
// be used on the output if the syntax matters.
func Split(addr string) (mailbox, domain string, err error) {
	if strings.EqualFold(addr, "postmaster") {
		return addr, "", nil
	}

	indx := strings.LastIndexByte(addr, '@')
	if indx == -1 {
		return "", "", errors.New("address: missing at-sign")
	}
	mailbox = addr[:indx]
	domain = addr[indx+1:]
	if mailbox == "" {
		return "", "", errors.New("address: empty local-part")
	}
	if domain == "" {
		return "", "", errors.New("address: empty domain")
	}
	return
}

// UnquoteMbox undoes escaping and quoting of the local-part. For the
// local-part `"test\" @ test"` it returns `test" @ test`.
func UnquoteMbox(mbox string) (string, error) {
	var (
		quoted, escaped, closed bool
		out                     strings.Builder
	)
	for _, ch := range mbox {
		if closed {
			return "", errors.New("address: closing quote should be right before at-sign")
		}

		if escaped {
			escaped = false
			out.WriteRune(ch)
			continue
		}

		switch ch {
		case '"':
			quoted = !quoted
			closed = !quoted
			continue
		case '\\':
			if !quoted {
				return "", errors.New("address: escapes are allowed only in quoted strings")
			}
			escaped = true
			continue
		case '@':
			if !quoted {
				return "", errors.New("address: extra at-sign in non-quoted local-part")
			}
		}
		out.WriteRune(ch)
	}

	if quoted {
		return "", errors.New("address: unterminated quoted string")
	}
	if out.Len() == 0 {
		return "", errors.New("address: empty local part")
	}
	return out.String(), nil
}
