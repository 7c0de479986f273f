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
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// atext characters other than alphanumerics, RFC 5322 section 3.2.3, plus
// the dot which is handled by the dot-atom rule.
const atextGraphic = "!#$%&'*+-/=?^_`{|}~."

// ValidMailboxName checks whether the specified string is a valid local-part
// of an e-mail address. RFC 6531 (SMTPUTF8) characters are allowed.
func ValidMailboxName(mbox string) bool {
	if strings.HasPrefix(mbox, `"`) {
		raw, err := UnquoteMbox(mbox)
		if err != nil {
			return false
		}
		for _, ch := range raw {
			if ch < ' ' || ch == 0x7F {
				return false
			}
		}
		return true
	}

	if strings.HasPrefix(mbox, ".") || strings.HasSuffix(mbox, ".") || strings.Contains(mbox, "..") {
		return false
	}

	for _, ch := range mbox {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z':
		case ch > 0x7F:
		case strings.ContainsRune(atextGraphic, ch):
		default:
			return false
		}
	}
	return true
}

// ValidDomain checks whether the specified string is a valid DNS domain or
// an address literal ("[1.2.3.4]").
func ValidDomain(domain string) bool {
	if len(domain) > 255 || len(domain) == 0 {
		return false
	}
	if strings.HasPrefix(domain, "[") {
		return strings.HasSuffix(domain, "]") && len(domain) > 2
	}
	if strings.HasPrefix(domain, ".") || strings.Contains(domain, "..") {
		return false
	}

	// Length limits apply to the A-label form.
	domainASCII, err := idna.ToASCII(domain)
	if err != nil {
		return false
	}
	for _, label := range strings.Split(domainASCII, ".") {
		if len(label) > 63 {
			return false
		}
	}
	return true
}

// IsASCII reports whether s contains only ASCII characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
