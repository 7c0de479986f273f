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

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// DomainForLookup converts the domain into a canonical form suitable for
// map lookups and comparisons: U-labels, NFC, lower case, no trailing dot.
//
// Malformed A-labels are simply lower-cased, the error is returned too.
func DomainForLookup(domain string) (string, error) {
	uDomain, err := idna.ToUnicode(domain)
	if err != nil {
		return strings.ToLower(domain), err
	}
	uDomain = strings.ToLower(norm.NFC.String(uDomain))
	return strings.TrimSuffix(uDomain, "."), nil
}

// ForLookup returns the canonical form of the address. Addresses that are
// Equal have the same ForLookup value.
func (a Address) ForLookup() string {
	mbox := strings.ToLower(norm.NFC.String(a.mailbox))
	if a.domain == "" {
		return mbox
	}
	domain, _ := DomainForLookup(a.domain)
	return mbox + "@" + domain
}

// Equal reports whether a and b are case-insensitively equivalent.
func (a Address) Equal(b Address) bool {
	if a == b {
		return true
	}
	return a.ForLookup() == b.ForLookup()
}
