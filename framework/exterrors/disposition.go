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

	"github.com/emersion/go-smtp"
)

// Disposition is the single verdict returned to the submitter of a
// transaction.
type Disposition int

const (
	OK Disposition = iota
	Deny
	DenySoft
)

func (d Disposition) String() string {
	switch d {
	case OK:
		return "ok"
	case Deny:
		return "deny"
	case DenySoft:
		return "denysoft"
	}
	return "unknown"
}

// Classify maps err to the disposition reported to the submitter and to the
// SMTP reply that would carry it.
//
// nil is OK. Errors are temporary unless they say otherwise, the same rule
// is applied to everything coming out of the queue. smtp_code,
// smtp_enchcode and smtp_msg fields override the defaults.
func Classify(err error) (Disposition, *smtp.SMTPError) {
	if err == nil {
		return OK, &smtp.SMTPError{
			Code:         250,
			EnhancedCode: smtp.EnhancedCode{2, 0, 0},
			Message:      "OK",
		}
	}

	res := &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 0, 0},
		Message:      err.Error(),
	}
	disp := DenySoft
	if !IsTemporaryOrUnspec(err) {
		disp = Deny
		res.Code = 550
		res.EnhancedCode = smtp.EnhancedCode{5, 0, 0}
		var malformed *MalformedAddressError
		if errors.As(err, &malformed) {
			res.Code = 553
			res.EnhancedCode = smtp.EnhancedCode{5, 1, 3}
		}
	}

	fields := Fields(err)
	if code, ok := fields["smtp_code"].(int); ok {
		res.Code = code
	}
	if enchCode, ok := fields["smtp_enchcode"].(smtp.EnhancedCode); ok {
		res.EnhancedCode = enchCode
	}
	if msg, ok := fields["smtp_msg"].(string); ok {
		res.Message = msg
	}

	return disp, res
}
