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

package outbound

import (
	"github.com/mailhaul/outbound/framework/address"
)

// Delivery is one destination grouping of a transaction. Each delivery
// becomes a separate queue file.
type Delivery struct {
	Domain string
	Rcpts  []address.Address
}

// Split groups the recipients of txn by domain, in the order domains are
// first seen. Domains are compared as given, without case folding.
//
// If alwaysSplit is set, every recipient gets a Delivery of its own.
func Split(txn *Transaction, alwaysSplit bool) []Delivery {
	if alwaysSplit {
		deliveries := make([]Delivery, 0, len(txn.RcptTo))
		for _, rcpt := range txn.RcptTo {
			deliveries = append(deliveries, Delivery{
				Domain: rcpt.Domain(),
				Rcpts:  []address.Address{rcpt},
			})
		}
		return deliveries
	}

	var deliveries []Delivery
	byDomain := make(map[string]int)
	for _, rcpt := range txn.RcptTo {
		domain := rcpt.Domain()
		i, ok := byDomain[domain]
		if !ok {
			i = len(deliveries)
			byDomain[domain] = i
			deliveries = append(deliveries, Delivery{Domain: domain})
		}
		deliveries[i].Rcpts = append(deliveries[i].Rcpts, rcpt)
	}
	return deliveries
}
