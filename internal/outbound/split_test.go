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
	"reflect"
	"testing"

	"github.com/mailhaul/outbound/framework/address"
)

func rcpts(addrs ...string) []address.Address {
	out := make([]address.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, address.MustParse(a))
	}
	return out
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name        string
		rcpts       []string
		alwaysSplit bool
		want        []Delivery
	}{
		{
			name:  "group by domain",
			rcpts: []string{"r1@a", "r2@b", "r3@a"},
			want: []Delivery{
				{Domain: "a", Rcpts: rcpts("r1@a", "r3@a")},
				{Domain: "b", Rcpts: rcpts("r2@b")},
			},
		},
		{
			name:        "always split",
			rcpts:       []string{"r1@a", "r2@b", "r3@a"},
			alwaysSplit: true,
			want: []Delivery{
				{Domain: "a", Rcpts: rcpts("r1@a")},
				{Domain: "b", Rcpts: rcpts("r2@b")},
				{Domain: "a", Rcpts: rcpts("r3@a")},
			},
		},
		{
			name:  "case is kept",
			rcpts: []string{"r1@A.example", "r2@a.example"},
			want: []Delivery{
				{Domain: "A.example", Rcpts: rcpts("r1@A.example")},
				{Domain: "a.example", Rcpts: rcpts("r2@a.example")},
			},
		},
		{
			name:  "single",
			rcpts: []string{"r1@a"},
			want:  []Delivery{{Domain: "a", Rcpts: rcpts("r1@a")}},
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			txn := NewTransaction()
			txn.RcptTo = rcpts(c.rcpts...)

			got := Split(txn, c.alwaysSplit)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("wrong deliveries:\ngot  %v\nwant %v", got, c.want)
			}
		})
	}
}
