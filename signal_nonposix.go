//go:build windows || plan9
// +build windows plan9

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
	"os"
	"os/signal"

	"github.com/mailhaul/outbound/framework/log"
)

func handleSignals() <-chan os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt)

	stop := make(chan os.Signal, 1)
	go func() {
		s := <-sig
		log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
		stop <- s

		s = <-sig
		log.Printf("forced shutdown due to signal (%v)!", s)
		os.Exit(1)
	}()
	return stop
}
