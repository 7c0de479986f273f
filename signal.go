//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

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
	"syscall"

	"github.com/mailhaul/outbound/framework/hooks"
	"github.com/mailhaul/outbound/framework/log"
)

// handleSignals listens for OS signals.
//
// The first of SIGTERM, SIGHUP or SIGINT is sent on the returned channel,
// the next one forces an immediate exit.
//
// SIGUSR1 runs the log rotation hooks.
func handleSignals() <-chan os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGUSR1)

	stop := make(chan os.Signal, 1)
	go func() {
		stopping := false
		for s := range sig {
			switch {
			case s == syscall.SIGUSR1:
				log.Println("SIGUSR1 received, reopening log files")
				hooks.RunHooks(hooks.EventLogRotate)
			case stopping:
				log.Printf("forced shutdown due to signal (%v)!", s)
				os.Exit(1)
			default:
				log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
				stopping = true
				stop <- s
			}
		}
	}()
	return stop
}
