//go:build linux
// +build linux

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
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/mailhaul/outbound/framework/log"
)

type SDStatus string

const (
	SDReady    SDStatus = "READY=1"
	SDStopping SDStatus = "STOPPING=1"
)

var errNoNotifySock = errors.New("no systemd socket")

func sdNotifySock() (*net.UnixConn, error) {
	sockAddr := os.Getenv("NOTIFY_SOCKET")
	if sockAddr == "" {
		return nil, errNoNotifySock
	}
	if strings.HasPrefix(sockAddr, "@") {
		sockAddr = "\x00" + sockAddr[1:]
	}

	return net.DialUnix("unixgram", nil, &net.UnixAddr{
		Name: sockAddr,
		Net:  "unixgram",
	})
}

func setScmPassCred(sock *net.UnixConn) error {
	sConn, err := sock.SyscallConn()
	if err != nil {
		return err
	}

	var sockoptErr error
	if err := sConn.Control(func(fd uintptr) {
		sockoptErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_PASSCRED, 1)
	}); err != nil {
		return err
	}
	return sockoptErr
}

// sdNotify sends the newline-separated assignments to the service
// manager. It is a no-op outside of systemd.
func sdNotify(assignments ...string) {
	sock, err := sdNotifySock()
	if err != nil {
		if !errors.Is(err, errNoNotifySock) {
			log.Println("systemd: failed to acquire notify socket:", err)
		}
		return
	}
	defer sock.Close()

	if err := setScmPassCred(sock); err != nil {
		log.Println("systemd: failed to set SCM_PASSCRED on the socket:", err)
	}

	msg := strings.Join(assignments, "\n")
	if _, err := sock.Write([]byte(msg)); err != nil {
		log.Println("systemd: I/O error:", err)
		return
	}
	log.Debugf("systemd: %q", msg)
}

func systemdStatus(status SDStatus, desc string) {
	if desc == "" {
		sdNotify(string(status))
		return
	}
	sdNotify(string(status), "STATUS="+desc)
}

func systemdStatusErr(reportedErr error) {
	var errno syscall.Errno
	if errors.As(reportedErr, &errno) {
		sdNotify(fmt.Sprintf("ERRNO=%d", errno), fmt.Sprintf("STATUS=%v", reportedErr))
		return
	}
	sdNotify(fmt.Sprintf("STATUS=%v", reportedErr))
}
