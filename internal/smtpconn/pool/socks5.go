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

package pool

import (
	"context"
	"errors"
	"net"
	"strconv"

	"golang.org/x/net/proxy"
)

// SOCKS5 describes the proxy used for TCP connections.
type SOCKS5 struct {
	Host string
	Port int

	User     string
	Password string
}

// forwardDialer binds the connection to the SOCKS5 server to the local
// address of the acquisition.
type forwardDialer struct {
	localAddr string
}

func (d forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return dialDirect(ctx, network, addr, d.localAddr)
}

func (d forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (s *SOCKS5) dialer() (DialerFunc, error) {
	var auth *proxy.Auth
	if s.User != "" && s.Password != "" {
		auth = &proxy.Auth{
			User:     s.User,
			Password: s.Password,
		}
	}
	proxyAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))

	// Make sure the configuration is usable before the first delivery.
	if _, err := proxy.SOCKS5("tcp", proxyAddr, auth, forwardDialer{}); err != nil {
		return nil, err
	}

	return func(ctx context.Context, network, addr, localAddr string) (net.Conn, error) {
		if network == "unix" {
			return dialDirect(ctx, network, addr, "")
		}

		socksDialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, forwardDialer{localAddr: localAddr})
		if err != nil {
			return nil, err
		}
		cd, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not implement proxy.ContextDialer")
		}
		return cd.DialContext(ctx, network, addr)
	}, nil
}
