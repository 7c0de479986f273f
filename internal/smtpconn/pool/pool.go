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

// Package pool creates and retires the outbound sockets used by the
// delivery agent.
//
// Every acquisition ends in exactly one of three ways: the connection is
// established, dialing fails or the connect timeout expires first. The
// callback passed to GetAsync is invoked exactly once with the outcome and
// nothing related to the attempt happens after that, a connection that
// completes after the timeout is closed silently.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/future"
	"github.com/mailhaul/outbound/framework/log"
)

const (
	DefaultPort           = 25
	DefaultHost           = "localhost"
	DefaultConnectTimeout = 30 * time.Second
)

// ErrClosed is the cause of acquisitions attempted after Close.
var ErrClosed = errors.New("pool: closed")

// DialerFunc establishes the transport connection. localAddr is the
// local IP address to bind to, it is empty if any address will do.
type DialerFunc func(ctx context.Context, network, addr, localAddr string) (net.Conn, error)

type Config struct {
	// ConnectTimeout limits the time from the start of the acquisition
	// until the connection is established.
	ConnectTimeout time.Duration

	// Dialer is used for all connections. If nil, net.Dialer is used,
	// through SOCKS5 if it is set. Unix sockets are never proxied.
	Dialer DialerFunc
	SOCKS5 *SOCKS5

	Log log.Logger
}

// Socket is an established outbound connection.
type Socket struct {
	net.Conn

	// Name is "outbound::port:host:local_addr".
	Name string
	UUID string
	// Timeout is the connect timeout the socket was created with, the
	// delivery agent uses it as the idle timeout for the session.
	Timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// destroy closes the underlying connection. It is safe to call it more
// than once.
func (s *Socket) destroy() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// Callback receives the outcome of GetAsync. Exactly one of sock and err
// is non-nil.
type Callback func(sock *Socket, err error)

type P struct {
	cfg Config
	log log.Logger

	lock    sync.Mutex
	closed  bool
	sockets map[*Socket]struct{}
}

func New(cfg Config) (*P, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	p := &P{
		cfg:     cfg,
		log:     cfg.Log,
		sockets: make(map[*Socket]struct{}),
	}

	if cfg.Dialer == nil {
		p.cfg.Dialer = dialDirect
		if cfg.SOCKS5 != nil {
			d, err := cfg.SOCKS5.dialer()
			if err != nil {
				return nil, err
			}
			p.cfg.Dialer = d
		}
	}

	return p, nil
}

func socketName(port int, host, localAddr string) string {
	return "outbound::" + strconv.Itoa(port) + ":" + host + ":" + localAddr
}

// GetAsync starts connecting to host:port (or to the unix socket at path
// host if isUnix is set) and calls cb with the result from another
// goroutine. Zero port and empty host are replaced with DefaultPort and
// DefaultHost.
func (p *P) GetAsync(ctx context.Context, port int, host, localAddr string, isUnix bool, cb Callback) {
	if port == 0 {
		port = DefaultPort
	}
	if host == "" {
		host = DefaultHost
	}
	name := socketName(port, host, localAddr)
	id := uuid.NewString()
	l := p.log.With("uuid", id)

	p.lock.Lock()
	closed := p.closed
	p.lock.Unlock()
	if closed {
		connAttempts.WithLabelValues("error").Inc()
		go cb(nil, &exterrors.ConnError{Name: name, Err: ErrClosed})
		return
	}

	l.Debugf("connecting to %s port %d", host, port)

	result := future.New()
	dialCtx, cancel := context.WithCancel(ctx)

	finish := func(sock *Socket, err error, outcome string) bool {
		if !result.TrySet(sock, err) {
			return false
		}
		connAttempts.WithLabelValues(outcome).Inc()
		if err != nil {
			l.Error("outbound connection failed", err)
		} else {
			l.Debugf("connected to %s", sock.RemoteAddr())
		}
		cb(sock, err)
		return true
	}

	timer := time.AfterFunc(p.cfg.ConnectTimeout, func() {
		if finish(nil, &exterrors.ConnTimeoutError{Host: host, Port: port}, "timeout") {
			cancel()
		}
	})

	go func() {
		defer cancel()

		network, addr := "tcp", net.JoinHostPort(host, strconv.Itoa(port))
		if isUnix {
			network, addr = "unix", host
		}

		conn, err := p.cfg.Dialer(dialCtx, network, addr, localAddr)
		timer.Stop()
		if err != nil {
			finish(nil, &exterrors.ConnError{Name: name, Err: err}, "error")
			return
		}

		sock := &Socket{
			Conn:    conn,
			Name:    name,
			UUID:    id,
			Timeout: p.cfg.ConnectTimeout,
		}
		if !p.track(sock) {
			sock.destroy()
			finish(nil, &exterrors.ConnError{Name: name, Err: ErrClosed}, "error")
			return
		}
		if !finish(sock, nil, "ok") {
			// Timed out while the connection was completing.
			p.untrack(sock)
			sock.destroy()
		}
	}()
}

// Get is the blocking version of GetAsync.
func (p *P) Get(ctx context.Context, port int, host, localAddr string, isUnix bool) (*Socket, error) {
	result := future.New()
	p.GetAsync(ctx, port, host, localAddr, isUnix, func(sock *Socket, err error) {
		result.Set(sock, err)
	})

	val, err := result.Get()
	if err != nil {
		return nil, err
	}
	return val.(*Socket), nil
}

// Release retires sock. The transport is closed unconditionally, sock must
// not be used afterwards. Releasing the same socket twice is harmless.
//
// err is the error the session ended with, if any, it is only logged.
func (p *P) Release(sock *Socket, port int, host, localAddr string, err error) {
	if sock == nil {
		return
	}
	l := p.log.With("uuid", sock.UUID)
	if err != nil {
		l.Error("releasing socket after error", err, "host", host, "port", port, "local_addr", localAddr)
	} else {
		l.Debugf("releasing socket %s:%d to %s", host, port, localAddr)
	}

	p.untrack(sock)
	if cerr := sock.destroy(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		l.Debugf("close: %v", cerr)
	}
}

func (p *P) track(sock *Socket) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return false
	}
	p.sockets[sock] = struct{}{}
	openSockets.Inc()
	return true
}

func (p *P) untrack(sock *Socket) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.sockets[sock]; ok {
		delete(p.sockets, sock)
		openSockets.Dec()
	}
}

// Open returns the number of sockets handed out and not yet released.
func (p *P) Open() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.sockets)
}

// Close destroys all sockets that were not released yet. Later
// acquisitions fail with ErrClosed.
func (p *P) Close() {
	p.lock.Lock()
	p.closed = true
	socks := p.sockets
	p.sockets = make(map[*Socket]struct{})
	openSockets.Sub(float64(len(socks)))
	p.lock.Unlock()

	for sock := range socks {
		sock.destroy()
	}
	if len(socks) != 0 {
		p.log.Msg("closed outstanding sockets", "count", len(socks))
	}
}

func dialDirect(ctx context.Context, network, addr, localAddr string) (net.Conn, error) {
	d := net.Dialer{}
	if localAddr != "" && network == "tcp" {
		ip := net.ParseIP(localAddr)
		if ip == nil {
			return nil, fmt.Errorf("invalid local address: %s", localAddr)
		}
		d.LocalAddr = &net.TCPAddr{IP: ip}
	}
	return d.DialContext(ctx, network, addr)
}
