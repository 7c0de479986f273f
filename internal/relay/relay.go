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

// Package relay implements a delivery agent that hands every queued
// message to a single next hop (a smarthost or a local MTA) over SMTP.
//
// Connections are taken from the outbound connection pool. The queue file
// body is dot-stuffed on disk, it is unstuffed on read since the SMTP
// client stuffs it again.
package relay

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
	"github.com/mailhaul/outbound/internal/queue"
	"github.com/mailhaul/outbound/internal/smtpconn"
	"github.com/mailhaul/outbound/internal/smtpconn/pool"
)

type Config struct {
	Host      string
	Port      int
	LocalAddr string
	Unix      bool

	// Hostname is used in EHLO.
	Hostname string
	Log      log.Logger
}

type Agent struct {
	cfg  Config
	pool *pool.P
	log  log.Logger
}

func New(p *pool.P, cfg Config) *Agent {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Agent{cfg: cfg, pool: p, log: cfg.Log}
}

// Deliver implements queue.Agent.
func (a *Agent) Deliver(ctx context.Context, hmail *queue.HMailItem) (err error) {
	todo, err := hmail.TODO()
	if err != nil {
		return exterrors.WithTemporary(err, true)
	}

	sock, err := a.pool.Get(ctx, a.cfg.Port, a.cfg.Host, a.cfg.LocalAddr, a.cfg.Unix)
	if err != nil {
		return err
	}
	defer func() {
		a.pool.Release(sock, a.cfg.Port, a.cfg.Host, a.cfg.LocalAddr, err)
	}()

	if err := a.transfer(ctx, sock, todo); err != nil {
		err = classify(err)
		if !exterrors.IsTemporary(err) {
			a.removeFile(todo, hmail)
		}
		return err
	}

	a.removeFile(todo, hmail)
	return nil
}

func (a *Agent) removeFile(todo *queue.TODOItem, hmail *queue.HMailItem) {
	if err := todo.Message.Remove(); err != nil {
		a.log.Error("failed to remove queue file", err, "file", hmail.Filename)
	}
}

func (a *Agent) transfer(ctx context.Context, sock *pool.Socket, todo *queue.TODOItem) error {
	conn := &ctxConn{Conn: sock, ctx: ctx}
	stop := context.AfterFunc(ctx, func() {
		sock.SetDeadline(time.Now())
	})
	defer stop()

	c := smtpconn.New()
	c.Hostname = a.cfg.Hostname
	c.Log = a.log
	if sock.Timeout > 0 {
		c.CommandTimeout = sock.Timeout
	}
	if err := c.Attach(ctx, conn, a.cfg.Host); err != nil {
		return err
	}
	defer c.DirectClose()

	utf8 := !address.IsASCII(todo.MailFrom.String())
	for _, rcpt := range todo.RcptTo {
		utf8 = utf8 || !address.IsASCII(rcpt.String())
	}
	if err := c.Mail(ctx, todo.MailFrom.String(), utf8); err != nil {
		return err
	}

	var rcptErr error
	for _, rcpt := range todo.RcptTo {
		if err := c.Rcpt(ctx, rcpt.String()); err != nil {
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) && smtpErr.Code/100 == 5 {
				a.log.Error("recipient rejected", err, "rcpt", rcpt.String(), "uuid", todo.UUID)
				rcptErr = err
				continue
			}
			return err
		}
	}
	if len(c.Rcpts()) == 0 {
		return rcptErr
	}

	body, err := queue.OpenBody(todo)
	if err != nil {
		return exterrors.WithTemporary(err, true)
	}
	defer body.Close()

	if err := c.Data(ctx, body); err != nil {
		return err
	}

	if err := c.Close(); err != nil {
		a.log.Debugf("QUIT failed: %v", err)
	}
	return nil
}

// ctxConn keeps the connection deadline in the past once ctx is done, so
// deadlines set by the SMTP client do not revive a cancelled session.
type ctxConn struct {
	net.Conn
	ctx context.Context
}

func (c *ctxConn) SetDeadline(t time.Time) error {
	if c.ctx.Err() != nil {
		t = time.Now()
	}
	return c.Conn.SetDeadline(t)
}

// classify marks errors of unknown kind (I/O failures, broken replies) as
// temporary. SMTP replies are already classified by their code.
func classify(err error) error {
	if exterrors.IsTemporaryOrUnspec(err) && !exterrors.IsTemporary(err) {
		return exterrors.WithTemporary(err, true)
	}
	return err
}
