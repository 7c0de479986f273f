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

// Package smtpconn wraps a go-smtp client session running over a socket
// taken from the connection pool.
//
// It adds the following on top of go-smtp.Client:
// - Wrapping of returned errors using the exterrors package.
// - Logging of QUIT errors.
// - SMTPUTF8 negotiation.
package smtpconn

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/trace"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
)

var ErrNoSMTPUTF8 = errors.New("smtpconn: SMTPUTF8 is unsupported by the remote server")

// The C object represents one SMTP session. It cannot be reused after
// Close.
type C struct {
	// Timeout for most session commands (EHLO, MAIL, RCPT, DATA). Set to 5
	// mins by New.
	CommandTimeout time.Duration

	// Timeout for the final dot. Set to 12 mins by New.
	SubmissionTimeout time.Duration

	// Hostname to send in the EHLO/HELO command. Set to
	// 'localhost.localdomain' by New.
	Hostname string

	Log log.Logger

	serverName string
	cl         *smtp.Client
	rcpts      []string
}

// New creates the new instance of the C object, populating the required fields
// with resonable default values.
func New() *C {
	return &C{
		CommandTimeout:    5 * time.Minute,
		SubmissionTimeout: 12 * time.Minute,
		Hostname:          "localhost.localdomain",
	}
}

func (c *C) wrapClientErr(err error, serverName string) error {
	if err == nil {
		return nil
	}

	switch err := err.(type) {
	case *smtp.SMTPError:
		if err.Code == 552 {
			err.Code = 452
			if err.EnhancedCode[0] != 0 {
				err.EnhancedCode[0] = 4
			}
			c.Log.Msg("SMTP code 552 rewritten to 452 per RFC 5321 Section 4.5.3.1.10")
		}

		fields := map[string]interface{}{
			"remote_server": serverName,
			"smtp_code":     err.Code,
			"smtp_msg":      serverName + " said: " + err.Message,
		}
		if err.EnhancedCode[0] != 0 {
			fields["smtp_enchcode"] = err.EnhancedCode
		}
		return exterrors.WithFields(exterrors.WithTemporary(err, err.Code/100 != 5), fields)
	case *net.OpError:
		return exterrors.WithFields(exterrors.WithTemporary(err, true), map[string]interface{}{
			"remote_addr": err.Addr,
			"io_op":       err.Op,
		})
	default:
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
		})
	}
}

// Attach starts the session on an already established connection: it
// reads the greeting and sends EHLO (or HELO).
//
// conn is closed if Attach fails.
func (c *C) Attach(ctx context.Context, conn net.Conn, serverName string) error {
	defer trace.StartRegion(ctx, "smtpconn/EHLO").End()

	cl := smtp.NewClient(conn)
	cl.CommandTimeout = c.CommandTimeout
	cl.SubmissionTimeout = c.SubmissionTimeout

	if err := cl.Hello(c.Hostname); err != nil {
		cl.Close()
		return c.wrapClientErr(err, serverName)
	}

	c.serverName = serverName
	c.cl = cl
	return nil
}

// Mail sends the MAIL FROM command to the remote server.
//
// SMTPUTF8 is requested if utf8 is set and the server supports it. If it
// does not, the session cannot carry the message and a permanent error is
// returned.
func (c *C) Mail(ctx context.Context, from string, utf8 bool) error {
	defer trace.StartRegion(ctx, "smtpconn/MAIL FROM").End()

	var opts smtp.MailOptions
	if utf8 {
		if ok, _ := c.cl.Extension("SMTPUTF8"); !ok {
			return exterrors.WithFields(exterrors.WithTemporary(ErrNoSMTPUTF8, false),
				map[string]interface{}{
					"remote_server": c.serverName,
					"smtp_code":     550,
					"smtp_enchcode": smtp.EnhancedCode{5, 6, 7},
					"smtp_msg":      "SMTPUTF8 is unsupported by the next hop",
				})
		}
		opts.UTF8 = true
	}

	if err := c.cl.Mail(from, &opts); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	c.Log.DebugMsg("MAIL FROM accepted", "remote_server", c.serverName)
	return nil
}

// Rcpt sends the RCPT TO command to the remote server.
func (c *C) Rcpt(ctx context.Context, to string) error {
	defer trace.StartRegion(ctx, "smtpconn/RCPT TO").End()

	if err := c.cl.Rcpt(to, nil); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	c.rcpts = append(c.rcpts, to)
	return nil
}

// Rcpts returns the list of recipients that were accepted by the remote server.
func (c *C) Rcpts() []string {
	return c.rcpts
}

func (c *C) ServerName() string {
	return c.serverName
}

// Data sends the DATA command to the remote server and then the message.
// body must not be dot-stuffed, the client does that.
//
// If the Data command fails, the connection may be in a unclean state (e.g. in
// the middle of message data stream). It is not safe to continue using it.
func (c *C) Data(ctx context.Context, body io.Reader) error {
	defer trace.StartRegion(ctx, "smtpconn/DATA").End()

	wc, err := c.cl.Data()
	if err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if _, err := io.Copy(wc, body); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if err := wc.Close(); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	return nil
}

// Close sends the QUIT command, if it fail - it directly closes the
// connection.
func (c *C) Close() error {
	if c.cl == nil {
		return nil
	}
	if err := c.cl.Quit(); err != nil {
		c.Log.Error("QUIT error", c.wrapClientErr(err, c.serverName))
		err = c.cl.Close()
		c.cl = nil
		return err
	}

	c.cl = nil
	c.serverName = ""
	return nil
}

// DirectClose closes the underlying connection without sending the QUIT
// command.
func (c *C) DirectClose() error {
	if c.cl == nil {
		return nil
	}
	c.cl.Close()
	c.cl = nil
	c.serverName = ""
	return nil
}
