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

package relay

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/buffer"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/internal/queue"
	"github.com/mailhaul/outbound/internal/smtpconn"
	"github.com/mailhaul/outbound/internal/smtpconn/pool"
	"github.com/mailhaul/outbound/internal/testutils"
)

// scriptedServer is a minimal SMTP server. RCPT TO addresses containing
// "reject" get 550, DataReply is used after the message is received.
type scriptedServer struct {
	DataReply string

	lock  sync.Mutex
	from  string
	rcpts []string
	data  string
}

func (s *scriptedServer) serve(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func (s *scriptedServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) {
		conn.Write([]byte(line + "\r\n"))
	}

	reply("220 test ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 test")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.lock.Lock()
			s.from = line[len("MAIL FROM:"):]
			s.lock.Unlock()
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			if strings.Contains(line, "reject") {
				reply("550 5.1.1 no such user")
				continue
			}
			s.lock.Lock()
			s.rcpts = append(s.rcpts, line[len("RCPT TO:"):])
			s.lock.Unlock()
			reply("250 ok")
		case cmd == "DATA":
			reply("354 go ahead")
			var sb strings.Builder
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				sb.WriteString(dl)
			}
			s.lock.Lock()
			s.data = sb.String()
			s.lock.Unlock()
			if s.DataReply != "" {
				reply(s.DataReply)
			} else {
				reply("250 queued")
			}
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unknown command")
		}
	}
}

func writeItem(t *testing.T, rcpts ...string) *queue.HMailItem {
	t.Helper()
	w := queue.NewWriter(t.TempDir(), 100, "host", testutils.Logger(t, "writer"))

	var addrs []address.Address
	for _, r := range rcpts {
		addrs = append(addrs, address.MustParse(r))
	}
	todo := queue.NewTODOItem("example.org", addrs, address.MustParse("a@example.com"), nil, "UUID.1")
	todo.Message = buffer.MemoryBuffer{Slice: []byte("Subject: hi\r\n\r\n.HELLO\r\nbye\r\n")}

	hmail, err := w.Write(todo)
	if err != nil {
		t.Fatal(err)
	}
	return hmail
}

func newTestAgent(t *testing.T, port int) *Agent {
	t.Helper()
	p, err := pool.New(pool.Config{
		ConnectTimeout: 5 * time.Second,
		Log:            testutils.Logger(t, "pool"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	return New(p, Config{
		Host:     "127.0.0.1",
		Port:     port,
		Hostname: "mx.example.com",
		Log:      testutils.Logger(t, "relay"),
	})
}

func TestAgent_Deliver(t *testing.T) {
	srv := &scriptedServer{}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "b@example.org", "c@example.org")
	if err := a.Deliver(context.Background(), hmail); err != nil {
		t.Fatal(err)
	}

	srv.lock.Lock()
	defer srv.lock.Unlock()
	if !strings.HasPrefix(srv.from, "<a@example.com>") {
		t.Errorf("wrong MAIL FROM: %s", srv.from)
	}
	if len(srv.rcpts) != 2 {
		t.Errorf("wrong RCPT TO: %v", srv.rcpts)
	}
	if srv.data != "Subject: hi\r\n\r\n..HELLO\r\nbye\r\n" {
		t.Errorf("wrong data: %q", srv.data)
	}
	if _, err := os.Stat(hmail.Path); !os.IsNotExist(err) {
		t.Errorf("queue file is not removed: %v", err)
	}
}

func TestAgent_Deliver_PartialReject(t *testing.T) {
	srv := &scriptedServer{}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "reject@example.org", "c@example.org")
	if err := a.Deliver(context.Background(), hmail); err != nil {
		t.Fatal(err)
	}
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if len(srv.rcpts) != 1 {
		t.Errorf("wrong RCPT TO: %v", srv.rcpts)
	}
}

func TestAgent_Deliver_AllRejected(t *testing.T) {
	srv := &scriptedServer{}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "reject@example.org")
	err := a.Deliver(context.Background(), hmail)
	if err == nil {
		t.Fatal("expected error")
	}
	if exterrors.IsTemporary(err) {
		t.Errorf("5xx must be permanent: %v", err)
	}
	if code := exterrors.Fields(err)["smtp_code"]; code != 550 {
		t.Errorf("wrong smtp_code: %v", code)
	}
	if _, err := os.Stat(hmail.Path); !os.IsNotExist(err) {
		t.Errorf("queue file is not removed: %v", err)
	}
}

func TestAgent_Deliver_TempFail(t *testing.T) {
	srv := &scriptedServer{DataReply: "451 4.3.0 try later"}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "b@example.org")
	err := a.Deliver(context.Background(), hmail)
	if err == nil {
		t.Fatal("expected error")
	}
	if !exterrors.IsTemporary(err) {
		t.Errorf("4xx must be temporary: %v", err)
	}
	if code := exterrors.Fields(err)["smtp_enchcode"]; code != (smtp.EnhancedCode{4, 3, 0}) {
		t.Errorf("wrong smtp_enchcode: %v", code)
	}
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 451 {
		t.Errorf("reply is not available as *smtp.SMTPError: %v", err)
	}
	if _, err := os.Stat(hmail.Path); err != nil {
		t.Errorf("queue file is removed after temporary failure: %v", err)
	}
}

func TestAgent_Deliver_552IsTemporary(t *testing.T) {
	srv := &scriptedServer{DataReply: "552 5.3.4 mailbox full"}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "b@example.org")
	err := a.Deliver(context.Background(), hmail)
	if err == nil || !exterrors.IsTemporary(err) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	fields := exterrors.Fields(err)
	if fields["smtp_code"] != 452 {
		t.Errorf("wrong smtp_code: %v", fields["smtp_code"])
	}
	if fields["smtp_enchcode"] != (smtp.EnhancedCode{4, 3, 4}) {
		t.Errorf("wrong smtp_enchcode: %v", fields["smtp_enchcode"])
	}
}

func TestAgent_Deliver_NoSMTPUTF8(t *testing.T) {
	srv := &scriptedServer{}
	a := newTestAgent(t, srv.serve(t))

	hmail := writeItem(t, "тест@example.org")
	err := a.Deliver(context.Background(), hmail)
	if err == nil || exterrors.IsTemporary(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !errors.Is(err, smtpconn.ErrNoSMTPUTF8) {
		t.Errorf("wrong error: %v", err)
	}

	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.from != "" {
		t.Errorf("MAIL FROM sent: %s", srv.from)
	}
}

func TestAgent_Deliver_ConnRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	a := newTestAgent(t, port)
	hmail := writeItem(t, "b@example.org")
	err = a.Deliver(context.Background(), hmail)
	if err == nil || !exterrors.IsTemporary(err) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if _, err := os.Stat(hmail.Path); err != nil {
		t.Errorf("queue file is removed after connection failure: %v", err)
	}
}
