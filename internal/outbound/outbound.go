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

// Package outbound accepts messages for outbound delivery.
//
// A transaction is split into deliveries (one per destination domain or
// per recipient), each delivery is written to the queue as a separate
// file and only once all of them are on disk the files are handed to the
// delivery queue. The caller gets a single disposition for the whole
// transaction.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mailhaul/outbound/framework/address"
	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
	"github.com/mailhaul/outbound/internal/queue"
)

// Queue is the part of queue.Queue used to persist and schedule
// deliveries.
type Queue interface {
	Write(todo *queue.TODOItem) (*queue.HMailItem, error)
	Push(hmail *queue.HMailItem)
}

// PreSendHook is called for every transaction before it is split and
// queued. A non-nil error rejects the transaction, the error is classified
// the same way queueing errors are.
type PreSendHook func(ctx context.Context, txn *Transaction) error

type Config struct {
	AlwaysSplit bool
	// ReceivedHeader is the comment put into the Received header. The
	// header is not added if it is config.ReceivedDisabled.
	ReceivedHeader string
	Hostname       string

	PreSend PreSendHook
	Log     log.Logger
}

// Options are the options of SendEmail.
type Options struct {
	// DotStuffed is set if content is already dot-stuffed.
	DotStuffed bool
	// Notes are attached to every queue file.
	Notes map[string]interface{}
	// Origin is used to correlate log messages.
	Origin string
	// RemoveMsgID and RemoveDate strip the corresponding headers before
	// queueing, new ones are generated.
	RemoveMsgID bool
	RemoveDate  bool
}

// Result is the disposition reported for a transaction.
type Result struct {
	Code  exterrors.Disposition
	Msg   string
	Reply *smtp.SMTPError
}

func (r Result) String() string {
	return r.Code.String() + ": " + r.Msg
}

type Outbound struct {
	cfg   Config
	queue Queue
	log   log.Logger

	removeFile func(string) error
	now        func() time.Time
}

func New(q Queue, cfg Config) *Outbound {
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Outbound{
		cfg:        cfg,
		queue:      q,
		log:        cfg.Log,
		removeFile: os.Remove,
		now:        time.Now,
	}
}

func result(err error, okMsg string) Result {
	disp, reply := exterrors.Classify(err)
	msg := okMsg
	if err != nil {
		msg = reply.Message
	}
	return Result{Code: disp, Msg: msg, Reply: reply}
}

// SendEmail builds a transaction from its arguments and queues it.
//
// from is an address.Address or a string, to is either of those or a
// slice of them. content is a string, a []byte, an io.Reader or a
// buffer.Buffer.
func (o *Outbound) SendEmail(ctx context.Context, from, to, content interface{}, opts Options) Result {
	l := o.log.With("origin", opts.Origin)
	l.Debugf("sending email via params")

	txn := NewTransaction()
	l = l.With("uuid", txn.UUID)
	if opts.Notes != nil {
		txn.Notes = opts.Notes
	}
	txn.DotStuffed = opts.DotStuffed

	var err error
	txn.MailFrom, err = parseFrom(from)
	if err != nil {
		l.Error("rejected", err)
		return result(err, "")
	}
	txn.RcptTo, err = parseRcpts(to)
	if err != nil {
		l.Error("rejected", err)
		return result(err, "")
	}

	txn.Header, txn.Body, err = readContent(content)
	if err != nil {
		l.Error("rejected", err)
		return result(err, "")
	}

	if opts.RemoveMsgID {
		txn.Header.Del("Message-Id")
	}
	if opts.RemoveDate {
		txn.Header.Del("Date")
	}

	return o.sendTrans(ctx, txn, l)
}

// SendTransEmail queues an already built transaction.
func (o *Outbound) SendTransEmail(ctx context.Context, txn *Transaction) Result {
	return o.sendTrans(ctx, txn, o.log.With("uuid", txn.UUID))
}

func (o *Outbound) sendTrans(ctx context.Context, txn *Transaction, l log.Logger) Result {
	if txn.Results == nil {
		txn.Results = &Results{}
	}
	if len(txn.RcptTo) == 0 {
		l.Error("rejected", exterrors.ErrNoRecipients)
		return result(exterrors.ErrNoRecipients, "")
	}

	o.addHeaders(txn, l)

	if o.cfg.PreSend != nil {
		if err := o.cfg.PreSend(ctx, txn); err != nil {
			l.Error("rejected by pre-send hook", err)
			txn.Results.Add(ResultEntry{Name: "outbound", Err: err})
			return result(err, "")
		}
	}

	if err := o.queueDeliveries(txn, l); err != nil {
		txn.Results.Add(ResultEntry{Name: "outbound", Err: err})
		return result(err, "")
	}

	txn.Results.Add(ResultEntry{Name: "outbound", Pass: "queued"})
	return result(nil, fmt.Sprintf("Message Queued (%s)", txn.UUID))
}

func (o *Outbound) addHeaders(txn *Transaction, l log.Logger) {
	date := o.now().Format(time.RFC1123Z)

	if !txn.Header.Has("Message-Id") {
		l.Debugf("adding missing Message-Id header")
		txn.Header.Add("Message-Id", fmt.Sprintf("<%s@%s>", txn.UUID, o.cfg.Hostname))
	}
	if !txn.Header.Has("Date") {
		l.Debugf("adding missing Date header")
		txn.Header.Add("Date", date)
	}
	if o.cfg.ReceivedHeader != config.ReceivedDisabled {
		// Add puts the field above all existing ones.
		txn.Header.Add("Received", fmt.Sprintf("(%s); %s", o.cfg.ReceivedHeader, date))
	}
}

// queueDeliveries writes one queue file per delivery, strictly one after
// another. If any of them fails, the files written so far are removed and
// nothing is pushed to the delivery queue.
func (o *Outbound) queueDeliveries(txn *Transaction, l log.Logger) error {
	msg, err := newMessageBuffer(txn.Header, txn.Body)
	if err != nil {
		return exterrors.WithTemporary(err, true)
	}

	deliveries := Split(txn, o.cfg.AlwaysSplit)
	hmails := make([]*queue.HMailItem, 0, len(deliveries))

	for i, deliv := range deliveries {
		l.Msg("queueing delivery", "domain", deliv.Domain, "rcpts", len(deliv.Rcpts))

		todo := queue.NewTODOItem(deliv.Domain, deliv.Rcpts, txn.MailFrom, txn.Notes,
			fmt.Sprintf("%s.%d", txn.UUID, i+1))
		todo.Message = msg
		todo.DotStuffed = txn.DotStuffed

		hmail, err := o.queue.Write(todo)
		if err != nil {
			l.Error("queueing failed", err, "domain", deliv.Domain)
			o.rollback(hmails, l)
			return err
		}
		hmails = append(hmails, hmail)
	}

	for _, hmail := range hmails {
		o.queue.Push(hmail)
	}
	l.Msg("queued", "files", len(hmails))
	return nil
}

// rollback removes committed files of a failed transaction. Failures are
// only logged.
func (o *Outbound) rollback(hmails []*queue.HMailItem, l log.Logger) {
	for _, hmail := range hmails {
		if err := o.removeFile(hmail.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.Error("failed to remove queue file", err, "path", hmail.Path)
		}
	}
}

func parseFrom(from interface{}) (address.Address, error) {
	switch f := from.(type) {
	case address.Address:
		return f, nil
	case string:
		addr, err := address.Parse(f)
		if err != nil {
			return address.Address{}, &exterrors.MalformedAddressError{Role: "from", Addr: f, Err: err}
		}
		return addr, nil
	default:
		return address.Address{}, &exterrors.MalformedAddressError{
			Role: "from",
			Addr: fmt.Sprint(from),
			Err:  fmt.Errorf("unsupported address type %T", from),
		}
	}
}

func parseRcpt(to interface{}) (address.Address, error) {
	var (
		addr address.Address
		raw  string
	)
	switch t := to.(type) {
	case address.Address:
		addr, raw = t, t.String()
	case string:
		var err error
		addr, err = address.Parse(t)
		if err != nil {
			return address.Address{}, &exterrors.MalformedAddressError{Role: "to", Addr: t, Err: err}
		}
		raw = t
	default:
		return address.Address{}, &exterrors.MalformedAddressError{
			Role: "to",
			Addr: fmt.Sprint(to),
			Err:  fmt.Errorf("unsupported address type %T", to),
		}
	}
	if addr.IsNull() {
		return address.Address{}, &exterrors.MalformedAddressError{
			Role: "to",
			Addr: raw,
			Err:  fmt.Errorf("%w: null recipient", address.ErrMalformed),
		}
	}
	return addr, nil
}

func parseRcpts(to interface{}) ([]address.Address, error) {
	var list []interface{}
	switch t := to.(type) {
	case []address.Address:
		for _, a := range t {
			list = append(list, a)
		}
	case []string:
		for _, s := range t {
			list = append(list, s)
		}
	case []interface{}:
		list = t
	default:
		list = []interface{}{to}
	}

	if len(list) == 0 {
		return nil, exterrors.ErrNoRecipients
	}

	rcpts := make([]address.Address, 0, len(list))
	for _, item := range list {
		addr, err := parseRcpt(item)
		if err != nil {
			return nil, err
		}
		rcpts = append(rcpts, addr)
	}
	return rcpts, nil
}
