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

package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/exterrors"
	"github.com/mailhaul/outbound/framework/log"
	outboundcli "github.com/mailhaul/outbound/internal/cli"
	"github.com/mailhaul/outbound/internal/control"
	"github.com/mailhaul/outbound/internal/outbound"
	"github.com/mailhaul/outbound/internal/queue"
	"github.com/urfave/cli/v2"
)

func init() {
	outboundcli.AddSubcommand(
		&cli.Command{
			Name:  "send",
			Usage: "Queue a message for delivery",
			Description: `Reads the message from FILE or stdin, writes it to the queue
directory and asks a running worker to take over the written files.

With --no-notify the files are left for the next worker that loads the
whole queue at startup.
`,
			ArgsUsage: "[FILE]",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "from",
					Aliases:  []string{"f"},
					Usage:    "Envelope sender, empty for the null sender",
					Required: true,
				},
				&cli.StringSliceFlag{
					Name:     "to",
					Aliases:  []string{"t"},
					Usage:    "Envelope recipient, can be repeated",
					Required: true,
				},
				&cli.BoolFlag{
					Name:  "dot-stuffed",
					Usage: "Message is already dot-stuffed",
				},
				&cli.BoolFlag{
					Name:  "no-notify",
					Usage: "Don't notify running workers",
				},
			}, targetFlags...),
			Action: sendMessage,
		})
}

// spool collects the written items instead of delivering them, the
// worker that loads them does the delivery.
type spool struct {
	w       *queue.Writer
	written []*queue.HMailItem
}

func (s *spool) Write(todo *queue.TODOItem) (*queue.HMailItem, error) {
	return s.w.Write(todo)
}

func (s *spool) Push(hmail *queue.HMailItem) {
	s.written = append(s.written, hmail)
}

func newSpool(cfg *config.Config, pid int, logger log.Logger) (*spool, error) {
	if err := os.MkdirAll(cfg.QueueDir, 0o750); err != nil {
		return nil, err
	}
	return &spool{w: queue.NewWriter(cfg.QueueDir, pid, cfg.Hostname, logger)}, nil
}

func sendMessage(c *cli.Context) error {
	cfg, err := outboundcli.LoadConfig(c)
	if err != nil {
		return err
	}
	logger := log.Logger{Out: log.DefaultLogger.Out, Name: "send", Debug: log.DefaultLogger.Debug}

	var content io.Reader = os.Stdin
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
		}
		defer f.Close()
		content = f
	}

	sp, err := newSpool(cfg, os.Getpid(), logger)
	if err != nil {
		return err
	}

	ob := outbound.New(sp, outbound.Config{
		AlwaysSplit:    cfg.AlwaysSplit,
		ReceivedHeader: cfg.ReceivedHeader,
		Hostname:       cfg.Hostname,
		Log:            logger,
	})
	res := ob.SendEmail(c.Context, c.String("from"), c.StringSlice("to"), content, outbound.Options{
		DotStuffed: c.Bool("dot-stuffed"),
		Origin:     "cli",
	})
	if res.Code != exterrors.OK {
		return cli.Exit(res.String(), 1)
	}
	fmt.Fprintln(c.App.Writer, res.Msg)

	if c.Bool("no-notify") {
		return nil
	}
	return notify(c, cfg, os.Getpid())
}

// notify asks one worker to adopt the files written by pid.
func notify(c *cli.Context, cfg *config.Config, pid int) error {
	paths, err := targetSockets(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	for _, path := range paths {
		err = control.Send(ctx, path, control.LoadPIDQueueMessage(pid))
		if err == nil {
			return nil
		}
		fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
	}
	return cli.Exit("Error: no worker accepted the message, files are left in the queue", 1)
}
