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
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mailhaul/outbound/framework/config"
	outboundcli "github.com/mailhaul/outbound/internal/cli"
	"github.com/mailhaul/outbound/internal/cli/clitools"
	"github.com/mailhaul/outbound/internal/control"
	"github.com/urfave/cli/v2"
)

var targetFlags = []cli.Flag{
	&cli.PathFlag{
		Name:  "socket",
		Usage: "Control socket of the worker to talk to",
	},
	&cli.IntFlag{
		Name:  "pid",
		Usage: "Process ID of the worker to talk to",
	},
}

func init() {
	outboundcli.AddSubcommand(
		&cli.Command{
			Name:  "ctl",
			Usage: "Control running workers",
			Description: `These commands send control messages to running outboundd workers.

The worker is selected using --socket or --pid. If neither is given, the
control_socket from the configuration is used and if that is not set
either, the message is sent to every worker that has a socket in the
runtime directory.
`,
			Subcommands: []*cli.Command{
				{
					Name:      "flush",
					Usage:     "Retry temporarily failed deliveries now",
					ArgsUsage: "[DOMAIN]",
					Flags:     targetFlags,
					Action: func(c *cli.Context) error {
						return sendControl(c, control.FlushQueueMessage(c.Args().First()))
					},
				},
				{
					Name:      "load-pid",
					Usage:     "Take over queue files written by another process",
					ArgsUsage: "PID",
					Flags:     targetFlags,
					Action: func(c *cli.Context) error {
						pid, err := strconv.Atoi(c.Args().First())
						if err != nil || pid <= 0 {
							return cli.Exit("Error: PID is required", 2)
						}
						return sendControl(c, control.LoadPIDQueueMessage(pid))
					},
				},
				{
					Name:  "shutdown",
					Usage: "Stop retrying temporarily failed deliveries",
					Description: `Items waiting for a retry are discarded from memory, their
queue files stay in place and are picked up by the next worker that
loads the queue.
`,
					Flags: append([]cli.Flag{
						&cli.BoolFlag{
							Name:    "yes",
							Aliases: []string{"y"},
							Usage:   "Don't ask for confirmation",
						},
					}, targetFlags...),
					Action: func(c *cli.Context) error {
						if !c.Bool("yes") && !clitools.Confirmation("Stop retrying deferred deliveries?", false) {
							return errors.New("cancelled")
						}
						return sendControl(c, control.ShutdownMessage())
					},
				},
			},
		})
}

// targetSockets resolves the control sockets selected by the command flags.
func targetSockets(c *cli.Context, cfg *config.Config) ([]string, error) {
	if c.IsSet("socket") {
		return []string{c.Path("socket")}, nil
	}
	if c.IsSet("pid") {
		return []string{cfg.ControlSocketPath(c.Int("pid"))}, nil
	}
	if cfg.ControlSocket != "" {
		return []string{cfg.ControlSocket}, nil
	}
	return discoverSockets(config.RuntimeDirectory)
}

func discoverSockets(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "outbound.*.sock"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, cli.Exit(fmt.Sprintf("Error: no running workers found in %s", dir), 1)
	}
	return paths, nil
}

func sendControl(c *cli.Context, msg control.Message) error {
	cfg, err := outboundcli.LoadConfig(c)
	if err != nil {
		return err
	}
	paths, err := targetSockets(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	var failed int
	for _, path := range paths {
		if err := control.Send(ctx, path, msg); err != nil {
			failed++
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
			continue
		}
	}
	if failed == len(paths) {
		return cli.Exit("Error: message was not delivered to any worker", 1)
	}
	return nil
}
