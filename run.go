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
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/hooks"
	"github.com/mailhaul/outbound/framework/log"
	outboundcli "github.com/mailhaul/outbound/internal/cli"
	"github.com/mailhaul/outbound/internal/smtpconn/pool"
	"github.com/urfave/cli/v2"
)

func init() {
	outboundcli.AddSubcommand(
		&cli.Command{
			Name:  "run",
			Usage: "Start the worker",
			Description: `Starts a worker process that delivers queued messages to the
configured relay and accepts control messages on its socket.

By default the worker loads queue files of all processes at startup. Extra
workers sharing the queue directory should be started with --no-load, they
receive files through 'ctl load-pid' or 'send'.
`,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "no-load",
					Usage: "Don't load existing queue files at startup",
				},
				&cli.StringFlag{
					Name:  "debug.pprof",
					Usage: "Enable live profiler HTTP endpoint and listen on the specified address",
				},
				&cli.IntFlag{
					Name:  "debug.blockprofrate",
					Usage: "Set blocking profile rate",
				},
				&cli.IntFlag{
					Name:  "debug.mutexproffract",
					Usage: "Set mutex profile fraction",
				},
			},
			Action: Run,
		})
	outboundcli.AddSubcommand(
		&cli.Command{
			Name:  "version",
			Usage: "Print version and build metadata, then exit",
			Action: func(c *cli.Context) error {
				fmt.Println(BuildInfo())
				return nil
			},
		})
}

// Run is the entry point of the run subcommand.
func Run(c *cli.Context) error {
	cfg, err := outboundcli.LoadConfig(c)
	if err != nil {
		systemdStatusErr(err)
		return err
	}
	if err := outboundcli.InitLogging(cfg.Log); err != nil {
		systemdStatusErr(err)
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	defer log.DefaultLogger.Out.Close()

	initDebug(c)

	if err := InitDirs(); err != nil {
		systemdStatusErr(err)
		return err
	}

	logger := log.DefaultLogger
	logger.Name = "outboundd"

	d, err := NewDaemon(cfg, logger)
	if err != nil {
		systemdStatusErr(err)
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	go func() {
		select {
		case s := <-handleSignals():
			logger.Msg("stopping", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	systemdStatus(SDReady, "Delivering to "+relayName(cfg))

	runErr := d.Run(ctx, !c.Bool("no-load"))

	systemdStatus(SDStopping, "Waiting for running deliveries to finish")
	hooks.RunHooks(hooks.EventShutdown)
	if err := d.Close(); err != nil {
		logger.Error("shutdown", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		systemdStatusErr(runErr)
		return runErr
	}
	return nil
}

func relayName(cfg *config.Config) string {
	host := cfg.Relay.Host
	if host == "" {
		host = pool.DefaultHost
	}
	if cfg.Relay.Unix {
		return host
	}
	port := cfg.Relay.Port
	if port == 0 {
		port = pool.DefaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func initDebug(c *cli.Context) {
	if endpoint := c.String("debug.pprof"); endpoint != "" {
		go func() {
			log.Println("listening on", "http://"+endpoint, "for profiler requests")
			log.Println("failed to listen on profiler endpoint:", http.ListenAndServe(endpoint, nil))
		}()
	}

	// These values can also be affected by environment so set them
	// only if argument is specified.
	if c.IsSet("debug.mutexproffract") {
		runtime.SetMutexProfileFraction(c.Int("debug.mutexproffract"))
	}
	if c.IsSet("debug.blockprofrate") {
		runtime.SetBlockProfileRate(c.Int("debug.blockprofrate"))
	}
}

// InitDirs creates the state and runtime directories.
func InitDirs() error {
	for _, dir := range []string{config.StateDirectory, config.RuntimeDirectory} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return nil
}
