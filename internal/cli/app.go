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

package outboundcli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/log"
	"github.com/urfave/cli/v2"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Name = "outboundd"
	app.Usage = "outbound mail queue and delivery agent"
	app.Description = `outboundd accepts messages for remote delivery, persists them
in a spool directory shared by all worker processes and hands them to
the relay host.

This executable starts the daemon ('run'), submits messages to the spool
('send') and controls running daemons ('ctl').
`
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			log.Println(err)
			cli.OsExiter(1)
		}
	}
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "Configuration file to use",
			EnvVars: []string{"OUTBOUND_CONFIG"},
			Value:   filepath.Join(config.ConfigDirectory, "outbound.yml"),
		},
		&cli.PathFlag{
			Name:        "state-dir",
			Usage:       "Directory for data preserved between restarts",
			EnvVars:     []string{"OUTBOUND_STATE_DIR"},
			Value:       config.StateDirectory,
			Destination: &config.StateDirectory,
		},
		&cli.PathFlag{
			Name:        "runtime-dir",
			Usage:       "Directory for control sockets",
			EnvVars:     []string{"OUTBOUND_RUNTIME_DIR"},
			Value:       config.RuntimeDirectory,
			Destination: &config.RuntimeDirectory,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Enable debug logging early",
			Destination: &log.DefaultLogger.Debug,
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "generate-man",
			Hidden: true,
			Action: func(c *cli.Context) error {
				man, err := app.ToMan()
				if err != nil {
					return err
				}
				fmt.Println(man)
				return nil
			},
		},
		{
			Name:   "generate-fish-completion",
			Hidden: true,
			Action: func(c *cli.Context) error {
				cp, err := app.ToFishCompletion()
				if err != nil {
					return err
				}
				fmt.Println(cp)
				return nil
			},
		},
	}
}

func AddSubcommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)
}

// LoadConfig reads the file named by the --config flag. If the flag was not
// set explicitly and the default file does not exist, the defaults are used.
func LoadConfig(c *cli.Context) (*config.Config, error) {
	path := c.Path("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !c.IsSet("config") && errors.Is(err, fs.ErrNotExist) {
		log.Debugf("%s does not exist, using defaults", path)
		return config.Defaults()
	}
	return nil, cli.Exit(fmt.Sprintf("Error: %v", err), 2)
}

func Run() {
	// Subcommands are registered by init functions of the packages
	// imported in cmd/outboundd.
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
	}
}
