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

// Package outbound wires the queue, the delivery agent and the control
// channel into the outboundd daemon.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mailhaul/outbound/framework/config"
	"github.com/mailhaul/outbound/framework/log"
	"github.com/mailhaul/outbound/internal/control"
	obound "github.com/mailhaul/outbound/internal/outbound"
	"github.com/mailhaul/outbound/internal/queue"
	"github.com/mailhaul/outbound/internal/relay"
	"github.com/mailhaul/outbound/internal/smtpconn/pool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Daemon is a single worker process.
type Daemon struct {
	cfg *config.Config
	log log.Logger

	pool     *pool.P
	queue    *queue.Queue
	outbound *obound.Outbound
	control  *control.Server

	metrics         *http.Server
	metricsListener net.Listener
}

func NewDaemon(cfg *config.Config, logger log.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, log: logger}

	var socks *pool.SOCKS5
	if cfg.SOCKS5 != nil {
		socks = &pool.SOCKS5{
			Host:     cfg.SOCKS5.Host,
			Port:     cfg.SOCKS5.Port,
			User:     cfg.SOCKS5.User,
			Password: cfg.SOCKS5.Password,
		}
	}
	p, err := pool.New(pool.Config{
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		SOCKS5:         socks,
		Log:            logger.With("module", "pool"),
	})
	if err != nil {
		return nil, err
	}
	d.pool = p

	agent := relay.New(p, relay.Config{
		Host:      cfg.Relay.Host,
		Port:      cfg.Relay.Port,
		LocalAddr: cfg.Relay.LocalAddr,
		Unix:      cfg.Relay.Unix,
		Hostname:  cfg.Hostname,
		Log:       logger.With("module", "relay"),
	})

	d.queue, err = queue.New(queue.Config{
		Dir:         cfg.QueueDir,
		Hostname:    cfg.Hostname,
		Concurrency: cfg.Concurrency,
		RetryDelay:  time.Duration(cfg.TempFailDelay),
		Agent:       agent,
		Log:         logger.With("module", "queue"),

		DomainConcurrency: cfg.Limits.DomainConcurrency,
		DomainRate:        cfg.Limits.DomainRate,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	d.outbound = obound.New(d.queue, obound.Config{
		AlwaysSplit:    cfg.AlwaysSplit,
		ReceivedHeader: cfg.ReceivedHeader,
		Hostname:       cfg.Hostname,
		Log:            logger.With("module", "outbound"),
	})

	sockPath := cfg.ControlSocketPath(d.queue.PID())
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o750); err != nil {
		d.closeCore()
		return nil, err
	}
	d.control, err = control.Listen(sockPath, control.NewHandler(d.queue, logger.With("module", "control")))
	if err != nil {
		d.closeCore()
		return nil, fmt.Errorf("control socket: %w", err)
	}

	if cfg.MetricsListen != "" {
		l, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			d.control.Close()
			d.closeCore()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		d.metricsListener = l
	}

	return d, nil
}

// Outbound returns the submission interface of the worker.
func (d *Daemon) Outbound() *obound.Outbound {
	return d.outbound
}

func (d *Daemon) Queue() *queue.Queue {
	return d.queue
}

// ControlSocket returns the path of the control socket.
func (d *Daemon) ControlSocket() string {
	return d.control.Addr()
}

// MetricsAddr returns the address of the metrics endpoint, or an empty
// string if it is disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsListener == nil {
		return ""
	}
	return d.metricsListener.Addr().String()
}

// Run serves the control socket and the metrics endpoint until ctx is
// cancelled. If loadAll is set, queue files of all processes are loaded
// first, otherwise the worker only delivers what it is told to.
func (d *Daemon) Run(ctx context.Context, loadAll bool) error {
	if loadAll {
		n, err := d.queue.LoadQueue()
		if err != nil {
			return err
		}
		d.log.Msg("queue loaded", "files", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.control.Serve(ctx)
	})
	if d.metrics != nil {
		g.Go(func() error {
			d.log.Msg("serving metrics", "addr", d.MetricsAddr())
			if err := d.metrics.Serve(d.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.metrics.Shutdown(shutdownCtx)
		})
	}

	d.log.Msg("worker started", "pid", d.queue.PID(), "control", d.control.Addr(), "queue", d.queue.Dir())
	return g.Wait()
}

// Close releases everything acquired by NewDaemon. Queue files of pending
// deliveries stay on disk.
func (d *Daemon) Close() error {
	err := d.control.Close()
	if d.metricsListener != nil {
		d.metricsListener.Close()
	}
	if qErr := d.closeCore(); err == nil {
		err = qErr
	}
	return err
}

func (d *Daemon) closeCore() error {
	err := d.queue.Close()
	d.pool.Close()
	return err
}
