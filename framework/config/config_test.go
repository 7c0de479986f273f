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

package config

import (
	"strings"
	"testing"
	"time"
)

func TestRead_Defaults(t *testing.T) {
	cfg, err := Read(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConnectTimeout != 30 || cfg.Concurrency != 16 || cfg.AlwaysSplit {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if time.Duration(cfg.TempFailDelay) != 5*time.Minute {
		t.Error("wrong temp_fail_delay default:", time.Duration(cfg.TempFailDelay))
	}
}

func TestRead(t *testing.T) {
	cfg, err := Read(strings.NewReader(`
queue_dir: /tmp/q
always_split: true
connect_timeout: 5
received_header: disabled
temp_fail_delay: 90s
relay:
  host: smarthost.example.org
  port: 587
socks5:
  host: 127.0.0.1
  port: 1080
limits:
  domain_concurrency: 2
  domain_rate: 60
log:
  format: json
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueueDir != "/tmp/q" || !cfg.AlwaysSplit || cfg.ReceivedHeader != ReceivedDisabled {
		t.Fatalf("wrong values: %+v", cfg)
	}
	if cfg.ConnectTimeoutDuration() != 5*time.Second {
		t.Error("wrong connect timeout:", cfg.ConnectTimeoutDuration())
	}
	if time.Duration(cfg.TempFailDelay) != 90*time.Second {
		t.Error("wrong temp_fail_delay:", time.Duration(cfg.TempFailDelay))
	}
	if cfg.Relay.Host != "smarthost.example.org" || cfg.Relay.Port != 587 {
		t.Errorf("relay block not parsed: %+v", cfg.Relay)
	}
	if cfg.SOCKS5 == nil || cfg.SOCKS5.Port != 1080 {
		t.Error("socks5 block not parsed")
	}
	if cfg.Limits.DomainConcurrency != 2 || cfg.Limits.DomainRate != 60 {
		t.Errorf("limits block not parsed: %+v", cfg.Limits)
	}
}

func TestRead_Invalid(t *testing.T) {
	for _, doc := range []string{
		"connect_timeout: 0",
		"concurrency: -1",
		"log: {format: xml}",
		"unknown_key: 1",
		"temp_fail_delay: soon",
		"socks5: {host: ''}",
		"relay: {port: 70000}",
		"relay: {unix: true}",
		"limits: {domain_rate: -1}",
	} {
		if _, err := Read(strings.NewReader(doc)); err == nil {
			t.Errorf("%q: expected error", doc)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"OUTBOUND_QUEUE_DIR":       "/env/q",
		"OUTBOUND_ALWAYS_SPLIT":    "1",
		"OUTBOUND_CONNECT_TIMEOUT": "7",
	}
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueueDir != "/env/q" || !cfg.AlwaysSplit || cfg.ConnectTimeout != 7 {
		t.Fatalf("env not applied: %+v", cfg)
	}

	env["OUTBOUND_CONNECT_TIMEOUT"] = "seven"
	if err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}); err == nil {
		t.Fatal("expected error for malformed env value")
	}
}
