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

package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	filesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbound",
			Subsystem: "queue",
			Name:      "files_written_total",
			Help:      "Queue files written, by result",
		},
		[]string{"result"},
	)
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbound",
			Subsystem: "queue",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts handed to the delivery agent, by result",
		},
		[]string{"result"},
	)
	deliveriesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outbound",
			Subsystem: "queue",
			Name:      "deliveries_pending",
			Help:      "Items pushed to the delivery queue and not yet finished",
		},
	)
	tempFailLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outbound",
			Subsystem: "queue",
			Name:      "temp_fail_length",
			Help:      "Items waiting in the temp-fail queue for the next attempt",
		},
	)
)

func init() {
	prometheus.MustRegister(filesWritten)
	prometheus.MustRegister(deliveryAttempts)
	prometheus.MustRegister(deliveriesPending)
	prometheus.MustRegister(tempFailLength)
}
