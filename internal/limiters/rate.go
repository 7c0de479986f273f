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

package limiters

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("limiters: rate bucket is closed")

// Rate is a token bucket that holds up to burstSize tokens and is refilled
// every interval.
//
// Close makes all waiting Take calls return false, TakeContext returns
// ErrClosed in this case. If burstSize is 0, Rate never blocks.
type Rate struct {
	bucket    chan struct{}
	stop      chan struct{}
	closeOnce *sync.Once
}

func NewRate(burstSize int, interval time.Duration) Rate {
	r := Rate{
		bucket:    make(chan struct{}, burstSize),
		stop:      make(chan struct{}),
		closeOnce: new(sync.Once),
	}
	if burstSize == 0 {
		return r
	}

	for i := 0; i < burstSize; i++ {
		r.bucket <- struct{}{}
	}
	go r.fill(burstSize, interval)
	return r
}

func (r Rate) fill(burstSize int, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-r.stop:
			close(r.bucket)
			return
		}

	fill:
		for i := 0; i < burstSize; i++ {
			select {
			case r.bucket <- struct{}{}:
			default:
				break fill
			}
		}
	}
}

func (r Rate) Take() bool {
	if cap(r.bucket) == 0 {
		return true
	}
	_, ok := <-r.bucket
	return ok
}

func (r Rate) TakeContext(ctx context.Context) error {
	if cap(r.bucket) == 0 {
		select {
		case <-r.stop:
			return ErrClosed
		default:
			return nil
		}
	}

	select {
	case _, ok := <-r.bucket:
		if !ok {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release is a no-op, tokens come back only with time.
func (r Rate) Release() {}

func (r Rate) Close() {
	r.closeOnce.Do(func() { close(r.stop) })
}
