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

package future

import (
	"context"
	"sync"
)

// The Future object implements a container for (value, error) pair that "will
// be populated later" and allows multiple users to wait for it to be set.
//
// The pair is set at most once, later attempts are reported to the caller
// via the TrySet return value and otherwise ignored.
//
// It should not be copied after first use.
type Future struct {
	mu  sync.RWMutex
	set bool
	val interface{}
	err error

	notify chan struct{}
}

func New() *Future {
	return &Future{notify: make(chan struct{})}
}

// TrySet sets the Future (value, error) pair if it was not set before. It
// reports whether this call was the one that set it.
func (f *Future) TrySet(val interface{}, err error) bool {
	if f == nil {
		panic("nil future used")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.set {
		return false
	}

	f.set = true
	f.val = val
	f.err = err

	close(f.notify)
	return true
}

// Set is TrySet that does not care about the result.
func (f *Future) Set(val interface{}, err error) {
	f.TrySet(val, err)
}

// Done returns a channel that is closed once the pair is set.
func (f *Future) Done() <-chan struct{} {
	return f.notify
}

func (f *Future) Get() (interface{}, error) {
	return f.GetContext(context.Background())
}

func (f *Future) GetContext(ctx context.Context) (interface{}, error) {
	if f == nil {
		panic("nil future used")
	}

	select {
	case <-f.notify:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.val, f.err
}
