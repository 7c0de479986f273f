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

// Package limiters provides the primitives used to limit deliveries per
// destination: a concurrency semaphore, a token-bucket rate and a keyed
// set of either.
package limiters

import "context"

// L is a resource that is acquired by Take or TakeContext and given back
// by Release.
type L interface {
	Take() bool
	TakeContext(context.Context) error
	Release()
	Close()
}

// Semaphore limits the number of holders. Zero or negative max means no
// limit.
type Semaphore struct {
	c chan struct{}
}

func NewSemaphore(max int) Semaphore {
	if max <= 0 {
		return Semaphore{}
	}
	return Semaphore{c: make(chan struct{}, max)}
}

func (s Semaphore) Take() bool {
	if cap(s.c) <= 0 {
		return true
	}
	s.c <- struct{}{}
	return true
}

func (s Semaphore) TakeContext(ctx context.Context) error {
	if cap(s.c) <= 0 {
		return nil
	}
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s Semaphore) Release() {
	if cap(s.c) <= 0 {
		return
	}
	select {
	case <-s.c:
	default:
		panic("limiters: mismatched Release call")
	}
}

func (s Semaphore) Close() {}

// MultiLimit takes all wrapped limiters in order and releases them
// together.
type MultiLimit struct {
	Wrapped []L
}

func (ml *MultiLimit) Take() bool {
	for i := 0; i < len(ml.Wrapped); i++ {
		if !ml.Wrapped[i].Take() {
			for _, l := range ml.Wrapped[:i] {
				l.Release()
			}
			return false
		}
	}
	return true
}

func (ml *MultiLimit) TakeContext(ctx context.Context) error {
	for i := 0; i < len(ml.Wrapped); i++ {
		if err := ml.Wrapped[i].TakeContext(ctx); err != nil {
			for _, l := range ml.Wrapped[:i] {
				l.Release()
			}
			return err
		}
	}
	return nil
}

func (ml *MultiLimit) Release() {
	for _, l := range ml.Wrapped {
		l.Release()
	}
}

func (ml *MultiLimit) Close() {
	for _, l := range ml.Wrapped {
		l.Close()
	}
}
