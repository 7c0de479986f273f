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

// ErrTooManyBuckets is returned by TakeContext when the set is full and
// no bucket can be reaped.
var ErrTooManyBuckets = errors.New("limiters: too many buckets")

type bucket struct {
	l       L
	holders int
	lastUse time.Time
}

// BucketSet gives each key its own L, created by New on first use.
//
// Buckets that have no holders and were not used for ReapInterval are
// dropped once the set grows beyond MaxBuckets. A BucketSet without New
// is a no-op.
type BucketSet struct {
	New          func() L
	ReapInterval time.Duration
	MaxBuckets   int

	mLck sync.Mutex
	m    map[string]*bucket
}

func NewBucketSet(new_ func() L, reapInterval time.Duration, maxBuckets int) *BucketSet {
	return &BucketSet{
		New:          new_,
		ReapInterval: reapInterval,
		MaxBuckets:   maxBuckets,
		m:            map[string]*bucket{},
	}
}

func (r *BucketSet) Close() {
	r.mLck.Lock()
	defer r.mLck.Unlock()

	for _, b := range r.m {
		b.l.Close()
	}
}

func (r *BucketSet) take(key string) *bucket {
	r.mLck.Lock()
	defer r.mLck.Unlock()

	now := time.Now()
	b, ok := r.m[key]
	if !ok {
		if len(r.m) >= r.MaxBuckets {
			for k, v := range r.m {
				if v.holders == 0 && now.Sub(v.lastUse) > r.ReapInterval {
					v.l.Close()
					delete(r.m, k)
				}
			}
			if len(r.m) >= r.MaxBuckets {
				return nil
			}
		}
		b = &bucket{l: r.New()}
		r.m[key] = b
	}
	b.holders++
	b.lastUse = now
	return b
}

func (r *BucketSet) untake(b *bucket) {
	r.mLck.Lock()
	defer r.mLck.Unlock()
	b.holders--
}

// TakeContext acquires the bucket for key. Each successful call must be
// paired with Release.
func (r *BucketSet) TakeContext(ctx context.Context, key string) error {
	if r.New == nil {
		return nil
	}

	b := r.take(key)
	if b == nil {
		return ErrTooManyBuckets
	}
	if err := b.l.TakeContext(ctx); err != nil {
		r.untake(b)
		return err
	}
	return nil
}

func (r *BucketSet) Release(key string) {
	if r.New == nil {
		return
	}

	r.mLck.Lock()
	defer r.mLck.Unlock()

	b, ok := r.m[key]
	if !ok {
		return
	}
	b.holders--
	b.lastUse = time.Now()
	b.l.Release()
}

// Len returns the number of buckets currently in the set.
func (r *BucketSet) Len() int {
	r.mLck.Lock()
	defer r.mLck.Unlock()
	return len(r.m)
}
