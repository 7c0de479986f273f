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
	"testing"
	"time"
)

func TestSemaphore(t *testing.T) {
	s := NewSemaphore(2)
	if err := s.TakeContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.TakeContext(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.TakeContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third TakeContext should block, got %v", err)
	}

	s.Release()
	if err := s.TakeContext(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSemaphore_Unlimited(t *testing.T) {
	s := NewSemaphore(0)
	for i := 0; i < 100; i++ {
		if !s.Take() {
			t.Fatal("Take failed")
		}
	}
	s.Release()
}

func TestRate_TakeContext(t *testing.T) {
	tests := []struct {
		name            string
		burst           int
		interval        time.Duration
		count           int
		close           bool
		wantErr         bool
		totalTimeAbove  time.Duration
		totalTimeBefore time.Duration
	}{
		{
			name:           "rate all good",
			burst:          1,
			interval:       10 * time.Millisecond,
			count:          10,
			totalTimeAbove: 9 * 10 * time.Millisecond,
		},
		{
			name:            "rate burst 0",
			burst:           0,
			interval:        10 * time.Second,
			count:           20,
			totalTimeBefore: time.Second,
		},
		{
			name:            "rate closed",
			burst:           0,
			interval:        10 * time.Second,
			count:           1,
			close:           true,
			wantErr:         true,
			totalTimeBefore: time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRate(tt.burst, tt.interval)
			if tt.close {
				r.Close()
			} else {
				defer r.Close()
			}

			start := time.Now()
			for i := 0; i < tt.count; i++ {
				err := r.TakeContext(context.Background())
				if (err != nil) != tt.wantErr {
					t.Fatalf("TakeContext() error = %v, wantErr %v", err, tt.wantErr)
				}
			}
			total := time.Since(start)
			if total < tt.totalTimeAbove {
				t.Errorf("took %v, expected at least %v", total, tt.totalTimeAbove)
			}
			if tt.totalTimeBefore != 0 && total > tt.totalTimeBefore {
				t.Errorf("took %v, expected less than %v", total, tt.totalTimeBefore)
			}
		})
	}
}

func TestBucketSet_PerKey(t *testing.T) {
	bs := NewBucketSet(func() L { return NewSemaphore(1) }, time.Minute, 10)
	defer bs.Close()

	if err := bs.TakeContext(context.Background(), "example.org"); err != nil {
		t.Fatal(err)
	}
	if err := bs.TakeContext(context.Background(), "example.com"); err != nil {
		t.Fatalf("keys are not independent: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bs.TakeContext(ctx, "example.org"); err == nil {
		t.Fatal("second take of the same key should block")
	}

	bs.Release("example.org")
	if err := bs.TakeContext(context.Background(), "example.org"); err != nil {
		t.Fatal(err)
	}
}

func TestBucketSet_Reap(t *testing.T) {
	bs := NewBucketSet(func() L { return NewSemaphore(1) }, 0, 1)
	defer bs.Close()

	if err := bs.TakeContext(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := bs.TakeContext(context.Background(), "b"); !errors.Is(err, ErrTooManyBuckets) {
		t.Fatalf("held bucket must not be reaped, got %v", err)
	}

	bs.Release("a")
	time.Sleep(time.Millisecond)
	if err := bs.TakeContext(context.Background(), "b"); err != nil {
		t.Fatalf("idle bucket is not reaped: %v", err)
	}
	if bs.Len() != 1 {
		t.Errorf("expected 1 bucket, got %d", bs.Len())
	}
}

func TestBucketSet_NoNew(t *testing.T) {
	var bs BucketSet
	if err := bs.TakeContext(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	bs.Release("x")
}
