// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build linux || darwin

package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeLockfiles(tb testing.TB, path string, n int) chan *os.File {
	tb.Helper()

	locks := make(chan *os.File, 32)
	go func() {
		for i := 0; i < n; i++ {
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0777)
			if err != nil {
				tb.Error(err)
			}
			locks <- f
		}
	}()
	return locks
}

func TestFlock(t *testing.T) {

	t.Run("Lock", func(t *testing.T) {
		t.Parallel()

		locks := makeLockfiles(t, filepath.Join(t.TempDir(), "guard-flock-test"), 2)

		f1 := <-locks
		if f1 == nil {
			t.FailNow()
		}
		defer f1.Close()

		f2 := <-locks
		if f2 == nil {
			t.FailNow()
		}
		defer f2.Close()

		// Write-locking a second fd of a file that was exclusive-locked should block
		if err := Lock(context.Background(), f1); err != nil {
			t.Fatal(err)
		}
		if err := TryLock(f2); !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("TryLock on an acquired lock: expected ErrWouldBlock, got %v", err)
		}
		if err := Unlock(f1); err != nil {
			t.Fatal(err)
		}
		if err := TryLock(f2); err != nil {
			t.Fatal(err)
		}
		if err := Unlock(f2); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("RLock", func(t *testing.T) {
		t.Parallel()

		locks := makeLockfiles(t, filepath.Join(t.TempDir(), "guard-rlock-test"), 2)

		f1 := <-locks
		if f1 == nil {
			t.FailNow()
		}
		defer f1.Close()

		f2 := <-locks
		if f2 == nil {
			t.FailNow()
		}
		defer f2.Close()

		// Read-locking multiple fds of the same file should not block
		if err := TryRLock(f1); err != nil {
			t.Fatal(err)
		}
		if err := TryRLock(f2); err != nil {
			t.Fatal(err)
		}

		// Promoting a shared lock while another shared lock is held should block
		if err := TryLock(f2); !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("TryLock failed with error other than ErrWouldBlock: %T %v", err, err)
		}

		if err := Unlock(f1); err != nil {
			t.Fatal(err)
		}
		if err := TryLock(f2); err != nil {
			t.Fatal(err)
		}
		if err := TryRLock(f1); !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("TryRLock failed with error other than ErrWouldBlock: %T %v", err, err)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		t.Parallel()

		locks := makeLockfiles(t, filepath.Join(t.TempDir(), "guard-cancel-test"), 2)

		f1 := <-locks
		if f1 == nil {
			t.FailNow()
		}
		defer f1.Close()

		f2 := <-locks
		if f2 == nil {
			t.FailNow()
		}
		defer f2.Close()

		if err := Lock(context.Background(), f1); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		// A blocked RLock must give up once its context is done.
		if err := RLock(ctx, f2); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected RLock to time out, got %v", err)
		}
	})

	t.Run("Claim", func(t *testing.T) {
		t.Parallel()

		locks := makeLockfiles(t, filepath.Join(t.TempDir(), "guard-claim-test"), 2)

		owner := <-locks
		if owner == nil {
			t.FailNow()
		}
		defer owner.Close()

		waiter := <-locks
		if waiter == nil {
			t.FailNow()
		}
		defer waiter.Close()

		// A waiter that found the marker before its owner locked it holds a
		// shared lock for a moment; the owner must still get the marker.
		if err := TryRLock(waiter); err != nil {
			t.Fatal(err)
		}
		go func() {
			time.Sleep(5 * time.Millisecond)
			Unlock(waiter)
		}()

		if err := claim(owner, &MarkerInfo{Holder: "owner"}); err != nil {
			t.Fatal(err)
		}
		if err := TryRLock(waiter); !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("expected the owner to hold an exclusive lock, got %v", err)
		}
	})

	t.Run("ClaimTimeout", func(t *testing.T) {
		t.Parallel()

		locks := makeLockfiles(t, filepath.Join(t.TempDir(), "guard-claim-timeout-test"), 2)

		owner := <-locks
		if owner == nil {
			t.FailNow()
		}
		defer owner.Close()

		waiter := <-locks
		if waiter == nil {
			t.FailNow()
		}
		defer waiter.Close()

		if err := TryRLock(waiter); err != nil {
			t.Fatal(err)
		}
		if err := claim(owner, &MarkerInfo{Holder: "owner"}); !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("expected ErrWouldBlock while the shared lock is kept, got %v", err)
		}
	})
}

func BenchmarkFlock(b *testing.B) {

	var lockpath = filepath.Join(b.TempDir(), "guard-flock-bench")

	b.Run("Sequential", func(b *testing.B) {
		var count int

		b.StopTimer()
		locks := makeLockfiles(b, lockpath, b.N)
		b.StartTimer()

		for i := 0; i < b.N; i++ {
			f := <-locks
			if f == nil {
				b.FailNow()
			}
			Lock(context.Background(), f)
			count++
			f.Close()
		}

		b.StopTimer()
		if count != b.N {
			b.Fatalf("expected %d increments, got %d", b.N, count)
		}
	})
}
