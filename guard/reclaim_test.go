// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build linux || darwin

package guard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	helperPathEnv  = "GUARD_HELPER_PATH"
	helperCrashEnv = "GUARD_HELPER_CRASH"
)

// TestHelperProcess is not a real test. It is run as a separate process by
// startHelper and holds the guarded file until its stdin is closed, or exits
// right away without releasing it if asked to crash.
func TestHelperProcess(t *testing.T) {
	path := os.Getenv(helperPathEnv)
	if path == "" {
		t.Skip("only run as a helper process")
	}

	g, err := Open(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, err := g.Lock(context.Background(), true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println("locked")

	if os.Getenv(helperCrashEnv) != "" {
		os.Exit(3)
	}
	io.Copy(io.Discard, os.Stdin)
	if err := g.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

// startHelper starts a helper process holding path, and returns once it
// reported holding it. Closing the returned writer makes it release and exit.
func startHelper(t *testing.T, path string, crash bool) (*exec.Cmd, io.WriteCloser) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperPathEnv+"="+path)
	if crash {
		cmd.Env = append(cmd.Env, helperCrashEnv+"=1")
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		stdin.Close()
		cmd.Process.Kill()
	})

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("helper did not report: %v", err)
	}
	if line != "locked\n" {
		t.Fatalf("unexpected helper output %q", line)
	}
	return cmd, stdin
}

func TestCrossProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	cmd, release := startHelper(t, path, false)

	g := openGuarded(t, path)
	if f, err := g.Lock(context.Background(), false); err != nil || f != nil {
		t.Fatalf("Lock while another process holds the file must return nil, got %v %v", f, err)
	}
	if locked, _ := g.IsLocked(); !locked {
		t.Fatal("file held by another process must be locked")
	}
	if err := g.Unlock(); !errors.Is(err, ErrOwnership) {
		t.Fatalf("Unlock of another process's lock: expected ErrOwnership, got %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		_, err := g.Lock(context.Background(), true)
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("Lock returned while another process held the file: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release.Close()
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Lock did not return after the other process released the file")
	}
}

func TestReclaim(t *testing.T) {
	ctx := context.Background()

	t.Run("Crashed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		cmd, _ := startHelper(t, path, true)
		var exitErr *exec.ExitError
		if err := cmd.Wait(); !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
			t.Fatalf("expected the helper to crash with status 3, got %v", err)
		}

		g := openGuarded(t, path)
		if f, err := g.Lock(ctx, false); err != nil || f != nil {
			t.Fatalf("stale marker must not be reclaimed by default, got %v %v", f, err)
		}

		reclaimed := testutil.ToFloat64(ReclaimedCounter)
		r := openGuarded(t, path, WithReclaimStale(true))
		if f, err := r.Lock(ctx, false); err != nil || f == nil {
			t.Fatalf("Lock with reclamation: %v %v", f, err)
		}
		if got := testutil.ToFloat64(ReclaimedCounter) - reclaimed; got != 1 {
			t.Fatalf("expected 1 reclaimed marker, got %v", got)
		}
	})

	t.Run("Unlocked marker", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		m, err := MarkerFor(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(m.Path(), nil, 0666); err != nil {
			t.Fatal(err)
		}

		g := openGuarded(t, path, WithReclaimStale(true))
		if f, err := g.Lock(ctx, false); err != nil || f == nil {
			t.Fatalf("Lock with reclamation: %v %v", f, err)
		}
	})

	t.Run("Live", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		m, held := holdForeign(t, path)
		defer m.remove(held)

		g := openGuarded(t, path, WithReclaimStale(true))
		if f, err := g.Lock(ctx, false); err != nil || f != nil {
			t.Fatalf("live marker must not be reclaimed, got %v %v", f, err)
		}
		if !markerExists(t, m) {
			t.Fatal("live marker was removed")
		}
	})
}
