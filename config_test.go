// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"barney.ci/go-varstore/guard"
)

func TestConfig(t *testing.T) {

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(cfg.Dir) != DefaultDirName {
			t.Fatalf("expected the default directory, got %s", cfg.Dir)
		}
		if cfg.Path() != filepath.Join(cfg.Dir, DefaultFile) {
			t.Fatalf("unexpected document path %s", cfg.Path())
		}
		if cfg.LogPath() != filepath.Join(cfg.Dir, DefaultLogFile) {
			t.Fatalf("unexpected log path %s", cfg.LogPath())
		}
		if cfg.Wait != guard.WaitKernel.String() || cfg.ReclaimStale || cfg.DecodeCache != 0 {
			t.Fatalf("unexpected defaults %+v", cfg)
		}
	})

	t.Run("Environment", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("VARSTORE_DIR", dir)
		t.Setenv("VARSTORE_FILE", "custom.json")
		t.Setenv("VARSTORE_LOG_LEVEL", "debug")
		t.Setenv("VARSTORE_WAIT", "poll")
		t.Setenv("VARSTORE_POLL_INTERVAL", "5ms")
		t.Setenv("VARSTORE_RECLAIM_STALE", "true")
		t.Setenv("VARSTORE_DECODE_CACHE", "1048576")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Path() != filepath.Join(dir, "custom.json") {
			t.Fatalf("unexpected document path %s", cfg.Path())
		}
		if cfg.LogLevel != "debug" || cfg.Wait != "poll" || cfg.PollInterval != 5*time.Millisecond {
			t.Fatalf("environment not applied: %+v", cfg)
		}
		if !cfg.ReclaimStale || cfg.DecodeCache != 1<<20 {
			t.Fatalf("environment not applied: %+v", cfg)
		}
	})

	t.Run("File", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "varstore.yaml")
		data := "dir: " + dir + "\nlog-level: warn\nwait: notify\nlog-file: \"\"\n"
		if err := os.WriteFile(file, []byte(data), 0666); err != nil {
			t.Fatal(err)
		}

		// The environment takes precedence over the file.
		t.Setenv("VARSTORE_WAIT", "poll")

		cfg, err := LoadConfig(file)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Dir != dir || cfg.LogLevel != "warn" || cfg.Wait != "poll" || cfg.LogPath() != "" {
			t.Fatalf("unexpected configuration %+v", cfg)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for key, value := range map[string]string{
			"VARSTORE_LOG_LEVEL": "loud",
			"VARSTORE_WAIT":      "spin",
		} {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				if _, err := LoadConfig(""); err == nil {
					t.Fatalf("%s=%q must be rejected", key, value)
				}
			})
		}

		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("a missing config file must be rejected")
		}
	})

	t.Run("String", func(t *testing.T) {
		cfg, err := DefaultConfig()
		if err != nil {
			t.Fatal(err)
		}
		s := cfg.String()
		for _, want := range []string{"STORAGE", "LOGGING", "LOCKING", "Wait Strategy", cfg.Path()} {
			if !strings.Contains(s, want) {
				t.Fatalf("expected %q in %s", want, s)
			}
		}
	})
}

func TestConfigOpen(t *testing.T) {
	ctx := context.Background()

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Dir = filepath.Join(t.TempDir(), DefaultDirName)
	cfg.LogLevel = "warn"
	cfg.Wait = "notify"
	cfg.DecodeCache = 1 << 20

	st, err := cfg.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Path() != cfg.Path() {
		t.Fatalf("expected store at %s, got %s", cfg.Path(), st.Path())
	}
	if st.cache == nil {
		t.Fatal("decode cache not enabled")
	}

	if err := st.Update(ctx, "foo", "bar"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.Get(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	log, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "no such variable") || !strings.Contains(string(log), "name=missing") {
		t.Fatalf("expected a warning about the missing variable, got %q", log)
	}
	if strings.Contains(string(log), "level=DEBUG") {
		t.Fatalf("debug messages logged at warn level: %q", log)
	}

	// The document survives the store.
	st = openStore(t, cfg.Path())
	if v, ok, err := st.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("Get after reopening: %v %v %v", v, ok, err)
	}
}
