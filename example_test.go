// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"barney.ci/go-varstore"
)

func init() {
	log.SetFlags(0)
}

func Example() {
	dir, err := os.MkdirTemp("", "varstore")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	st, err := varstore.Open(ctx, filepath.Join(dir, "vars.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Update(ctx, "foo", 1337); err != nil {
		log.Fatal(err)
	}
	if err := st.Rename(ctx, "foo", "bar"); err != nil {
		log.Fatal(err)
	}

	bar, ok, err := varstore.Lookup[int](ctx, st, "bar")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(bar, ok)

	content, err := st.Content(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(content)

	// Output:
	// 1337 true
	// {"bar":1337}
}

func ExampleRegistry() {
	type Point struct {
		X, Y int
	}

	reg := varstore.NewRegistry()
	reg.MustRegister("point", Point{})

	dir, err := os.MkdirTemp("", "varstore")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	st, err := varstore.Open(ctx, filepath.Join(dir, "vars.json"), varstore.WithRegistry(reg))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Update(ctx, "origin", Point{3, 4}); err != nil {
		log.Fatal(err)
	}

	content, err := st.Content(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(content)

	p, _, err := varstore.Lookup[Point](ctx, st, "origin")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(p.X, p.Y)

	// Output:
	// {"origin":{"@type":"point","@value":{"X":3,"Y":4}}}
	// 3 4
}

func ExampleStore_Modify() {
	dir, err := os.MkdirTemp("", "varstore")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	st, err := varstore.Open(ctx, filepath.Join(dir, "vars.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	// Increment a counter without letting anyone in between the read and
	// the write.
	for i := 0; i < 3; i++ {
		err := st.Modify(ctx, func(ctx context.Context, doc varstore.Document) (bool, error) {
			var n int
			if raw, ok := doc["count"]; ok {
				if err := json.Unmarshal(raw, &n); err != nil {
					return false, err
				}
			}
			doc["count"] = json.RawMessage(fmt.Sprint(n + 1))
			return true, nil
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	count, _, err := varstore.Lookup[int](ctx, st, "count")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(count)

	// Output:
	// 3
}
