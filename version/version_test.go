// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"runtime"
	"strings"
	"testing"

	"go.astrophena.name/copyrightyear/testutil"
)

func TestInfoString(t *testing.T) {
	cases := map[string]struct {
		in   Info
		want string
	}{
		"devel": {
			in:   Info{Name: "copyrightyear", Module: "(devel)", GoVersion: "go1.26.0", OS: "linux", Arch: "amd64"},
			want: "copyrightyear (devel)\nbuilt with go1.26.0 for linux/amd64\n",
		},
		"modified commit": {
			in:   Info{Name: "copyrightyear", Module: "v1.0.0", Commit: "abc123", Modified: true, GoVersion: "go1.26.0", OS: "darwin", Arch: "arm64"},
			want: "copyrightyear v1.0.0\ncommit: abc123 (modified)\nbuilt with go1.26.0 for darwin/arm64\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, tc.in.String(), tc.want)
		})
	}
}

func TestVersion(t *testing.T) {
	v := Version()
	testutil.AssertEqual(t, v.GoVersion, runtime.Version())
	if v.Name == "" {
		t.Fatal("Version().Name is empty")
	}
	testutil.AssertEqual(t, CmdName(), v.Name)
	if !strings.Contains(v.String(), v.Name) {
		t.Fatalf("String() = %q does not mention %q", v.String(), v.Name)
	}
}
