// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package version reports the version of the running program.
package version

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"go.astrophena.name/copyrightyear/syncx"
)

// Info is the version information of a program.
type Info struct {
	Name      string // command name
	Module    string // main module version, "(devel)" for local builds
	Commit    string // VCS revision, if known
	Modified  bool   // working tree had uncommitted changes
	GoVersion string
	OS        string
	Arch      string
}

// String returns a human-readable, multi-line representation of i.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", i.Name, i.Module)
	if i.Commit != "" {
		commit := i.Commit
		if i.Modified {
			commit += " (modified)"
		}
		fmt.Fprintf(&sb, "commit: %s\n", commit)
	}
	fmt.Fprintf(&sb, "built with %s for %s/%s\n", i.GoVersion, i.OS, i.Arch)
	return sb.String()
}

var info syncx.Lazy[Info]

// Version returns the version information of the running program.
func Version() Info { return info.Get(load) }

// CmdName returns the base name of the running program.
func CmdName() string { return Version().Name }

func load() Info {
	i := Info{
		Name:      cmdName(),
		Module:    "(devel)",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	if v := bi.Main.Version; v != "" {
		i.Module = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			i.Commit = s.Value
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
	return i
}

func cmdName() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return strings.TrimSuffix(filepath.Base(exe), ".exe")
}
