// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Copyrightyear brings the year range of Posit copyright headers up to date.

A header is a line within the first 20 lines of a file that contains

	Copyright (C) <YYYY>[-<YYYY>] Posit Software, PBC.

When the last year of the header is before the current year, the header is
rewritten to end with the current year: "2020" becomes "2020-2026" and
"2020-2024" becomes "2020-2026". Only the first header of a file is looked at.
Files are considered when their extension is one of .ts, .tsx, .js, .jsx, .css,
.py, .R or .sh.

Without arguments, the tool walks the current directory. Otherwise it walks
each path given on the command line. Directories named .git and node_modules
are skipped.

With -lsp, the tool runs as a language server on standard input and output
instead. Editors that support textDocument/willSaveWaitUntil then update the
header every time a file is saved.

The tool can be configured with a .copyrightyear.txtar file in the working
directory. This file is a txtar archive and can contain an exclusions.json
file: a JSON array of path suffixes that are never touched.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/copyrightyear/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
