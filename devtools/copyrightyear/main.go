// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"go.astrophena.name/copyrightyear/cli"
	"go.astrophena.name/copyrightyear/header"
	"go.astrophena.name/copyrightyear/logger"
	"go.astrophena.name/copyrightyear/lsp"
	"go.astrophena.name/copyrightyear/syncx"
	"go.astrophena.name/copyrightyear/txtar"
	"go.astrophena.name/copyrightyear/version"
)

const configFile = ".copyrightyear.txtar"

var errStale = errors.New("stale copyright headers")

var skipDirs = []string{".git", "node_modules"}

type config struct {
	exclusions []string
}

func (cfg *config) isExcluded(path string) bool {
	path = filepath.ToSlash(path)
	for _, ex := range cfg.exclusions {
		if strings.HasSuffix(path, ex) {
			return true
		}
	}
	return false
}

func parseConfig(name string) (*config, error) {
	cfg := &config{}

	ar, err := txtar.ParseFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	for _, f := range ar.Files {
		if f.Name == "exclusions.json" {
			if err := json.Unmarshal(f.Data, &cfg.exclusions); err != nil {
				return nil, fmt.Errorf("%s: exclusions.json: %w", name, err)
			}
		}
	}

	return cfg, nil
}

func main() { cli.Main(new(app)) }

type app struct {
	dry      bool
	check    bool
	serveLSP bool
	verbose  bool
	year     int
	jobs     int
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Print the changes that would be made, without making them.")
	fs.BoolVar(&a.check, "check", false, "Fail if any file has a stale header, without making changes.")
	fs.BoolVar(&a.serveLSP, "lsp", false, "Run as a language server on stdin and stdout.")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
	fs.IntVar(&a.year, "year", 0, "Use `year` instead of the current year.")
	fs.IntVar(&a.jobs, "j", runtime.NumCPU(), "Process up to `n` files concurrently.")
}

// change is an update made, or to be made, to one file.
type change struct {
	path    string
	line    int
	oldLine string
	newLine string
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if a.verbose {
		logger.LevelVar(ctx).Set(slog.LevelDebug)
	}
	if a.year != 0 && (a.year < 1000 || a.year > 9999) {
		return fmt.Errorf("%w: -year must have four digits, got %d", cli.ErrInvalidArgs, a.year)
	}

	if a.serveLSP {
		if len(env.Args) > 0 || a.dry || a.check {
			return fmt.Errorf("%w: -lsp takes no other arguments", cli.ErrInvalidArgs)
		}
		return a.lspServer().Serve(ctx, env.Stdin, env.Stdout)
	}

	if a.dry && a.check {
		return fmt.Errorf("%w: -dry and -check are mutually exclusive", cli.ErrInvalidArgs)
	}
	if a.jobs < 1 {
		return fmt.Errorf("%w: -j must be positive, got %d", cli.ErrInvalidArgs, a.jobs)
	}

	year := a.year
	if year == 0 {
		year = time.Now().Year()
	}

	cfg, err := parseConfig(configFile)
	if err != nil {
		return err
	}

	roots := env.Args
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var files []string
	for _, root := range roots {
		found, err := collect(ctx, cfg, root)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}
	logger.Debug(ctx, "collected files", slog.Int("count", len(files)), slog.Int("year", year))

	changes, err := a.process(ctx, files, year)
	if err != nil {
		return err
	}

	color := env.Color(env.Stdout)
	for _, c := range changes {
		switch {
		case a.dry:
			fmt.Fprintf(env.Stdout, "%s:%d: %s\n", c.path, c.line+1, renderDiff(c.oldLine, c.newLine, color))
		case a.check:
			fmt.Fprintf(env.Stdout, "%s:%d: header does not cover %d\n", c.path, c.line+1, year)
		default:
			fmt.Fprintf(env.Stdout, "updated %s\n", c.path)
		}
	}

	if a.check && len(changes) > 0 {
		return fmt.Errorf("%w: %d file(s) need updating", errStale, len(changes))
	}
	return nil
}

func (a *app) lspServer() *lsp.Server {
	srv := &lsp.Server{
		Name:    version.CmdName(),
		Version: version.Version().Module,
	}
	if a.year != 0 {
		year := a.year
		srv.Now = func() time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.Local) }
	}
	return srv
}

// collect returns the files under root that may carry a header.
func collect(ctx context.Context, cfg *config, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && slices.Contains(skipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !header.Supported(path) {
			return nil
		}
		if cfg.isExcluded(path) {
			logger.Debug(ctx, "excluded", slog.String("file", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// process updates files concurrently and returns the changes sorted by path.
func (a *app) process(ctx context.Context, files []string, year int) ([]change, error) {
	var (
		changes = syncx.Protect(&[]change{})
		errs    = syncx.Protect(&[]error{})
		lwg     = syncx.NewLimitedWaitGroup(a.jobs)
	)
	for _, path := range files {
		lwg.Go(func() {
			c, err := a.processFile(ctx, path, year)
			if err != nil {
				errs.WriteAccess(func(errs *[]error) { *errs = append(*errs, err) })
				return
			}
			if c != nil {
				changes.WriteAccess(func(cs *[]change) { *cs = append(*cs, *c) })
			}
		})
	}
	lwg.Wait()

	var (
		res []change
		err error
	)
	errs.ReadAccess(func(errs *[]error) { err = errors.Join(*errs...) })
	changes.ReadAccess(func(cs *[]change) { res = *cs })
	slices.SortFunc(res, func(a, b change) int { return strings.Compare(a.path, b.path) })
	return res, err
}

func (a *app) processFile(ctx context.Context, path string, year int) (*change, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := string(content)
	edits := header.Edits(text, year)
	if len(edits) == 0 {
		return nil, nil
	}

	e := edits[0]
	lines := strings.SplitN(text, "\n", e.Line+2)
	c := &change{
		path:    path,
		line:    e.Line,
		oldLine: strings.TrimSuffix(lines[e.Line], "\r"),
		newLine: e.Text,
	}
	if a.dry || a.check {
		return c, nil
	}

	if err := os.WriteFile(path, []byte(header.Apply(text, edits)), info.Mode().Perm()); err != nil {
		return nil, err
	}
	logger.Info(ctx, "updated header", slog.String("file", path), slog.String("line", e.Text))
	return c, nil
}

// renderDiff renders the difference between two lines. Without color,
// deletions are shown as [-text-] and insertions as {+text+}.
func renderDiff(oldLine, newLine string, color bool) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldLine, newLine, false))
	if color {
		return dmp.DiffPrettyText(diffs)
	}

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		}
	}
	return sb.String()
}
