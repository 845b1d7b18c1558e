package track

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultExtension is the file extension of Kongsberg .all logs
const DefaultExtension = ".all"

// Progress is reported after each file is processed
type Progress struct {
	Done   int    // files finished so far
	Total  int    // files in the batch
	Path   string // file just finished
	Points int    // points in its track
	Pings  int
	Err    error // non-nil when the file failed
}

// Reporter receives progress updates. Errors and panics from a reporter
// are logged and otherwise ignored.
type Reporter interface {
	Report(p Progress) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(p Progress) error

func (f ReporterFunc) Report(p Progress) error { return f(p) }

// Builder turns a list of files into a Set
type Builder struct {
	Options Options
	// Workers is the number of files decoded concurrently. Values below
	// two process files one after another.
	Workers int
	// AbortOnError stops the whole batch on the first failing file
	// instead of recording it and carrying on.
	AbortOnError bool
	Reporter     Reporter
	Logger       *log.Logger
}

type outcome struct {
	res FileResult
	err error
}

// Build processes paths and returns one track per path, in the same
// order. A cancelled ctx returns ctx.Err() and no partial result. With
// AbortOnError the reported error is that of the first failing path in
// input order, whatever the number of workers.
func (b *Builder) Build(ctx context.Context, paths []string) (Set, error) {
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]outcome, len(paths))
	var (
		mu        sync.Mutex
		done      int
		firstFail atomic.Int64
	)
	firstFail.Store(int64(len(paths)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Files after a known failure cannot change the outcome
			if b.AbortOnError && int64(i) > firstFail.Load() {
				return nil
			}
			res, err := Extract(gctx, path, b.Options)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if b.AbortOnError {
					lowerFailure(&firstFail, int64(i))
				}
			}
			outcomes[i] = outcome{res: res, err: err}

			mu.Lock()
			done++
			b.report(Progress{
				Done:   done,
				Total:  len(paths),
				Path:   path,
				Points: len(res.Track.Points),
				Pings:  res.Pings,
				Err:    err,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Set{}, err
	}
	if err := ctx.Err(); err != nil {
		return Set{}, err
	}
	if b.AbortOnError {
		if i := firstFail.Load(); i < int64(len(paths)) {
			// Format and open errors already name the file
			return Set{}, fmt.Errorf("aborting batch: %w", outcomes[i].err)
		}
	}

	set := Set{
		Tracks: make([]Track, 0, len(paths)),
		Files:  make([]FileSummary, 0, len(paths)),
	}
	for i, path := range paths {
		o := outcomes[i]
		if o.err != nil {
			b.logf("skipping %s: %v", path, o.err)
			set.Failures = append(set.Failures, FileFailure{Path: path, Err: o.err})
			set.Tracks = append(set.Tracks, Track{Name: filepath.Base(path)})
			set.Files = append(set.Files, FileSummary{Path: path})
			continue
		}
		set.Tracks = append(set.Tracks, o.res.Track)
		set.Files = append(set.Files, o.res.Summary(path))
		set.TotalPoints += len(o.res.Track.Points)
		set.TotalPings += o.res.Pings
	}
	return set, nil
}

// lowerFailure records i as the first failing index if it precedes the
// current one
func lowerFailure(first *atomic.Int64, i int64) {
	for {
		cur := first.Load()
		if i >= cur || first.CompareAndSwap(cur, i) {
			return
		}
	}
}

// BuildPath processes a single file, or every matching file below a
// directory.
func (b *Builder) BuildPath(ctx context.Context, path, ext string) (Set, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Set{}, err
	}
	if !info.IsDir() {
		return b.Build(ctx, []string{path})
	}
	paths, err := Discover(path, ext)
	if err != nil {
		return Set{}, err
	}
	return b.Build(ctx, paths)
}

func (b *Builder) report(p Progress) {
	if b.Reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logf("progress reporter panicked: %v", r)
		}
	}()
	if err := b.Reporter.Report(p); err != nil {
		b.logf("progress reporter: %v", err)
	}
}

func (b *Builder) logf(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}

// ErrNotDirectory is returned by Discover for a path that is not a directory
var ErrNotDirectory = errors.New("not a directory")

// Discover returns every regular file below dir whose extension matches
// ext, case-insensitively, sorted by path so batches are reproducible.
func Discover(dir, ext string) ([]string, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
