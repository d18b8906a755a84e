/*
	Package convert runs the first pipeline stage: re-encoding every source
	raster into the tiled, compressed intermediate format, in parallel.
*/
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/tilepipe"
)

// Failure records one source raster that could not be converted.  Failures
// are collected, not thrown: the orchestrator decides whether the aggregate
// is acceptable.
type Failure struct {
	Source string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("conversion of %q failed: %v", f.Source, f.Err)
}

// Result is the outcome of a conversion stage.  Converted holds the
// successful conversions in source order.
type Result struct {
	Converted []engine.RasterInfo
	Failures  []Failure
}

// Discover lists the source rasters in a flat input directory, in sorted
// order.  Only files with one of the given extensions (case-insensitive,
// with leading dot) are considered; with no extensions given, every regular
// file is a source.
func Discover(sourceDir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("could not read source directory %q: %v", sourceDir, err)
	}
	var sources []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if len(exts) > 0 {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			ok := false
			for _, want := range exts {
				if ext == strings.ToLower(want) {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		sources = append(sources, filepath.Join(sourceDir, entry.Name()))
	}
	sort.Strings(sources)
	return sources, nil
}

// DestPath returns the output path for a converted source: same basename in
// destDir with the extension changed to destExt.
func DestPath(source, destDir, destExt string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base)) + destExt
	return filepath.Join(destDir, base)
}

// All converts every source raster using a bounded pool of workers.  Each
// source is one independent unit of work writing to a distinct output path;
// an individual failure (malformed source, disk write error, engine crash)
// is captured in the Result and does not terminate sibling conversions.
func All(ctx context.Context, eng engine.Engine, sources []string, destDir, destExt string, workers int) Result {
	if workers < 1 {
		workers = 1
	}
	converted := make([]*engine.RasterInfo, len(sources))
	failures := make([]*Failure, len(sources))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failures[i] = &Failure{Source: source, Err: fmt.Errorf("engine crash: %v", r)}
				}
			}()
			basename := filepath.Base(source)
			tilepipe.Debugf("Starting conversion for %s\n", basename)
			info, err := eng.Convert(ctx, source, DestPath(source, destDir, destExt), engine.DefaultEncoding())
			if err != nil {
				tilepipe.Errorf("Conversion of %s failed: %v\n", basename, err)
				failures[i] = &Failure{Source: source, Err: err}
				return nil
			}
			tilepipe.Debugf("Finished conversion for %s\n", basename)
			converted[i] = &info
			return nil
		})
	}
	g.Wait()

	var result Result
	for i := range sources {
		if converted[i] != nil {
			result.Converted = append(result.Converted, *converted[i])
		}
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
		}
	}
	return result
}
