// Package ingest turns raw files into plate jobs. Containers go through the
// archive extractor; standalone G-code goes straight to the parser.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cuongbtq/platecompiler/internal/archive"
	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/gcode"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var zipMagic = []byte("PK\x03\x04")

// Source is one file handed over by a file picker, upload or path.
type Source struct {
	Name string
	Data []byte
}

// Result is what one source produced.
type Result struct {
	Name        string
	Jobs        []*plate.Job
	Diagnostics diag.List
}

// Loader loads sources into jobs.
type Loader struct {
	registry  *printer.Registry
	extractor *archive.Extractor
	parser    *gcode.Parser
	limit     int
}

// NewLoader creates a loader. A nil registry uses the embedded catalog.
func NewLoader(registry *printer.Registry) *Loader {
	if registry == nil {
		registry = printer.Default()
	}
	return &Loader{
		registry:  registry,
		extractor: archive.NewExtractor(registry),
		parser:    gcode.NewParser(registry),
		limit:     runtime.GOMAXPROCS(0),
	}
}

// IsContainer reports whether src looks like a zip container.
func IsContainer(src Source) bool {
	return bytes.HasPrefix(src.Data, zipMagic) || strings.EqualFold(filepath.Ext(src.Name), ".3mf")
}

// Load reads one source. A broken source yields diagnostics and no jobs.
func (l *Loader) Load(src Source) Result {
	res := Result{Name: src.Name}
	prefix := src.Name + ": "

	if len(src.Data) == 0 {
		res.Diagnostics.Errorf(diag.SourceIngest, "%sfile is empty", prefix)
		return res
	}

	if IsContainer(src) {
		ex := l.extractor.ExtractNamed(src.Name, src.Data)
		res.Jobs = ex.Jobs
		res.Diagnostics = ex.Diagnostics.Remap(diag.SourceIngest, prefix)
		return res
	}

	job, diags := l.loadProgram(src)
	res.Diagnostics = diags.Remap(diag.SourceIngest, prefix)
	if job != nil {
		res.Jobs = []*plate.Job{job}
	}
	return res
}

func (l *Loader) loadProgram(src Source) (*plate.Job, diag.List) {
	text := string(src.Data)
	meta, diags, err := l.parser.Parse(text, src.Name)
	if err != nil {
		return nil, diags
	}

	p := meta.Printer
	if !meta.PrinterKnown {
		p = l.registry.DefaultPrinter()
		diags.Infof(diag.SourceIngest, "using default printer profile %s", p.Name)
	}

	routine, ok := l.registry.Routine(p.Model)
	if !ok {
		diags.Infof(diag.SourceIngest, "no default plate-change routine for %s", p.Model)
	}

	job := &plate.Job{
		ID:          uuid.NewString(),
		Name:        meta.Name,
		Filaments:   meta.Filaments,
		Program:     plate.ParseRoutine(text),
		Printer:     p,
		PlateChange: routine,
		Duration:    meta.Duration,
		Thumbnail:   meta.Thumbnail,
	}
	job.EnsureFilaments()
	return job, diags
}

// LoadFiles loads sources in parallel. Results are in input order and one
// failing source does not affect the others. The error is only set when ctx
// is canceled.
func (l *Loader) LoadFiles(ctx context.Context, srcs []Source) ([]Result, error) {
	results := make([]Result, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.limit, 1))
	for i, src := range srcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.Load(src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	return results, nil
}

// ReadFiles reads paths from disk into sources.
func ReadFiles(paths []string) ([]Source, error) {
	srcs := make([]Source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		srcs = append(srcs, Source{Name: filepath.Base(p), Data: data})
	}
	return srcs, nil
}

// Jobs flattens results into one job list in load order.
func Jobs(results []Result) []*plate.Job {
	var jobs []*plate.Job
	for _, r := range results {
		jobs = append(jobs, r.Jobs...)
	}
	return jobs
}

// Diagnostics flattens the diagnostics of every result.
func Diagnostics(results []Result) diag.List {
	var out diag.List
	for _, r := range results {
		out.Extend(r.Diagnostics)
	}
	return out
}
