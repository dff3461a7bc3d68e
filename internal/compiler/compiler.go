// Package compiler merges plate jobs into a single printer program with
// plate-change routines spliced between them.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
)

// Banner prefixes written into the compiled program.
const (
	HeaderRule        = "; =================================================="
	JobBannerPrefix   = "; ===== JOB "
	CompletionBanner  = "; ===== ALL JOBS COMPLETE ====="
	RoutineBeginMark  = "; ----- PLATE CHANGE BEGIN: "
	RoutineEndMark    = "; ----- PLATE CHANGE END -----"
	jobStartSuffix    = " START: "
	jobEndSuffix      = " END: "
	bannerCloseSuffix = " ====="
)

var (
	// ErrMissingRoutine is returned when a plate that is followed by another
	// plate has no plate-change routine.
	ErrMissingRoutine = errors.New("plate-change routine required between plates")

	// ErrNoJobs is returned when there is nothing to compile.
	ErrNoJobs = errors.New("no jobs to compile")
)

// MissingRoutineError identifies the plate that blocked the merge.
type MissingRoutineError struct {
	Index int
	Name  string
}

func (e *MissingRoutineError) Error() string {
	return fmt.Sprintf("job %d (%s): %s", e.Index+1, e.Name, ErrMissingRoutine.Error())
}

func (e *MissingRoutineError) Unwrap() error {
	return ErrMissingRoutine
}

// MissingRoutinePolicy decides what happens when a non-final plate has no routine.
type MissingRoutinePolicy int

const (
	// AbortOnMissingRoutine fails the whole merge.
	AbortOnMissingRoutine MissingRoutinePolicy = iota
	// SkipOnMissingRoutine drops the offending plate and continues.
	SkipOnMissingRoutine
)

// Options configures a Compiler.
type Options struct {
	OnMissingRoutine MissingRoutinePolicy
	// Now stamps the document header. Defaults to time.Now.
	Now func() time.Time
}

// Result is the output of one compile. Text is empty when compilation failed.
type Result struct {
	Text        string
	Duration    time.Duration
	Diagnostics diag.List
	Compiled    int
	// Skipped holds the input indices of jobs dropped under
	// SkipOnMissingRoutine.
	Skipped []int

	kept []int
}

// Kept returns the jobs that made it into the program, in order. jobs must be
// the slice that was compiled.
func (r *Result) Kept(jobs []*plate.Job) []*plate.Job {
	out := make([]*plate.Job, 0, len(r.kept))
	for _, i := range r.kept {
		out = append(out, jobs[i])
	}
	return out
}

// SkippedNames returns the names of the skipped jobs, for display.
func (r *Result) SkippedNames(jobs []*plate.Job) []string {
	names := make([]string, 0, len(r.Skipped))
	for _, i := range r.Skipped {
		names = append(names, jobs[i].Name)
	}
	return names
}

// Compiler merges jobs. It holds no state between calls.
type Compiler struct {
	opts Options
}

// New creates a Compiler.
func New(opts Options) *Compiler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Compiler{opts: opts}
}

// Compile merges jobs in order for the target printer. override, when not
// nil, replaces every job's own plate-change routine.
func (c *Compiler) Compile(jobs []*plate.Job, target plate.Printer, override *plate.PlateChangeRoutine) (*Result, error) {
	return c.CompileContext(context.Background(), jobs, target, override)
}

// CompileContext is Compile with cancellation checked between jobs.
func (c *Compiler) CompileContext(ctx context.Context, jobs []*plate.Job, target plate.Printer, override *plate.PlateChangeRoutine) (*Result, error) {
	res := &Result{}

	if len(jobs) == 0 {
		res.Diagnostics.Errorf(diag.SourceCompiler, "no jobs selected")
		return res, ErrNoJobs
	}

	var total time.Duration
	for _, j := range jobs {
		total += j.Duration
	}

	last := len(jobs) - 1
	programs := make([]*plate.Routine, 0, len(jobs))

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			res.Diagnostics.Errorf(diag.SourceCompiler, "compilation canceled before job %d", i+1)
			return failed(res), err
		}

		program, ok, err := c.compileJob(i, i == last, job, target, override, res)
		if err != nil {
			return failed(res), err
		}
		if !ok {
			res.Skipped = append(res.Skipped, i)
			total -= job.Duration
			continue
		}
		res.kept = append(res.kept, i)
		programs = append(programs, program)
	}
	res.Compiled = len(res.kept)

	// Banners number plates by position in the merged program; diagnostics
	// keep the input position.
	var out strings.Builder
	writeHeader(&out, res.Compiled, total, c.opts.Now(), target)
	for k, i := range res.kept {
		writeJob(&out, k+1, res.Compiled, jobs[i], programs[k])
	}
	out.WriteString(CompletionBanner)
	out.WriteByte('\n')

	res.Text = out.String()
	res.Duration = total
	return res, nil
}

// compileJob validates one job and returns its program with the routine
// spliced in. It reports ok=false when the job was skipped under
// SkipOnMissingRoutine.
func (c *Compiler) compileJob(i int, isLast bool, job *plate.Job, target plate.Printer, override *plate.PlateChangeRoutine, res *Result) (*plate.Routine, bool, error) {
	name := job.Name
	prefix := fmt.Sprintf("job %d (%s): ", i+1, name)

	res.Diagnostics.Extend(NewValidator(target, prefix).Run(job.Program))

	if job.PlateChange != nil && !strings.EqualFold(job.PlateChange.Model, target.Model) {
		res.Diagnostics.Warnf(diag.SourceCompiler, "%sroutine %q targets %s, not %s", prefix, job.PlateChange.Name, job.PlateChange.Model, target.Model)
	}
	if job.Printer.Model != "" && job.Printer.Model != plate.UnknownModel && !strings.EqualFold(job.Printer.Model, target.Model) {
		res.Diagnostics.Warnf(diag.SourceCompiler, "%ssliced for %s, compiling for %s", prefix, job.Printer.Model, target.Model)
	}
	if !target.MultiMaterial && len(job.Filaments) > 1 {
		res.Diagnostics.Warnf(diag.SourceCompiler, "%s%d filaments but %s has no multi-material unit", prefix, len(job.Filaments), target.Name)
	}

	routine := job.PlateChange
	if override != nil {
		routine = override
	}

	program := job.Program
	if !isLast {
		if routine == nil {
			err := &MissingRoutineError{Index: i, Name: name}
			if c.opts.OnMissingRoutine == SkipOnMissingRoutine {
				res.Diagnostics.Warnf(diag.SourceCompiler, "%sskipped: no plate-change routine", prefix)
				return nil, false, nil
			}
			res.Diagnostics.Errorf(diag.SourceCompiler, "%s", err.Error())
			return nil, false, err
		}

		spliced, ok := Splice(job.Program, routine, target.FinishMarker)
		if ok {
			program = spliced
			res.Diagnostics.Infof(diag.SourceCompiler, "%sinjected plate-change routine %q", prefix, routine.Name)
		} else {
			res.Diagnostics.Warnf(diag.SourceCompiler, "%sfinish marker not found; routine %q not injected", prefix, routine.Name)
		}
	}

	return program, true, nil
}

// writeJob renders one kept job as plate pos of n.
func writeJob(b *strings.Builder, pos, n int, job *plate.Job, program *plate.Routine) {
	fmt.Fprintf(b, "%s%d/%d%s%s%s\n", JobBannerPrefix, pos, n, jobStartSuffix, job.Name, bannerCloseSuffix)
	fmt.Fprintf(b, "; Duration: %s\n", FormatDuration(job.Duration))
	fmt.Fprintf(b, "; Filaments: %s\n", joinKinds(job.Kinds()))
	b.WriteString(program.String())
	fmt.Fprintf(b, "%s%d/%d%s%s%s\n\n", JobBannerPrefix, pos, n, jobEndSuffix, job.Name, bannerCloseSuffix)
}

// Splice returns a copy of program with the routine wrapped in marker
// comments and inserted before the first line equal to finishMarker once
// both are trimmed. program is not modified.
func Splice(program *plate.Routine, routine *plate.PlateChangeRoutine, finishMarker string) (*plate.Routine, bool) {
	marker := strings.TrimSpace(finishMarker)
	block := make([]string, 0, routine.Program.Len()+2)
	block = append(block, RoutineBeginMark+routine.Name+" -----")
	block = append(block, routine.Program.Lines()...)
	block = append(block, RoutineEndMark)

	out := program.Clone()
	ok := out.InsertBefore(func(line string) bool {
		return strings.TrimSpace(line) == marker
	}, block...)
	return out, ok
}

func writeHeader(b *strings.Builder, jobs int, total time.Duration, now time.Time, target plate.Printer) {
	b.WriteString(HeaderRule + "\n")
	b.WriteString("; MERGED PLATE PROGRAM\n")
	fmt.Fprintf(b, "; Jobs: %d\n", jobs)
	fmt.Fprintf(b, "; Estimated time: %s\n", FormatDuration(total))
	fmt.Fprintf(b, "; Generated: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "; Printer: %s\n", target.Name)
	b.WriteString(HeaderRule + "\n\n")
}

// FormatDuration renders d the way slicers write print times, e.g. "1h 23m 45s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func joinKinds(kinds []plate.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func failed(res *Result) *Result {
	res.Text = ""
	res.Compiled = 0
	res.kept = nil
	return res
}
