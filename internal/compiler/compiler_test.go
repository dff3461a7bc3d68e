package compiler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/platetest"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func newJob(t *testing.T, name string, withRoutine bool) *plate.Job {
	t.Helper()
	reg := printer.Default()
	p, ok := reg.Lookup("A1 mini")
	require.True(t, ok)

	j := &plate.Job{
		ID:       name,
		Name:     name,
		Program:  plate.ParseRoutine(platetest.DefaultGCode().String()),
		Printer:  p,
		Duration: 10 * time.Minute,
		Filaments: []plate.Filament{
			{Color: "#FF0000", Kind: plate.KindPLA},
			{Color: "#00FF00", Kind: plate.KindPETG},
		},
	}
	if withRoutine {
		r, ok := reg.Routine("A1 mini")
		require.True(t, ok)
		j.PlateChange = r
	}
	return j
}

func lines(text string) []string {
	return plate.ParseRoutine(text).Lines()
}

func TestCompile_ThreeJobs(t *testing.T) {
	jobs := []*plate.Job{
		newJob(t, "first", true),
		newJob(t, "second", true),
		newJob(t, "third", false),
	}

	res, err := New(Options{Now: fixedNow}).Compile(jobs, mini(t), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Text)

	assert.Equal(t, 3, res.Compiled)
	assert.Equal(t, 30*time.Minute, res.Duration)
	assert.False(t, res.Diagnostics.HasErrors(), res.Diagnostics.Log())
	assert.Equal(t, 2, res.Diagnostics.Count(diag.Info))

	text := res.Text
	assert.Contains(t, text, "; Jobs: 3\n")
	assert.Contains(t, text, "; Estimated time: 0h 30m 0s\n")
	assert.Contains(t, text, "; Generated: 2026-01-02T03:04:05Z\n")
	assert.Contains(t, text, "; Printer: Bambu Lab A1 mini\n")
	assert.True(t, strings.HasSuffix(text, CompletionBanner+"\n"))

	for i, name := range []string{"first", "second", "third"} {
		n := i + 1
		assert.Contains(t, text, JobBannerPrefix+strconv.Itoa(n)+"/3 START: "+name+" =====")
		assert.Contains(t, text, JobBannerPrefix+strconv.Itoa(n)+"/3 END: "+name+" =====")
	}
	assert.Contains(t, text, "; Filaments: PLA, PETG\n")

	out := lines(text)
	var finishes []int
	for i, l := range out {
		if strings.TrimSpace(l) == platetest.FinishMarker {
			finishes = append(finishes, i)
		}
	}
	require.Len(t, finishes, 3)
	assert.Equal(t, RoutineEndMark, out[finishes[0]-1])
	assert.Equal(t, RoutineEndMark, out[finishes[1]-1])
	assert.NotEqual(t, RoutineEndMark, out[finishes[2]-1])
	assert.Equal(t, 2, strings.Count(text, RoutineBeginMark+"A1 mini plate swap -----"))
}

func TestCompile_SingleJobNeedsNoRoutine(t *testing.T) {
	res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{newJob(t, "only", false)}, mini(t), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Compiled)
	assert.NotContains(t, res.Text, RoutineBeginMark)
	assert.Empty(t, res.Diagnostics)
}

func TestCompile_MissingRoutine(t *testing.T) {
	jobs := []*plate.Job{
		newJob(t, "first", true),
		newJob(t, "second", false),
		newJob(t, "third", true),
	}

	res, err := New(Options{Now: fixedNow}).Compile(jobs, mini(t), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRoutine)

	var mre *MissingRoutineError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, 1, mre.Index)
	assert.Equal(t, "second", mre.Name)

	require.NotNil(t, res)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Compiled)
	assert.True(t, res.Diagnostics.HasErrors())
}

func TestCompile_SkipMissingRoutine(t *testing.T) {
	jobs := []*plate.Job{
		newJob(t, "first", false),
		newJob(t, "second", true),
		newJob(t, "third", false),
	}

	res, err := New(Options{Now: fixedNow, OnMissingRoutine: SkipOnMissingRoutine}).Compile(jobs, mini(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.Skipped)
	assert.Equal(t, []string{"first"}, res.SkippedNames(jobs))
	assert.Equal(t, 2, res.Compiled)
	assert.Equal(t, 20*time.Minute, res.Duration)
	assert.NotContains(t, res.Text, "START: first")
	assert.Contains(t, res.Text, "; Jobs: 2\n")
	assert.Contains(t, res.Text, JobBannerPrefix+"1/2 START: second =====")
	assert.Contains(t, res.Text, JobBannerPrefix+"1/2 END: second =====")
	assert.Contains(t, res.Text, JobBannerPrefix+"2/2 START: third =====")
	assert.Equal(t, 1, res.Diagnostics.Count(diag.Warning))
}

func TestResult_Kept(t *testing.T) {
	tests := []struct {
		name        string
		routines    []bool
		wantKept    []int
		wantSkipped []int
	}{
		{name: "skipped duplicate first", routines: []bool{false, true, false}, wantKept: []int{1, 2}, wantSkipped: []int{0}},
		{name: "skipped duplicate second", routines: []bool{true, false, false}, wantKept: []int{0, 2}, wantSkipped: []int{1}},
		{name: "nothing skipped", routines: []bool{true, true, false}, wantKept: []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := []*plate.Job{
				newJob(t, "dup", tt.routines[0]),
				newJob(t, "dup", tt.routines[1]),
				newJob(t, "last", tt.routines[2]),
			}

			res, err := New(Options{Now: fixedNow, OnMissingRoutine: SkipOnMissingRoutine}).Compile(jobs, mini(t), nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSkipped, res.Skipped)
			kept := res.Kept(jobs)
			require.Len(t, kept, len(tt.wantKept))
			for k, i := range tt.wantKept {
				assert.Same(t, jobs[i], kept[k])
			}
		})
	}
}

func TestResult_KeptAfterFailure(t *testing.T) {
	jobs := []*plate.Job{newJob(t, "a", true), newJob(t, "b", false), newJob(t, "c", false)}

	res, err := New(Options{Now: fixedNow}).Compile(jobs, mini(t), nil)
	require.Error(t, err)
	assert.Empty(t, res.Kept(jobs))
}

func TestCompile_Override(t *testing.T) {
	override := &plate.PlateChangeRoutine{
		Name:    "manual swap",
		Model:   "A1 mini",
		Program: plate.NewRoutine("M400 U1"),
	}
	jobs := []*plate.Job{newJob(t, "a", true), newJob(t, "b", false)}

	res, err := New(Options{Now: fixedNow}).Compile(jobs, mini(t), override)
	require.NoError(t, err)

	assert.Contains(t, res.Text, RoutineBeginMark+"manual swap -----\nM400 U1\n"+RoutineEndMark+"\n"+platetest.FinishMarker+"\n")
	assert.NotContains(t, res.Text, "A1 mini plate swap")
}

func TestCompile_FinishMarkerMissing(t *testing.T) {
	g := platetest.DefaultGCode()
	g.NoFinish = true
	first := newJob(t, "first", true)
	first.Program = plate.ParseRoutine(g.String())

	res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{first, newJob(t, "second", false)}, mini(t), nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Text, RoutineBeginMark)
	assert.True(t, res.Diagnostics.HasErrors())
	assert.Contains(t, res.Diagnostics.Filter(diag.Warning).Log(), "routine \"A1 mini plate swap\" not injected")
}

func TestCompile_Warnings(t *testing.T) {
	reg := printer.Default()
	a1, ok := reg.Lookup("A1")
	require.True(t, ok)

	t.Run("routine for another model", func(t *testing.T) {
		j := newJob(t, "a", false)
		j.PlateChange, _ = reg.Routine("A1")

		res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{j}, mini(t), nil)
		require.NoError(t, err)
		assert.Contains(t, res.Diagnostics.Log(), `routine "A1 plate swap" targets A1, not A1 mini`)
	})

	t.Run("sliced for another printer", func(t *testing.T) {
		res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{newJob(t, "a", false)}, a1, nil)
		require.NoError(t, err)
		assert.Contains(t, res.Diagnostics.Log(), "sliced for A1 mini, compiling for A1")
	})

	t.Run("no multi-material unit", func(t *testing.T) {
		single := mini(t)
		single.MultiMaterial = false

		res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{newJob(t, "a", false)}, single, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Diagnostics.Count(diag.Warning))
		assert.Contains(t, res.Diagnostics.Log(), "2 filaments")
	})

	t.Run("validator findings are reported", func(t *testing.T) {
		j := newJob(t, "a", false)
		j.Program = program("G1 X500")

		res, err := New(Options{Now: fixedNow}).Compile([]*plate.Job{j}, mini(t), nil)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Text)
		require.Equal(t, 1, res.Diagnostics.Count(diag.Error))
		assert.Contains(t, res.Diagnostics.Log(), "job 1 (a): X=500.000")
	})
}

func TestCompile_NoJobs(t *testing.T) {
	res, err := New(Options{}).Compile(nil, mini(t), nil)
	assert.ErrorIs(t, err, ErrNoJobs)
	assert.Empty(t, res.Text)
}

func TestCompileContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(Options{}).CompileContext(ctx, []*plate.Job{newJob(t, "a", false)}, mini(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Text)
}

func TestCompile_DoesNotMutateJobs(t *testing.T) {
	jobs := []*plate.Job{newJob(t, "a", true), newJob(t, "b", true)}
	before := append([]string(nil), jobs[0].Program.Lines()...)

	_, err := New(Options{Now: fixedNow}).Compile(jobs, mini(t), nil)
	require.NoError(t, err)

	if diff := cmp.Diff(before, jobs[0].Program.Lines()); diff != "" {
		t.Errorf("program changed (-before +after):\n%s", diff)
	}
}

func TestSplice(t *testing.T) {
	routine := &plate.PlateChangeRoutine{Name: "swap", Program: plate.NewRoutine("G28")}

	tests := []struct {
		name   string
		input  []string
		want   []string
		wantOK bool
	}{
		{
			name:   "before first finish marker",
			input:  []string{"G1 X1", platetest.FinishMarker, "M84", platetest.FinishMarker},
			want:   []string{"G1 X1", RoutineBeginMark + "swap -----", "G28", RoutineEndMark, platetest.FinishMarker, "M84", platetest.FinishMarker},
			wantOK: true,
		},
		{
			name:   "marker with surrounding spaces",
			input:  []string{"  " + platetest.FinishMarker + " "},
			want:   []string{RoutineBeginMark + "swap -----", "G28", RoutineEndMark, "  " + platetest.FinishMarker + " "},
			wantOK: true,
		},
		{
			name:  "marker with trailing text does not anchor",
			input: []string{platetest.FinishMarker + " extra"},
			want:  []string{platetest.FinishMarker + " extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Splice(plate.NewRoutine(tt.input...), routine, "  "+platetest.FinishMarker)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.Lines())
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0h 0m 0s"},
		{in: 5025 * time.Second, want: "1h 23m 45s"},
		{in: 49*time.Hour + 5*time.Second, want: "49h 0m 5s"},
		{in: 1500 * time.Millisecond, want: "0h 0m 2s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.in))
		})
	}
}
