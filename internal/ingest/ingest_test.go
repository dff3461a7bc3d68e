package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/platetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerSource(name string) Source {
	return Source{
		Name: name,
		Data: platetest.Archive(platetest.Entry{
			Name: "Metadata/plate_1.gcode",
			Data: []byte(platetest.DefaultGCode().String()),
		}),
	}
}

func TestLoad(t *testing.T) {
	headerless := platetest.DefaultGCode()
	headerless.PrinterModel = ""

	tests := []struct {
		name      string
		src       Source
		jobs      int
		hasSource bool
		errors    int
		wantDiag  string
	}{
		{
			name:      "container",
			src:       containerSource("Benchy.3mf"),
			jobs:      1,
			hasSource: true,
		},
		{
			name: "standalone program",
			src:  Source{Name: "Benchy.gcode", Data: []byte(platetest.DefaultGCode().String())},
			jobs: 1,
		},
		{
			name:     "standalone without printer",
			src:      Source{Name: "Benchy.gcode", Data: []byte(headerless.String())},
			jobs:     1,
			wantDiag: "using default printer profile",
		},
		{
			name:     "not a plate",
			src:      Source{Name: "notes.gcode", Data: []byte("G28\n")},
			errors:   1,
			wantDiag: "notes.gcode: not a sliced plate",
		},
		{
			name:     "empty",
			src:      Source{Name: "empty.gcode"},
			errors:   1,
			wantDiag: "file is empty",
		},
		{
			name:     "3mf extension but not a zip",
			src:      Source{Name: "broken.3mf", Data: []byte("garbage")},
			errors:   1,
			wantDiag: "corrupt container",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewLoader(nil).Load(tt.src)

			assert.Equal(t, tt.src.Name, res.Name)
			require.Len(t, res.Jobs, tt.jobs)
			assert.Equal(t, tt.errors, res.Diagnostics.Count(diag.Error))
			for _, d := range res.Diagnostics {
				assert.Equal(t, diag.SourceIngest, d.Source)
			}
			if tt.wantDiag != "" {
				assert.Contains(t, res.Diagnostics.Log(), tt.wantDiag)
			}
			for _, j := range res.Jobs {
				assert.Equal(t, "Benchy", j.Name)
				assert.Equal(t, tt.hasSource, j.HasSource())
				assert.NotEmpty(t, j.Filaments)
				assert.NotNil(t, j.PlateChange)
				assert.Equal(t, "A1 mini", j.Printer.Model)
			}
		})
	}
}

func TestLoadFiles(t *testing.T) {
	srcs := []Source{
		containerSource("one.3mf"),
		{Name: "bad.gcode", Data: []byte("nothing here")},
		{Name: "three.gcode", Data: []byte(platetest.DefaultGCode().String())},
		containerSource("four.3mf"),
	}

	results, err := NewLoader(nil).LoadFiles(context.Background(), srcs)
	require.NoError(t, err)
	require.Len(t, results, len(srcs))

	for i, r := range results {
		assert.Equal(t, srcs[i].Name, r.Name)
	}
	assert.Empty(t, results[1].Jobs)
	assert.True(t, results[1].Diagnostics.HasErrors())

	jobs := Jobs(results)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"one", "three", "four"}, []string{jobs[0].Name, jobs[1].Name, jobs[2].Name})
	assert.True(t, Diagnostics(results).HasErrors())
}

func TestLoadFiles_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(nil).LoadFiles(ctx, []Source{containerSource("a.3mf")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plate.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G28\n"), 0o644))

	srcs, err := ReadFiles([]string{path})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "plate.gcode", srcs[0].Name)
	assert.Equal(t, []byte("G28\n"), srcs[0].Data)

	_, err = ReadFiles([]string{filepath.Join(dir, "missing.gcode")})
	assert.Error(t, err)
}
