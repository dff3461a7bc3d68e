package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/platecompiler/internal/platetest"
	"github.com/cuongbtq/platecompiler/internal/repack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	container := filepath.Join(dir, "Benchy.3mf")
	require.NoError(t, os.WriteFile(container, platetest.Archive(platetest.Entry{
		Name: "Metadata/plate_1.gcode",
		Data: []byte(platetest.DefaultGCode().String()),
	}), 0o644))

	program := filepath.Join(dir, "Cube.gcode")
	require.NoError(t, os.WriteFile(program, []byte(platetest.DefaultGCode().String()), 0o644))

	return container, program
}

func TestInspect(t *testing.T) {
	container, program := writeFixtures(t)

	out, err := execute(t, "inspect", container, program)
	require.NoError(t, err)
	assert.Contains(t, out, "Benchy.3mf")
	assert.Contains(t, out, "Cube.gcode")
	assert.Contains(t, out, "A1 mini")
	assert.Contains(t, out, "1h 23m 45s")
	assert.Contains(t, out, "PLA,PETG")
}

func TestInspect_NoPlates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G28\n"), 0o644))

	out, err := execute(t, "inspect", path)
	assert.ErrorIs(t, err, errNoPlates)
	assert.Contains(t, out, "[error] ingest")
}

func TestCompile(t *testing.T) {
	container, program := writeFixtures(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "build", args: []string{"-p", "A1 mini"}},
		{name: "splice", args: []string{"--mode", "splice", "--routine", "A1 mini plate swap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "merged.3mf")
			args := append([]string{"compile", "-o", output}, tt.args...)
			args = append(args, container, program)

			out, err := execute(t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, "2 plates")

			data, err := os.ReadFile(output)
			require.NoError(t, err)
			_, files, err := platetest.ReadArchive(data)
			require.NoError(t, err)
			assert.Contains(t, string(files[repack.GCodePath]), "; Jobs: 2\n")
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	container, program := writeFixtures(t)
	output := filepath.Join(t.TempDir(), "merged.3mf")

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing output", args: []string{"compile", container}},
		{name: "unknown printer", args: []string{"compile", "-o", output, "-p", "X1", container}},
		{name: "unknown routine", args: []string{"compile", "-o", output, "--routine", "nope", container}},
		{name: "unknown mode", args: []string{"compile", "-o", output, "--mode", "clone", container}},
		{name: "splice from plain gcode", args: []string{"compile", "-o", output, "--mode", "splice", program, container}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
			assert.NoFileExists(t, output)
		})
	}
}

func TestPrinters(t *testing.T) {
	out, err := execute(t, "printers")
	require.NoError(t, err)
	assert.Contains(t, out, "Bambu Lab A1 mini")
	assert.Contains(t, out, "A1 mini plate swap")
	assert.Contains(t, out, "A1 plate swap")
}
