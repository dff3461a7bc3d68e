package archive

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/platetest"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelXML = `<?xml version="1.0" encoding="UTF-8"?>
<model unit="millimeter" xml:lang="en-US" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
 <metadata name="Application">BambuStudio-01.09.07.52</metadata>
 <metadata name="BambuStudio:PrinterModel">%s</metadata>
 <resources/>
 <build/>
</model>`

func plateEntry(name string, g platetest.GCode) platetest.Entry {
	return platetest.Entry{Name: name, Data: []byte(g.String())}
}

func TestExtract_PrinterIdentity(t *testing.T) {
	headerless := platetest.DefaultGCode()
	headerless.PrinterModel = ""

	tests := []struct {
		name      string
		entries   []platetest.Entry
		wantModel string
		wantInfo  string
	}{
		{
			name: "project settings win",
			entries: []platetest.Entry{
				{Name: ModelPath, Data: []byte(fmt.Sprintf(modelXML, "Bambu Lab A1 mini"))},
				{Name: ProjectSettingsPath, Data: []byte(`{"printer_model": "Bambu Lab A1", "layer_height": "0.2"}`)},
				plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
			},
			wantModel: "A1",
		},
		{
			name: "project settings id",
			entries: []platetest.Entry{
				{Name: ProjectSettingsPath, Data: []byte(`{"printer_settings_id": ["Bambu Lab A1 0.4 nozzle"]}`)},
				plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
			},
			wantModel: "A1",
		},
		{
			name: "3D model metadata",
			entries: []platetest.Entry{
				{Name: ModelPath, Data: []byte(fmt.Sprintf(modelXML, "Bambu Lab A1"))},
				plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
			},
			wantModel: "A1",
		},
		{
			name: "unknown project printer falls through",
			entries: []platetest.Entry{
				{Name: ProjectSettingsPath, Data: []byte(`{"printer_model": "Bambu Lab X1 Carbon"}`)},
				plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
			},
			wantModel: "A1 mini",
		},
		{
			name: "G-code header",
			entries: []platetest.Entry{
				plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
			},
			wantModel: "A1 mini",
		},
		{
			name: "default profile",
			entries: []platetest.Entry{
				plateEntry("Metadata/plate_1.gcode", headerless),
			},
			wantModel: "A1 mini",
			wantInfo:  "printer not identified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewExtractor(nil).Extract(platetest.Archive(tt.entries...))
			require.Len(t, res.Jobs, 1, res.Diagnostics.Log())

			job := res.Jobs[0]
			assert.Equal(t, tt.wantModel, job.Printer.Model)
			require.NotNil(t, job.PlateChange)
			assert.Equal(t, tt.wantModel, job.PlateChange.Model)
			assert.False(t, res.Diagnostics.HasErrors())
			if tt.wantInfo != "" {
				assert.Contains(t, res.Diagnostics.Filter(diag.Info).Log(), tt.wantInfo)
			}
		})
	}
}

func TestExtract_Job(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	data := platetest.Archive(
		platetest.Entry{Name: "[Content_Types].xml", Data: []byte("<Types/>")},
		plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
		platetest.Entry{Name: "Metadata/plate_1.gcode.md5", Data: []byte("abc")},
		platetest.Entry{Name: "Metadata/plate_1.png", Data: png, Store: true},
	)

	res := NewExtractor(nil).ExtractNamed("Benchy.gcode.3mf", data)
	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "Benchy", job.Name)
	assert.Len(t, job.Filaments, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), job.Thumbnail)
	assert.Equal(t, platetest.DefaultGCode().String(), job.Program.String())

	require.True(t, job.HasSource())
	assert.Equal(t, "Metadata/plate_1.gcode", job.Source.Entry)
	assert.Equal(t, data, job.Source.Bytes)
}

func TestExtract_InlineThumbnail(t *testing.T) {
	res := NewExtractor(nil).Extract(platetest.Archive(
		plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
		platetest.Entry{Name: "Metadata/plate_2.png", Data: []byte("other plate")},
	))
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, "iVBORw0KGgoAAAANSUhEUg", res.Jobs[0].Thumbnail)
	assert.Equal(t, "plate_1", res.Jobs[0].Name)
}

func TestExtract_MultiplePlates(t *testing.T) {
	data := platetest.Archive(
		plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode()),
		plateEntry("Metadata/plate_2.GCODE", platetest.DefaultGCode()),
	)

	res := NewExtractor(nil).ExtractNamed("Set.3mf", data)
	require.Len(t, res.Jobs, 2)

	assert.Equal(t, "Set - plate_1", res.Jobs[0].Name)
	assert.Equal(t, "Set - plate_2", res.Jobs[1].Name)
	assert.NotEqual(t, res.Jobs[0].ID, res.Jobs[1].ID)
	assert.Same(t, &res.Jobs[0].Source.Bytes[0], &res.Jobs[1].Source.Bytes[0])
	assert.Same(t, res.Jobs[0].PlateChange, res.Jobs[1].PlateChange)
}

func TestExtract_BadEntryDoesNotAbortSiblings(t *testing.T) {
	data := platetest.Archive(
		platetest.Entry{Name: "Metadata/plate_1.gcode", Data: []byte("G28\nG1 X10\n")},
		plateEntry("Metadata/plate_2.gcode", platetest.DefaultGCode()),
	)

	res := NewExtractor(nil).Extract(data)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, "plate_2", res.Jobs[0].Name)

	errs := res.Diagnostics.Filter(diag.Error)
	require.Len(t, errs, 1)
	assert.Equal(t, diag.SourceExtractor, errs[0].Source)
	assert.Contains(t, errs[0].Message, "Metadata/plate_1.gcode: ")
	assert.Contains(t, res.Diagnostics.Filter(diag.Warning).Log(), "Metadata/plate_1.gcode: skipped")
}

func TestExtract_ContainerFailures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "corrupt", data: []byte("PK\x03\x04 not really a zip"), want: "corrupt container"},
		{name: "empty", data: nil, want: "corrupt container"},
		{
			name: "no programs",
			data: platetest.Archive(platetest.Entry{Name: "3D/3dmodel.model", Data: []byte("<model/>")}),
			want: "no .gcode entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewExtractor(nil).Extract(tt.data)
			assert.Empty(t, res.Jobs)
			require.Len(t, res.Diagnostics, 1)
			assert.Equal(t, diag.Error, res.Diagnostics[0].Severity)
			assert.Contains(t, res.Diagnostics[0].Message, tt.want)
		})
	}
}

func TestExtract_NoDefaultRoutine(t *testing.T) {
	catalog := `
printers:
  - name: Bench printer
    model: A1 mini
    printable: { min_x: 0, max_x: 180, min_y: 0, max_y: 180, min_z: 0, max_z: 180 }
    extended: { min_x: -20, max_x: 200, min_y: -10, max_y: 190, min_z: -2, max_z: 185 }
    finish_marker: "; EXECUTABLE_BLOCK_END"
    max_nozzle_temp: 300
    max_bed_temp: 80
`
	reg, err := printer.Parse([]byte(catalog), nil)
	require.NoError(t, err)

	res := NewExtractor(reg).Extract(platetest.Archive(plateEntry("Metadata/plate_1.gcode", platetest.DefaultGCode())))
	require.Len(t, res.Jobs, 1)
	assert.Nil(t, res.Jobs[0].PlateChange)
	assert.Contains(t, res.Diagnostics.Filter(diag.Info).Log(), "no default plate-change routine")
}
